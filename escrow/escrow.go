// Package escrow implements the RSA key-escrow scheme backing account
// recovery. At enrollment a fresh keypair is generated; the vault
// passphrase is encrypted under the public key (OAEP-SHA256) and signed
// with the private key (PSS-SHA256) so that later recovery can both
// recover the passphrase and prove the presented key matches the
// enrolled identity. Only the public half and the sealed material are
// ever stored.
package escrow

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const minKeyBits = 2048

// Sentinel errors for the two distinct failure points of Open. A caller
// that must not leak which check failed can collapse them; they stay
// separate here so audit records the precise kind.
var (
	ErrDecryptionFailed = errors.New("escrow: passphrase decryption failed")
	ErrSignatureInvalid = errors.New("escrow: passphrase signature invalid")
	ErrMalformedKey     = errors.New("escrow: malformed key material")
)

const (
	pemTypePrivate = "PRIVATE KEY"
	pemTypePublic  = "PUBLIC KEY"
)

// KeyPair holds the PEM encodings of a freshly generated escrow keypair.
// The private half exists only in memory; persisting it defeats the
// scheme.
type KeyPair struct {
	PublicKeyPEM  string
	PrivateKeyPEM string
}

// Envelope is the sealed material stored alongside the public key.
type Envelope struct {
	Ciphertext []byte
	Signature  []byte
}

// Seal generates a keypair of the given modulus size, encrypts the
// passphrase under the public key, and signs the plaintext passphrase
// with the private key.
func Seal(passphrase string, bits int) (*KeyPair, *Envelope, error) {
	if passphrase == "" {
		return nil, nil, errors.New("escrow: passphrase must not be empty")
	}
	if bits < minKeyBits {
		return nil, nil, fmt.Errorf("escrow: key modulus must be at least %d bits", minKeyBits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow: key generation: %w", err)
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, []byte(passphrase), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow: encrypt: %w", err)
	}

	digest := sha256.Sum256([]byte(passphrase))
	signature, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("escrow: sign: %w", err)
	}

	pair, err := encodeKeyPair(key)
	if err != nil {
		return nil, nil, err
	}

	return pair, &Envelope{Ciphertext: ciphertext, Signature: signature}, nil
}

// Open decrypts the sealed passphrase with the presented private key and
// verifies the stored signature against the enrolled public key. Both
// checks must pass; a decryption that yields a plaintext whose signature
// does not verify is rejected, never returned.
func Open(privateKeyPEM string, envelope *Envelope, publicKeyPEM string) (string, error) {
	if envelope == nil || len(envelope.Ciphertext) == 0 {
		return "", ErrDecryptionFailed
	}

	priv, err := decodePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, priv, envelope.Ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	pub, err := decodePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(plaintext)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], envelope.Signature, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	}); err != nil {
		return "", ErrSignatureInvalid
	}

	return string(plaintext), nil
}

func encodeKeyPair(key *rsa.PrivateKey) (*KeyPair, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("escrow: encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("escrow: encode public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: privDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: pubDER})),
	}, nil
}

func decodePrivateKey(privateKeyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil || block.Type != pemTypePrivate {
		return nil, ErrMalformedKey
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrMalformedKey
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrMalformedKey
	}
	return priv, nil
}

func decodePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil || block.Type != pemTypePublic {
		return nil, ErrMalformedKey
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, ErrMalformedKey
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrMalformedKey
	}
	return pub, nil
}
