// Package internal holds the randomness and digest helpers shared by the
// identity flows. Everything here draws from crypto/rand; no math/rand
// fallback exists on purpose.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

var digitAlphabet = []byte("0123456789")

// NewOTP returns a numeric one-time code of the requested length. The
// first digit may be zero; codes are compared by hash, not by value.
func NewOTP(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("otp length must be positive, got %d", digits)
	}
	out := make([]byte, digits)
	max := big.NewInt(int64(len(digitAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("otp generation: %w", err)
		}
		out[i] = digitAlphabet[n.Int64()]
	}
	return string(out), nil
}

// NewToken returns a 64-character hex token backed by 32 bytes of entropy.
// Used for recovery and password-reset links.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret is the canonical digest for stored one-time secrets. Only
// the digest is ever persisted.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// SecretMatches compares a presented secret against a stored digest in
// constant time.
func SecretMatches(stored [32]byte, presented string) bool {
	h := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(stored[:], h[:]) == 1
}
