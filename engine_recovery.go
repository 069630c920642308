package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safepassvault/identity/escrow"
	"github.com/safepassvault/identity/internal"
)

// EnrollRecoveryKeys seals the vault passphrase under a fresh RSA
// keypair. The public key and the sealed material are stored; the
// private key is returned to the caller exactly once and never
// persisted. Re-enrolling replaces any previous escrow material.
func (e *Engine) EnrollRecoveryKeys(ctx context.Context, userID, passphrase string) (*RecoveryEnrollment, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.lookupByID(ctx, userID, ErrRecordNotFound)
	if err != nil {
		return nil, err
	}

	pair, envelope, err := escrow.Seal(passphrase, e.config.Recovery.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("seal passphrase: %w", err)
	}

	record.PublicKeyPEM = pair.PublicKeyPEM
	record.EncryptedPassphrase = envelope.Ciphertext
	record.PassphraseSignature = envelope.Signature

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	e.emitAudit(ctx, auditEventRecoveryEnrolled, true, record.UserID, nil, nil)

	return &RecoveryEnrollment{
		PublicKeyPEM:  pair.PublicKeyPEM,
		PrivateKeyPEM: pair.PrivateKeyPEM,
	}, nil
}

// InitiateRecovery issues a short-lived recovery token and delivers it by
// email. Only the token's digest is stored, and the token never appears
// in a return value. Unknown addresses are treated as success so the
// operation does not reveal which emails have accounts.
func (e *Engine) InitiateRecovery(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, nil)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	tokenStr, err := internal.NewToken()
	if err != nil {
		return err
	}

	record.RecoveryTokenHash = internal.HashSecret(tokenStr)
	record.RecoveryTokenExpiry = time.Now().Add(e.config.Recovery.TokenTTL).Unix()
	record.RecoveryGuesses = 0

	if err := e.store.Update(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	err = e.notifier.Send(ctx, ChannelEmail, record.Email, Notification{
		Subject: "SafePassVault account recovery",
		Body: fmt.Sprintf(
			"Your recovery token is %s. It expires in %d minutes. If you did not request recovery, ignore this message.",
			tokenStr, int(e.config.Recovery.TokenTTL.Minutes()),
		),
	})
	if err != nil {
		return ErrDeliveryFailed
	}

	e.metricInc(MetricRecoveryInitiated)
	e.emitAudit(ctx, auditEventRecoveryInitiated, true, record.UserID, nil, nil)
	return nil
}

// VerifyRecovery consumes the recovery token and opens the escrow
// envelope stored at enrollment with the presented private key, returning
// the recovered vault passphrase. Callers never supply ciphertext: the
// engine only ever decrypts its own sealed material, so the flow cannot
// be used as a decryption oracle for arbitrary blobs. The token is burned
// before decryption is attempted, so a second call with the same token
// fails even if the first decryption did not succeed.
func (e *Engine) VerifyRecovery(ctx context.Context, email, tokenStr, privateKeyPEM string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrRecoveryTokenInvalid)
	if err != nil {
		return "", err
	}

	if record.RecoveryTokenExpiry == 0 ||
		time.Now().Unix() > record.RecoveryTokenExpiry {
		e.recoveryFailed(ctx, record.UserID, ErrRecoveryTokenInvalid)
		return "", ErrRecoveryTokenInvalid
	}

	if !internal.SecretMatches(record.RecoveryTokenHash, tokenStr) {
		record.RecoveryGuesses++
		if record.RecoveryGuesses >= e.config.Security.MaxChallengeGuesses {
			record.RecoveryTokenHash = [32]byte{}
			record.RecoveryTokenExpiry = 0
		}
		if err := e.store.Update(ctx, record); err != nil && !errors.Is(err, ErrVersionConflict) {
			e.warn("recording failed guess for %s: %v", record.UserID, err)
		}
		e.recoveryFailed(ctx, record.UserID, ErrRecoveryTokenInvalid)
		return "", ErrRecoveryTokenInvalid
	}

	record.RecoveryTokenHash = [32]byte{}
	record.RecoveryTokenExpiry = 0
	record.RecoveryGuesses = 0

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Another verification consumed the token first.
			e.recoveryFailed(ctx, record.UserID, ErrRecoveryTokenInvalid)
			return "", ErrRecoveryTokenInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	passphrase, err := escrow.Open(privateKeyPEM, &escrow.Envelope{
		Ciphertext: record.EncryptedPassphrase,
		Signature:  record.PassphraseSignature,
	}, record.PublicKeyPEM)
	if err != nil {
		mapped := ErrDecryptionFailed
		if errors.Is(err, escrow.ErrSignatureInvalid) {
			mapped = ErrSignatureInvalid
		}
		e.recoveryFailed(ctx, record.UserID, mapped)
		return "", mapped
	}

	e.metricInc(MetricRecoverySuccess)
	e.emitAudit(ctx, auditEventRecoverySuccess, true, record.UserID, nil, nil)
	return passphrase, nil
}

// VerifySecurityPin checks the extra recovery gate armed for WebAuthn
// accounts.
func (e *Engine) VerifySecurityPin(ctx context.Context, userID, pin string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByID(ctx, userID, ErrRecordNotFound)
	if err != nil {
		return err
	}
	if record.SecurityPINHash == "" {
		return ErrNotEnrolled
	}

	ok, err := e.passwordHash.Verify(pin, record.SecurityPINHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPINFailure, false, record.UserID, ErrPINInvalid, nil)
		return ErrPINInvalid
	}

	e.emitAudit(ctx, auditEventPINVerified, true, record.UserID, nil, nil)
	return nil
}

func (e *Engine) recoveryFailed(ctx context.Context, userID string, cause error) {
	e.metricInc(MetricRecoveryFailure)
	e.emitAudit(ctx, auditEventRecoveryFailure, false, userID, cause, nil)
}
