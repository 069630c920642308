package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/safepassvault/identity/internal"
	"github.com/safepassvault/identity/password"
)

// InitiatePasswordReset issues a short-lived reset token and mails it to
// the account. Only the token's digest is stored. Unknown addresses are
// treated as success so the operation does not reveal which emails have
// accounts.
func (e *Engine) InitiatePasswordReset(ctx context.Context, email string) error {
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

	record.ResetTokenHash = internal.HashSecret(tokenStr)
	record.ResetTokenExpiry = time.Now().Add(e.config.PasswordReset.TokenTTL).Unix()

	if err := e.store.Update(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	link := tokenStr
	if e.config.PasswordReset.BaseURL != "" {
		link = e.config.PasswordReset.BaseURL + "?token=" + url.QueryEscape(tokenStr)
	}

	err = e.notifier.Send(ctx, ChannelEmail, record.Email, Notification{
		Subject: "Reset your SafePassVault password",
		Body:    fmt.Sprintf("Reset your password here: %s\nThe link expires in %d minutes.", link, int(e.config.PasswordReset.TokenTTL.Minutes())),
	})
	if err != nil {
		return ErrDeliveryFailed
	}

	e.metricInc(MetricPasswordResetRequested)
	e.emitAudit(ctx, auditEventResetRequested, true, record.UserID, nil, nil)
	return nil
}

// VerifyResetToken reports whether a reset token is currently valid for
// the account without consuming it. Reset UIs call this before showing
// the new-password form.
func (e *Engine) VerifyResetToken(ctx context.Context, email, tokenStr string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrResetTokenInvalid)
	if err != nil {
		return err
	}

	if !resetTokenLive(record, tokenStr) {
		return ErrResetTokenInvalid
	}
	return nil
}

// ChangePassword consumes a valid reset token and replaces the account
// password. The token is single-use: it is cleared in the same versioned
// write that lands the new hash.
func (e *Engine) ChangePassword(ctx context.Context, email, tokenStr, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrResetTokenInvalid)
	if err != nil {
		return err
	}

	if !resetTokenLive(record, tokenStr) {
		e.resetFailed(ctx, record.UserID, ErrResetTokenInvalid)
		return ErrResetTokenInvalid
	}

	if err := password.CheckPolicy(newPassword); err != nil {
		return ErrWeakPassword
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	record.PasswordHash = hash
	record.ResetTokenHash = [32]byte{}
	record.ResetTokenExpiry = 0

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			e.resetFailed(ctx, record.UserID, ErrResetTokenInvalid)
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	e.metricInc(MetricPasswordResetCompleted)
	e.emitAudit(ctx, auditEventResetCompleted, true, record.UserID, nil, nil)
	return nil
}

func resetTokenLive(record *CredentialRecord, tokenStr string) bool {
	return record.ResetTokenExpiry != 0 &&
		time.Now().Unix() <= record.ResetTokenExpiry &&
		internal.SecretMatches(record.ResetTokenHash, tokenStr)
}

func (e *Engine) resetFailed(ctx context.Context, userID string, cause error) {
	e.emitAudit(ctx, auditEventResetFailure, false, userID, cause, nil)
}
