package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safepassvault/identity/internal"
	"github.com/safepassvault/identity/password"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, errors.New("email required")
	}

	if err := e.registrationLimiter.Enforce(ctx, email, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, ErrRegistrationRateLimited) {
			e.metricInc(MetricRegistrationRateLimited)
			e.emitAudit(ctx, auditEventRegistrationThrottled, false, "", err, nil)
		}
		return nil, err
	}

	if err := password.CheckPolicy(req.Password); err != nil {
		e.emitAudit(ctx, auditEventRegistration, false, "", ErrWeakPassword, nil)
		return nil, ErrWeakPassword
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := &CredentialRecord{
		UserID:                uuid.NewString(),
		Email:                 email,
		Name:                  strings.TrimSpace(req.Name),
		Phone:                 strings.TrimSpace(req.Phone),
		PasswordHash:          hash,
		ConfirmationCodeHash:  internal.HashSecret(code),
		ConfirmationExpiresAt: now.Add(e.config.Confirmation.CodeTTL).Unix(),
	}

	if err := e.store.Create(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricRegistrationDuplicate)
			e.emitAudit(ctx, auditEventRegistrationDuplicate, false, "", err, nil)
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	if err := e.sendConfirmationCode(ctx, record, code); err != nil {
		// The account exists; the caller can request a fresh code.
		e.warn("confirmation delivery failed for %s: %v", record.UserID, err)
		return &RegisterResult{UserID: record.UserID}, ErrDeliveryFailed
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEventRegistration, true, record.UserID, nil, nil)

	return &RegisterResult{UserID: record.UserID}, nil
}

// ConfirmEmail describes the confirmemail operation and its observable behavior.
//
// ConfirmEmail may return an error when input validation, dependency calls, or security checks fail.
// ConfirmEmail does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmEmail(ctx context.Context, email, code string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrConfirmationInvalid)
	if err != nil {
		return "", err
	}

	if record.EmailConfirmed ||
		record.ConfirmationExpiresAt == 0 ||
		time.Now().Unix() > record.ConfirmationExpiresAt {
		e.emitAudit(ctx, auditEventEmailConfirmFailure, false, record.UserID, ErrConfirmationInvalid, nil)
		return "", ErrConfirmationInvalid
	}

	if !internal.SecretMatches(record.ConfirmationCodeHash, code) {
		record.ConfirmationGuesses++
		if record.ConfirmationGuesses >= e.config.Security.MaxChallengeGuesses {
			record.ConfirmationCodeHash = [32]byte{}
			record.ConfirmationExpiresAt = 0
		}
		if err := e.store.Update(ctx, record); err != nil && !errors.Is(err, ErrVersionConflict) {
			e.warn("recording failed guess for %s: %v", record.UserID, err)
		}
		e.emitAudit(ctx, auditEventEmailConfirmFailure, false, record.UserID, ErrConfirmationInvalid, nil)
		return "", ErrConfirmationInvalid
	}

	record.EmailConfirmed = true
	record.ConfirmationCodeHash = [32]byte{}
	record.ConfirmationExpiresAt = 0
	record.ConfirmationGuesses = 0

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return "", ErrConfirmationInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	tok, err := e.tokens.IssueSession(record.UserID)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}

	e.metricInc(MetricEmailConfirmed)
	e.emitAudit(ctx, auditEventEmailConfirmSuccess, true, record.UserID, nil, nil)

	return tok, nil
}

// ResendConfirmationCode describes the resendconfirmationcode operation and its observable behavior.
//
// ResendConfirmationCode may return an error when input validation, dependency calls, or security checks fail.
// ResendConfirmationCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResendConfirmationCode(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrConfirmationInvalid)
	if err != nil {
		return err
	}
	if record.EmailConfirmed {
		return ErrConfirmationInvalid
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return err
	}

	record.ConfirmationCodeHash = internal.HashSecret(code)
	record.ConfirmationExpiresAt = time.Now().Add(e.config.Confirmation.CodeTTL).Unix()
	record.ConfirmationGuesses = 0

	if err := e.store.Update(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	if err := e.sendConfirmationCode(ctx, record, code); err != nil {
		return ErrDeliveryFailed
	}

	e.emitAudit(ctx, auditEventEmailConfirmRequest, true, record.UserID, nil, nil)
	return nil
}

func (e *Engine) sendConfirmationCode(ctx context.Context, record *CredentialRecord, code string) error {
	return e.notifier.Send(ctx, ChannelEmail, record.Email, Notification{
		Subject: "Confirm your SafePassVault account",
		Body:    fmt.Sprintf("Your confirmation code is %s. It expires in %d minutes.", code, int(e.config.Confirmation.CodeTTL.Minutes())),
	})
}

// lookupByEmail fetches a record and maps a miss onto the flow-specific
// sentinel so absence is indistinguishable from a failed check.
func (e *Engine) lookupByEmail(ctx context.Context, email string, missErr error) (*CredentialRecord, error) {
	record, err := e.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, missErr
		}
		return nil, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return record, nil
}

func (e *Engine) lookupByID(ctx context.Context, userID string, missErr error) (*CredentialRecord, error) {
	record, err := e.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, missErr
		}
		return nil, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return record, nil
}
