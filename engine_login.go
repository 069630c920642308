package identity

import (
	"context"
	"errors"
	"fmt"
)

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	normalized := normalizeEmail(email)
	if err := e.loginLimiter.Enforce(ctx, normalized, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, ErrLoginRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", err, nil)
		}
		return nil, err
	}

	record, err := e.lookupByEmail(ctx, normalized, ErrInvalidCredentials)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.loginFailed(ctx, "", ErrInvalidCredentials)
		}
		return nil, err
	}

	ok, err := e.passwordHash.Verify(pw, record.PasswordHash)
	if err != nil || !ok {
		e.loginFailed(ctx, record.UserID, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	if !record.EmailConfirmed {
		e.loginFailed(ctx, record.UserID, ErrConfirmationInvalid)
		return nil, ErrConfirmationInvalid
	}

	if !record.MFAEnabled {
		tok, err := e.tokens.IssueSession(record.UserID)
		if err != nil {
			return nil, fmt.Errorf("issue session: %w", err)
		}
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, record.UserID, nil, nil)
		return &LoginResult{Token: tok}, nil
	}

	result := &LoginResult{
		MFARequired: true,
		MFAMethod:   record.MFAMethod,
	}

	switch record.MFAMethod {
	case MFAEmail:
		if err := e.issueOTPChallenge(ctx, record, ChannelEmail); err != nil {
			return nil, err
		}
	case MFASMS:
		if err := e.issueOTPChallenge(ctx, record, ChannelSMS); err != nil {
			return nil, err
		}
	case MFATOTP:
		// Nothing to deliver: the client reads the code from its
		// authenticator app and calls ConfirmMFA.
	case MFAWebAuthn:
		options, err := e.beginWebAuthnLogin(ctx, record)
		if err != nil {
			return nil, err
		}
		result.WebAuthnOptions = options
	default:
		return nil, ErrUnsupportedMFAMethod
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, record.UserID, nil, func() map[string]string {
		return map[string]string{
			"method": record.MFAMethod.String(),
		}
	})

	return result, nil
}

// ConfirmMFA completes the second step of a login for the code-based
// factors (email, SMS, TOTP). WebAuthn logins complete through
// [Engine.FinishWebAuthnLogin] instead.
func (e *Engine) ConfirmMFA(ctx context.Context, email, code string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	record, err := e.lookupByEmail(ctx, email, ErrInvalidOrExpiredCode)
	if err != nil {
		return "", err
	}

	if !record.MFAEnabled {
		return "", ErrMFANotRequired
	}

	switch record.MFAMethod {
	case MFAEmail, MFASMS:
		err = e.verifyOTPChallenge(ctx, record, code)
	case MFATOTP:
		err = e.verifyTOTPCode(ctx, record, code)
	default:
		err = ErrUnsupportedMFAMethod
	}
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, record.UserID, err, nil)
		return "", err
	}

	tok, err := e.tokens.IssueSession(record.UserID)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, record.UserID, nil, func() map[string]string {
		return map[string]string{
			"method": record.MFAMethod.String(),
		}
	})

	return tok, nil
}

// UpdateMFASettings enables, switches, or disables the account's second
// factor. At most one method is active; switching requires disabling the
// current method first. Enabling TOTP demands a fresh code as proof of
// enrollment; enabling WebAuthn accepts an optional security PIN that
// gates recovery.
func (e *Engine) UpdateMFASettings(ctx context.Context, userID string, settings MFASettings) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByID(ctx, userID, ErrRecordNotFound)
	if err != nil {
		return err
	}

	if !settings.Enabled {
		record.MFAEnabled = false
		record.MFAMethod = MFANone
		record.Pending = nil
		return e.saveMFASettings(ctx, record)
	}

	if record.MFAEnabled && record.MFAMethod != settings.Method {
		return ErrMFAMethodAlreadySet
	}

	switch settings.Method {
	case MFAEmail:
		// Email is always present on a record.
	case MFASMS:
		if record.Phone == "" {
			return ErrNotEnrolled
		}
	case MFATOTP:
		if record.TOTPSecret == "" {
			return ErrNotEnrolled
		}
		if err := e.verifyTOTPCode(ctx, record, settings.TOTPCode); err != nil {
			return err
		}
	case MFAWebAuthn:
		if len(record.WebAuthnCredential) == 0 {
			return ErrNotEnrolled
		}
		if settings.SecurityPIN != "" {
			pinHash, err := e.passwordHash.Hash(settings.SecurityPIN)
			if err != nil {
				return fmt.Errorf("hash pin: %w", err)
			}
			record.SecurityPINHash = pinHash
		}
	default:
		return ErrUnsupportedMFAMethod
	}

	record.MFAEnabled = true
	record.MFAMethod = settings.Method
	return e.saveMFASettings(ctx, record)
}

func (e *Engine) saveMFASettings(ctx context.Context, record *CredentialRecord) error {
	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	e.emitAudit(ctx, auditEventMFASettingsChanged, true, record.UserID, nil, func() map[string]string {
		return map[string]string{
			"enabled": fmt.Sprintf("%t", record.MFAEnabled),
			"method":  record.MFAMethod.String(),
		}
	})
	return nil
}

func (e *Engine) loginFailed(ctx context.Context, userID string, cause error) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, cause, nil)
}
