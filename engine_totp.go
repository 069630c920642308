package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// EnrollTOTP generates a fresh shared secret for the account and returns
// it with its otpauth:// provisioning URI. Enrollment alone does not turn
// the factor on; [Engine.UpdateMFASettings] activates it once the caller
// proves possession with a valid code.
func (e *Engine) EnrollTOTP(ctx context.Context, userID string) (*TOTPEnrollment, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.lookupByID(ctx, userID, ErrRecordNotFound)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TOTP.Issuer,
		AccountName: record.Email,
		Period:      uint(e.config.TOTP.Period),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("totp generate: %w", err)
	}

	record.TOTPSecret = key.Secret()
	record.TOTPLastUsedStep = 0

	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPEnrolled, true, record.UserID, nil, nil)

	return &TOTPEnrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// VerifyTOTP checks a code against the account's enrolled secret without
// issuing a session. Used to confirm enrollment from settings screens.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.lookupByID(ctx, userID, ErrRecordNotFound)
	if err != nil {
		return err
	}
	return e.verifyTOTPCode(ctx, record, code)
}

// verifyTOTPCode validates a code inside the configured skew window and,
// when replay protection is on, refuses any step at or below the last
// accepted one. The accepted step is persisted through the record's
// versioned write, so two concurrent presentations of the same code
// cannot both succeed.
func (e *Engine) verifyTOTPCode(ctx context.Context, record *CredentialRecord, code string) error {
	if record.TOTPSecret == "" {
		return ErrNotEnrolled
	}
	if code == "" {
		return ErrTOTPInvalid
	}

	period := int64(e.config.TOTP.Period)
	now := time.Now()
	matched := int64(-1)

	for offset := -int64(e.config.TOTP.Skew); offset <= int64(e.config.TOTP.Skew); offset++ {
		at := now.Add(time.Duration(offset*period) * time.Second)
		expected, err := totp.GenerateCodeCustom(record.TOTPSecret, at, totp.ValidateOpts{
			Period:    uint(e.config.TOTP.Period),
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return fmt.Errorf("totp compute: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			matched = at.Unix() / period
			break
		}
	}

	if matched < 0 {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, record.UserID, ErrTOTPInvalid, nil)
		return ErrTOTPInvalid
	}

	if !e.config.TOTP.EnforceReplayProtection {
		e.metricInc(MetricTOTPSuccess)
		return nil
	}

	if matched <= record.TOTPLastUsedStep {
		e.metricInc(MetricTOTPReplay)
		e.emitAudit(ctx, auditEventTOTPReplay, false, record.UserID, ErrReplayDetected, nil)
		return ErrReplayDetected
	}

	record.TOTPLastUsedStep = matched
	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrReplayDetected
		}
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	e.metricInc(MetricTOTPSuccess)
	return nil
}
