package identity

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegistration           = "registration"
	auditEventRegistrationDuplicate  = "registration_duplicate"
	auditEventRegistrationThrottled  = "registration_rate_limited"
	auditEventEmailConfirmRequest    = "email_confirmation_request"
	auditEventEmailConfirmSuccess    = "email_confirmation_success"
	auditEventEmailConfirmFailure    = "email_confirmation_failure"
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventMFARequired            = "mfa_required"
	auditEventMFASuccess             = "mfa_success"
	auditEventMFAFailure             = "mfa_failure"
	auditEventMFASettingsChanged     = "mfa_settings_changed"
	auditEventTOTPEnrolled           = "totp_enrolled"
	auditEventTOTPFailure            = "totp_failure"
	auditEventTOTPReplay             = "totp_replay"
	auditEventWebAuthnRegisterBegin  = "webauthn_register_begin"
	auditEventWebAuthnRegisterDone   = "webauthn_register_complete"
	auditEventWebAuthnRegisterFailed = "webauthn_register_failure"
	auditEventWebAuthnLoginBegin     = "webauthn_login_begin"
	auditEventWebAuthnLoginSuccess   = "webauthn_login_success"
	auditEventWebAuthnLoginFailure   = "webauthn_login_failure"
	auditEventWebAuthnReplay         = "webauthn_replay_detected"
	auditEventRecoveryEnrolled       = "recovery_keys_enrolled"
	auditEventRecoveryInitiated      = "recovery_initiated"
	auditEventRecoverySuccess        = "recovery_success"
	auditEventRecoveryFailure        = "recovery_failure"
	auditEventPINVerified            = "security_pin_verified"
	auditEventPINFailure             = "security_pin_failure"
	auditEventMagicLinkRequested     = "magic_link_requested"
	auditEventMagicLinkRedeemed      = "magic_link_redeemed"
	auditEventMagicLinkFailure       = "magic_link_failure"
	auditEventResetRequested         = "password_reset_requested"
	auditEventResetCompleted         = "password_reset_completed"
	auditEventResetFailure           = "password_reset_failure"
)

// AuditErrorCode defines a public type used by identity APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidCode        AuditErrorCode = "invalid_or_expired_code"
	auditErrTOTPInvalid        AuditErrorCode = "totp_invalid"
	auditErrChallengeMismatch  AuditErrorCode = "challenge_mismatch"
	auditErrAttestationInvalid AuditErrorCode = "attestation_invalid"
	auditErrSignatureInvalid   AuditErrorCode = "signature_invalid"
	auditErrReplay             AuditErrorCode = "replay_detected"
	auditErrRecoveryToken      AuditErrorCode = "recovery_token_invalid"
	auditErrDecryption         AuditErrorCode = "decryption_failed"
	auditErrResetToken         AuditErrorCode = "reset_token_invalid"
	auditErrConfirmation       AuditErrorCode = "confirmation_invalid"
	auditErrMagicLink          AuditErrorCode = "magic_link_invalid"
	auditErrPIN                AuditErrorCode = "pin_invalid"
	auditErrSessionToken       AuditErrorCode = "session_token_invalid"
	auditErrWeakPassword       AuditErrorCode = "weak_password"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrNotEnrolled        AuditErrorCode = "not_enrolled"
	auditErrUnsupportedMethod  AuditErrorCode = "unsupported_mfa_method"
	auditErrMethodAlreadySet   AuditErrorCode = "mfa_method_already_set"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrDelivery           AuditErrorCode = "delivery_failed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrTOTPInvalid):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrChallengeMismatch):
		return auditErrChallengeMismatch
	case errors.Is(err, ErrAttestationInvalid):
		return auditErrAttestationInvalid
	case errors.Is(err, ErrSignatureInvalid):
		return auditErrSignatureInvalid
	case errors.Is(err, ErrReplayDetected):
		return auditErrReplay
	case errors.Is(err, ErrRecoveryTokenInvalid):
		return auditErrRecoveryToken
	case errors.Is(err, ErrDecryptionFailed):
		return auditErrDecryption
	case errors.Is(err, ErrResetTokenInvalid):
		return auditErrResetToken
	case errors.Is(err, ErrConfirmationInvalid):
		return auditErrConfirmation
	case errors.Is(err, ErrMagicLinkInvalid):
		return auditErrMagicLink
	case errors.Is(err, ErrPINInvalid):
		return auditErrPIN
	case errors.Is(err, ErrSessionTokenInvalid),
		errors.Is(err, ErrSessionTokenExpired):
		return auditErrSessionToken
	case errors.Is(err, ErrWeakPassword):
		return auditErrWeakPassword
	case errors.Is(err, ErrDuplicateEmail):
		return auditErrDuplicate
	case errors.Is(err, ErrNotEnrolled):
		return auditErrNotEnrolled
	case errors.Is(err, ErrUnsupportedMFAMethod):
		return auditErrUnsupportedMethod
	case errors.Is(err, ErrMFAMethodAlreadySet):
		return auditErrMethodAlreadySet
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRegistrationRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDelivery
	case errors.Is(err, ErrSystemUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
