package identity

import (
	"errors"
	"fmt"
)

// ErrAuthenticationFailed is the generic class wrapped by every
// credential-verification failure. Callers that must not reveal which
// sub-check failed can match on this error alone; the precise kind is
// still recorded in the audit stream.
var ErrAuthenticationFailed = errors.New("authentication failed")

var (
	// ErrInvalidCredentials is an exported constant or variable used by the identity engine.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthenticationFailed)
	// ErrInvalidOrExpiredCode is an exported constant or variable used by the identity engine.
	ErrInvalidOrExpiredCode = fmt.Errorf("%w: invalid or expired code", ErrAuthenticationFailed)
	// ErrTOTPInvalid is an exported constant or variable used by the identity engine.
	ErrTOTPInvalid = fmt.Errorf("%w: invalid totp code", ErrAuthenticationFailed)
	// ErrChallengeMismatch is an exported constant or variable used by the identity engine.
	ErrChallengeMismatch = fmt.Errorf("%w: webauthn challenge mismatch", ErrAuthenticationFailed)
	// ErrAttestationInvalid is an exported constant or variable used by the identity engine.
	ErrAttestationInvalid = fmt.Errorf("%w: webauthn attestation invalid", ErrAuthenticationFailed)
	// ErrSignatureInvalid is an exported constant or variable used by the identity engine.
	ErrSignatureInvalid = fmt.Errorf("%w: signature invalid", ErrAuthenticationFailed)
	// ErrReplayDetected is an exported constant or variable used by the identity engine.
	ErrReplayDetected = fmt.Errorf("%w: replay detected", ErrAuthenticationFailed)
	// ErrRecoveryTokenInvalid is an exported constant or variable used by the identity engine.
	ErrRecoveryTokenInvalid = fmt.Errorf("%w: recovery token invalid or expired", ErrAuthenticationFailed)
	// ErrDecryptionFailed is an exported constant or variable used by the identity engine.
	ErrDecryptionFailed = fmt.Errorf("%w: passphrase decryption failed", ErrAuthenticationFailed)
	// ErrResetTokenInvalid is an exported constant or variable used by the identity engine.
	ErrResetTokenInvalid = fmt.Errorf("%w: reset token invalid or expired", ErrAuthenticationFailed)
	// ErrConfirmationInvalid is an exported constant or variable used by the identity engine.
	ErrConfirmationInvalid = fmt.Errorf("%w: confirmation code invalid or expired", ErrAuthenticationFailed)
	// ErrMagicLinkInvalid is an exported constant or variable used by the identity engine.
	ErrMagicLinkInvalid = fmt.Errorf("%w: magic link invalid or expired", ErrAuthenticationFailed)
	// ErrPINInvalid is an exported constant or variable used by the identity engine.
	ErrPINInvalid = fmt.Errorf("%w: security pin invalid", ErrAuthenticationFailed)
	// ErrSessionTokenInvalid is an exported constant or variable used by the identity engine.
	ErrSessionTokenInvalid = fmt.Errorf("%w: session token invalid", ErrAuthenticationFailed)
	// ErrSessionTokenExpired is an exported constant or variable used by the identity engine.
	ErrSessionTokenExpired = fmt.Errorf("%w: session token expired", ErrAuthenticationFailed)
)

var (
	// ErrWeakPassword is an exported constant or variable used by the identity engine.
	ErrWeakPassword = errors.New("password does not meet complexity policy")
	// ErrDuplicateEmail is an exported constant or variable used by the identity engine.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotEnrolled is an exported constant or variable used by the identity engine.
	ErrNotEnrolled = errors.New("no credential enrolled for this method")
	// ErrUnsupportedMFAMethod is an exported constant or variable used by the identity engine.
	ErrUnsupportedMFAMethod = errors.New("unsupported mfa method")
	// ErrMFAMethodAlreadySet is an exported constant or variable used by the identity engine.
	ErrMFAMethodAlreadySet = errors.New("mfa method already set")
	// ErrMFANotRequired is an exported constant or variable used by the identity engine.
	ErrMFANotRequired = errors.New("mfa not enabled for this account")
	// ErrLoginRateLimited is an exported constant or variable used by the identity engine.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRegistrationRateLimited is an exported constant or variable used by the identity engine.
	ErrRegistrationRateLimited = errors.New("registration rate limited")
	// ErrDeliveryFailed is an exported constant or variable used by the identity engine.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrSystemUnavailable is an exported constant or variable used by the identity engine.
	ErrSystemUnavailable = errors.New("identity backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the identity engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Store sentinels returned by [EntityStore] implementations. The engine maps
// them onto flow errors; custom stores must return these exact values.
var (
	// ErrRecordNotFound is an exported constant or variable used by the identity engine.
	ErrRecordNotFound = errors.New("credential record not found")
	// ErrVersionConflict is an exported constant or variable used by the identity engine.
	ErrVersionConflict = errors.New("credential record version conflict")
)
