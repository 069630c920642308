package identity

import (
	"errors"
	"time"
)

// Config defines a public type used by identity APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token         TokenConfig
	Password      PasswordConfig
	OTP           OTPConfig
	TOTP          TOTPConfig
	WebAuthn      WebAuthnConfig
	Recovery      RecoveryConfig
	MagicLink     MagicLinkConfig
	PasswordReset PasswordResetConfig
	Confirmation  ConfirmationConfig
	Security      SecurityConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by identity APIs.
//
// SessionKey and MagicLinkKey must differ: a leaked magic-link key must not
// be able to mint full sessions.
type TokenConfig struct {
	SessionTTL   time.Duration
	MagicLinkTTL time.Duration
	SessionKey   []byte
	MagicLinkKey []byte
	Issuer       string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by identity APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
CHALLENGE CONFIGS
====================================
*/

// OTPConfig governs the mailed/texted one-time codes used for the email
// and SMS MFA paths.
type OTPConfig struct {
	Digits int
	TTL    time.Duration
}

// TOTPConfig defines a public type used by identity APIs.
//
// Skew is the accepted step tolerance on either side of the current
// 30-second window. The default is 0; ±1 is the widest supported value.
// EnforceReplayProtection tracks the last accepted step per record so the
// same code cannot be used twice within its window.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Skew                    uint
	EnforceReplayProtection bool
}

// WebAuthnConfig defines a public type used by identity APIs.
//
// ChallengeTTL bounds both ceremonies: a challenge older than the TTL is
// rejected and cleared at completion time.
type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	ChallengeTTL  time.Duration
	Timeout       time.Duration
}

// RecoveryConfig defines a public type used by identity APIs.
//
// RecoveryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RecoveryConfig struct {
	TokenTTL time.Duration
	KeyBits  int
}

// MagicLinkConfig defines a public type used by identity APIs.
//
// MagicLinkConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MagicLinkConfig struct {
	BaseURL string
}

// PasswordResetConfig defines a public type used by identity APIs.
//
// PasswordResetConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordResetConfig struct {
	TokenTTL time.Duration
	BaseURL  string
}

// ConfirmationConfig governs the registration email-confirmation code.
type ConfirmationConfig struct {
	CodeTTL time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by identity APIs.
//
// Throttles are backed by Redis and require a client on the [Builder].
// MaxChallengeGuesses caps wrong guesses against any stored one-shot
// secret (MFA code, confirmation code, recovery token); reaching the cap
// burns the secret so a short code cannot be exhausted within its TTL.
type SecurityConfig struct {
	EnableIPThrottle         bool
	EnableIdentifierThrottle bool
	MaxLoginAttempts         int
	LoginCooldown            time.Duration
	MaxRegistrationAttempts  int
	RegistrationCooldown     time.Duration
	MaxChallengeGuesses      int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by identity APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by identity APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SessionTTL:   24 * time.Hour,
			MagicLinkTTL: 10 * time.Minute,
			Issuer:       "safepassvault",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		OTP: OTPConfig{
			Digits: 6,
			TTL:    5 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer: "SafePassVault",
			Digits: 6,
			Period: 30,
			Skew:   0,
		},
		WebAuthn: WebAuthnConfig{
			ChallengeTTL: 5 * time.Minute,
			Timeout:      60 * time.Second,
		},
		Recovery: RecoveryConfig{
			TokenTTL: 15 * time.Minute,
			KeyBits:  2048,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: 10 * time.Minute,
		},
		Confirmation: ConfirmationConfig{
			CodeTTL: 30 * time.Minute,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:        10,
			LoginCooldown:           5 * time.Minute,
			MaxRegistrationAttempts: 5,
			RegistrationCooldown:    10 * time.Minute,
			MaxChallengeGuesses:     5,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	if c.Token.SessionTTL <= 0 || c.Token.MagicLinkTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if len(c.Token.SessionKey) == 0 || len(c.Token.MagicLinkKey) == 0 {
		return errors.New("session and magic-link signing keys required")
	}
	if string(c.Token.SessionKey) == string(c.Token.MagicLinkKey) {
		return errors.New("session and magic-link signing keys must differ")
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("otp digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("otp TTL must be positive")
	}
	if c.TOTP.Period <= 0 || c.TOTP.Digits != 6 {
		return errors.New("totp requires 6 digits and a positive period")
	}
	if c.TOTP.Skew > 1 {
		return errors.New("totp skew wider than one step is not supported")
	}
	if c.WebAuthn.RPID == "" || len(c.WebAuthn.RPOrigins) == 0 {
		return errors.New("webauthn relying party id and origins required")
	}
	if c.WebAuthn.ChallengeTTL <= 0 {
		return errors.New("webauthn challenge TTL must be positive")
	}
	if c.Recovery.KeyBits < 2048 {
		return errors.New("recovery key modulus must be at least 2048 bits")
	}
	if c.Recovery.TokenTTL <= 0 {
		return errors.New("recovery token TTL must be positive")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("password reset token TTL must be positive")
	}
	if c.Confirmation.CodeTTL <= 0 {
		return errors.New("confirmation code TTL must be positive")
	}
	if c.Security.MaxChallengeGuesses <= 0 {
		return errors.New("challenge guess cap must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SessionKey = cloneBytes(cfg.Token.SessionKey)
	out.Token.MagicLinkKey = cloneBytes(cfg.Token.MagicLinkKey)
	out.WebAuthn.RPOrigins = append([]string(nil), cfg.WebAuthn.RPOrigins...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
