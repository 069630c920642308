package identity

import (
	"context"
	"strings"
)

// MFAMethod identifies the active second factor on a credential record.
// At most one method is active at a time; the zero value means MFA is off.
type MFAMethod uint8

const (
	// MFANone is an exported constant or variable used by the identity engine.
	MFANone MFAMethod = iota
	// MFAEmail is an exported constant or variable used by the identity engine.
	MFAEmail
	// MFASMS is an exported constant or variable used by the identity engine.
	MFASMS
	// MFATOTP is an exported constant or variable used by the identity engine.
	MFATOTP
	// MFAWebAuthn is an exported constant or variable used by the identity engine.
	MFAWebAuthn
)

// String describes the string operation and its observable behavior.
func (m MFAMethod) String() string {
	switch m {
	case MFANone:
		return "none"
	case MFAEmail:
		return "email"
	case MFASMS:
		return "sms"
	case MFATOTP:
		return "totp"
	case MFAWebAuthn:
		return "webauthn"
	default:
		return "unknown"
	}
}

// ParseMFAMethod maps the wire names used by the vault frontend onto the
// closed method set. Unknown names are rejected here rather than at
// dispatch time.
func ParseMFAMethod(s string) (MFAMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MFANone, nil
	case "email":
		return MFAEmail, nil
	case "sms":
		return MFASMS, nil
	case "totp":
		return MFATOTP, nil
	case "webauthn":
		return MFAWebAuthn, nil
	default:
		return MFANone, ErrUnsupportedMFAMethod
	}
}

// ChallengeKind tags the transient one-shot challenge held on a record.
type ChallengeKind uint8

const (
	// ChallengeNone is an exported constant or variable used by the identity engine.
	ChallengeNone ChallengeKind = iota
	// ChallengeOTP is an exported constant or variable used by the identity engine.
	ChallengeOTP
	// ChallengeWebAuthnRegistration is an exported constant or variable used by the identity engine.
	ChallengeWebAuthnRegistration
	// ChallengeWebAuthnLogin is an exported constant or variable used by the identity engine.
	ChallengeWebAuthnLogin
)

// PendingChallenge is the one-shot value set by an issuing step and cleared
// on consumption. Issuing a new challenge overwrites any previous one, so
// only the most recent challenge is ever acceptable. Guesses counts failed
// verification attempts; the challenge is burned once it reaches
// [SecurityConfig.MaxChallengeGuesses].
type PendingChallenge struct {
	Kind       ChallengeKind `json:"kind"`
	SecretHash [32]byte      `json:"secret_hash"` // SHA-256 of the OTP code; zero for WebAuthn
	Data       []byte        `json:"data,omitempty"`
	Guesses    int           `json:"guesses,omitempty"`
	IssuedAt   int64         `json:"issued_at"`
	ExpiresAt  int64         `json:"expires_at"`
}

// CredentialRecord is the per-user document owned by the identity
// subsystem. Fields are created incrementally: password at registration,
// MFA material at setup time, WebAuthn keys at ceremony completion, escrow
// material at explicit enrollment. Version backs optimistic-concurrency
// writes through [EntityStore.Update].
type CredentialRecord struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Phone  string `json:"phone,omitempty"`

	PasswordHash string `json:"password_hash"`

	EmailConfirmed        bool     `json:"email_confirmed"`
	ConfirmationCodeHash  [32]byte `json:"confirmation_code_hash"`
	ConfirmationExpiresAt int64    `json:"confirmation_expires_at"`
	ConfirmationGuesses   int      `json:"confirmation_guesses,omitempty"`

	MFAEnabled bool      `json:"mfa_enabled"`
	MFAMethod  MFAMethod `json:"mfa_method"`

	TOTPSecret       string `json:"totp_secret,omitempty"`
	TOTPLastUsedStep int64  `json:"totp_last_used_step,omitempty"`

	WebAuthnCredential []byte `json:"webauthn_credential,omitempty"`
	SignCount          uint32 `json:"sign_count"`

	Pending *PendingChallenge `json:"pending,omitempty"`

	RecoveryTokenHash   [32]byte `json:"recovery_token_hash"`
	RecoveryTokenExpiry int64    `json:"recovery_token_expiry"`
	RecoveryGuesses     int      `json:"recovery_guesses,omitempty"`

	PublicKeyPEM        string `json:"public_key_pem,omitempty"`
	EncryptedPassphrase []byte `json:"encrypted_passphrase,omitempty"`
	PassphraseSignature []byte `json:"passphrase_signature,omitempty"`

	SecurityPINHash string `json:"security_pin_hash,omitempty"`

	ResetTokenHash   [32]byte `json:"reset_token_hash"`
	ResetTokenExpiry int64    `json:"reset_token_expiry"`

	Version uint64 `json:"version"`
}

// mfaMaterialPresent reports whether the secret material backing the given
// method exists on the record. MFAEnabled must never be true for a method
// whose material is missing.
func (r *CredentialRecord) mfaMaterialPresent(method MFAMethod) bool {
	switch method {
	case MFANone:
		return true
	case MFAEmail:
		return r.Email != ""
	case MFASMS:
		return r.Phone != ""
	case MFATOTP:
		return r.TOTPSecret != ""
	case MFAWebAuthn:
		return len(r.WebAuthnCredential) > 0
	default:
		return false
	}
}

// EntityStore is the document-persistence collaborator. Update must apply
// compare-and-swap semantics on [CredentialRecord.Version]: the write
// succeeds only when the stored version equals the version the caller
// read, advancing it by one; otherwise [ErrVersionConflict] is returned
// and nothing is written.
type EntityStore interface {
	GetByID(ctx context.Context, userID string) (*CredentialRecord, error)
	GetByEmail(ctx context.Context, email string) (*CredentialRecord, error)
	Create(ctx context.Context, record *CredentialRecord) error
	Update(ctx context.Context, record *CredentialRecord) error
}

// Channel selects the out-of-band delivery transport.
type Channel uint8

const (
	// ChannelEmail is an exported constant or variable used by the identity engine.
	ChannelEmail Channel = iota
	// ChannelSMS is an exported constant or variable used by the identity engine.
	ChannelSMS
)

// String describes the string operation and its observable behavior.
func (c Channel) String() string {
	if c == ChannelSMS {
		return "sms"
	}
	return "email"
}

// Notification is the payload handed to [NotificationService.Send].
// Subject is empty for SMS delivery.
type Notification struct {
	Subject string
	Body    string
}

// NotificationService delivers one-time secrets and links out-of-band.
// Send is fire-and-forget from the flow's perspective, but a delivery
// error must be returned, never swallowed: the engine surfaces it as
// [ErrDeliveryFailed].
type NotificationService interface {
	Send(ctx context.Context, channel Channel, destination string, message Notification) error
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// RegisterResult is returned by [Engine.Register]. The confirmation code
// is delivered by email and never included here.
type RegisterResult struct {
	UserID string
}

// LoginResult is returned by [Engine.Login]. Token is set only when no
// second factor is required; otherwise MFARequired is true, MFAMethod
// names the pending factor, and for WebAuthn the assertion options are
// included for the client ceremony.
type LoginResult struct {
	Token string

	MFARequired     bool
	MFAMethod       MFAMethod
	WebAuthnOptions []byte
}

// TOTPEnrollment holds the shared secret and otpauth:// provisioning URI
// returned by [Engine.EnrollTOTP].
type TOTPEnrollment struct {
	Secret string
	URI    string
}

// RecoveryEnrollment is returned by [Engine.EnrollRecoveryKeys]. The
// private key is handed out exactly once and never persisted.
type RecoveryEnrollment struct {
	PublicKeyPEM  string
	PrivateKeyPEM string
}

// MFASettings is the input for [Engine.UpdateMFASettings]. Exactly the
// fields required by Method must be set: TOTPCode proves possession of the
// enrolled authenticator app for [MFATOTP]; SecurityPIN arms the extra
// recovery gate for [MFAWebAuthn].
type MFASettings struct {
	Enabled     bool
	Method      MFAMethod
	TOTPCode    string
	SecurityPIN string
}
