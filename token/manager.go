// Package token issues and parses the signed bearer tokens used by the
// identity engine: full session tokens and short-lived magic-link tokens.
// The two token families are signed with distinct keys so a magic-link
// token can never be presented as a session.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors returned by the parse methods. Expiry is reported
// separately from every other validation failure.
var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

// Config defines a public type used by identity APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	SessionTTL   time.Duration
	MagicLinkTTL time.Duration
	SessionKey   []byte
	MagicLinkKey []byte
	Issuer       string
	Leeway       time.Duration
}

// Manager defines a public type used by identity APIs.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config Config
}

// SessionClaims defines a public type used by identity APIs.
//
// SessionClaims instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// MagicLinkClaims defines a public type used by identity APIs.
//
// MagicLinkClaims instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MagicLinkClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
// NewManager does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SessionTTL <= 0 || cfg.MagicLinkTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if len(cfg.SessionKey) == 0 || len(cfg.MagicLinkKey) == 0 {
		return nil, errors.New("both signing keys are required")
	}
	if string(cfg.SessionKey) == string(cfg.MagicLinkKey) {
		return nil, errors.New("session and magic-link keys must differ")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg}, nil
}

// IssueSession describes the issuesession operation and its observable behavior.
//
// IssueSession may return an error when input validation, dependency calls, or security checks fail.
// IssueSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) IssueSession(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := SessionClaims{
		UID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.config.SessionKey)
}

// ParseSession describes the parsesession operation and its observable behavior.
//
// ParseSession may return an error when input validation, dependency calls, or security checks fail.
// ParseSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) ParseSession(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := m.parse(tokenStr, claims, m.config.SessionKey); err != nil {
		return nil, err
	}
	if claims.UID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// IssueMagicLink describes the issuemagiclink operation and its observable behavior.
//
// IssueMagicLink may return an error when input validation, dependency calls, or security checks fail.
// IssueMagicLink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) IssueMagicLink(email string) (string, error) {
	if email == "" {
		return "", errors.New("email required")
	}

	now := time.Now()
	claims := MagicLinkClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.MagicLinkTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.config.MagicLinkKey)
}

// ParseMagicLink describes the parsemagiclink operation and its observable behavior.
//
// ParseMagicLink may return an error when input validation, dependency calls, or security checks fail.
// ParseMagicLink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) ParseMagicLink(tokenStr string) (*MagicLinkClaims, error) {
	claims := &MagicLinkClaims{}
	if err := m.parse(tokenStr, claims, m.config.MagicLinkKey); err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims, key []byte) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !tok.Valid {
		return ErrInvalid
	}
	return nil
}
