package identity

import (
	"errors"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"

	"github.com/safepassvault/identity/password"
	"github.com/safepassvault/identity/token"
)

// Builder defines a public type used by identity APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	store     EntityStore
	notifier  NotificationService
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore describes the withstore operation and its observable behavior.
//
// WithStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithStore(store EntityStore) *Builder {
	b.store = store
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
//
// WithNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNotifier(n NotificationService) *Builder {
	b.notifier = n
	return b
}

// WithRedis attaches the Redis client backing the login and registration
// throttles. Optional: without it the throttles are disabled.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("entity store required")
	}
	if b.notifier == nil {
		return nil, errors.New("notification service required")
	}

	if b.redis == nil &&
		(cfg.Security.EnableIPThrottle || cfg.Security.EnableIdentifierThrottle) {
		return nil, errors.New("throttles require redis client")
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		notifier: b.notifier,
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	tm, err := token.NewManager(token.Config{
		SessionTTL:   cfg.Token.SessionTTL,
		MagicLinkTTL: cfg.Token.MagicLinkTTL,
		SessionKey:   cloneBytes(cfg.Token.SessionKey),
		MagicLinkKey: cloneBytes(cfg.Token.MagicLinkKey),
		Issuer:       cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tm

	displayName := cfg.WebAuthn.RPDisplayName
	if displayName == "" {
		displayName = cfg.WebAuthn.RPID
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: displayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		return nil, err
	}
	engine.webAuthn = wa

	if b.redis != nil {
		engine.loginLimiter = newLoginLimiter(b.redis, cfg.Security)
		engine.registrationLimiter = newRegistrationLimiter(b.redis, cfg.Security)
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
