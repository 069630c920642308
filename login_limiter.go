package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptLimiter is a fixed-window counter over Redis shared by the login
// and registration throttles. Keys expire after the cooldown; exceeding
// the cap inside the window returns limitErr.
type attemptLimiter struct {
	redis            *redis.Client
	prefix           string
	maxAttempts      int
	cooldown         time.Duration
	throttleIdentity bool
	throttleIP       bool
	limitErr         error
}

func newLoginLimiter(client *redis.Client, cfg SecurityConfig) *attemptLimiter {
	return &attemptLimiter{
		redis:            client,
		prefix:           "idlogin",
		maxAttempts:      cfg.MaxLoginAttempts,
		cooldown:         cfg.LoginCooldown,
		throttleIdentity: cfg.EnableIdentifierThrottle,
		throttleIP:       cfg.EnableIPThrottle,
		limitErr:         ErrLoginRateLimited,
	}
}

func newRegistrationLimiter(client *redis.Client, cfg SecurityConfig) *attemptLimiter {
	return &attemptLimiter{
		redis:            client,
		prefix:           "idreg",
		maxAttempts:      cfg.MaxRegistrationAttempts,
		cooldown:         cfg.RegistrationCooldown,
		throttleIdentity: cfg.EnableIdentifierThrottle,
		throttleIP:       cfg.EnableIPThrottle,
		limitErr:         ErrRegistrationRateLimited,
	}
}

// Enforce describes the enforce operation and its observable behavior.
//
// Enforce may return an error when input validation, dependency calls, or security checks fail.
// Enforce does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (l *attemptLimiter) Enforce(ctx context.Context, identifier, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	if l.throttleIdentity && identifier != "" {
		if err := l.enforceKey(ctx, l.prefix+":id:"+identifier); err != nil {
			return err
		}
	}

	if l.throttleIP && ip != "" {
		if err := l.enforceKey(ctx, l.prefix+":ip:"+ip); err != nil {
			return err
		}
	}

	return nil
}

func (l *attemptLimiter) enforceKey(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
		}
	}

	if count > int64(l.maxAttempts) {
		return l.limitErr
	}

	return nil
}
