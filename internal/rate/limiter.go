package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter budgets. Zero budgets disable the matching check.
type Config struct {
	EnableIPThrottle bool          `yaml:"ip_throttle"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	LoginWindow      time.Duration `yaml:"login_window"`
	MaxCodeRequests  int           `yaml:"max_code_requests"`
	CodeWindow       time.Duration `yaml:"code_window"`
}

// DefaultConfig allows 5 failed logins per 15 minutes and 3 code requests
// per 10 minutes for each email.
func DefaultConfig() Config {
	return Config{
		EnableIPThrottle: true,
		MaxLoginAttempts: 5,
		LoginWindow:      15 * time.Minute,
		MaxCodeRequests:  3,
		CodeWindow:       10 * time.Minute,
	}
}

// Limiter enforces fixed-window budgets with Redis counters. Counters are
// shared by every instance using the same Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports ErrRateLimited when the email or IP has spent its
// failed-login budget in the current window. It does not count an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.checkCounter(ctx, loginEmailKey(email), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}
	return nil
}

// RecordLoginFailure counts one failed login for the email and IP.
func (l *Limiter) RecordLoginFailure(ctx context.Context, email, ip string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if _, err := l.incrementWithTTL(ctx, loginEmailKey(email), l.config.LoginWindow); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginWindow); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the email counter after a successful login. The IP
// counter is left to expire so one good account cannot unlock an IP that is
// spraying others.
func (l *Limiter) ResetLogin(ctx context.Context, email string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, loginEmailKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AllowCode counts one code request for (purpose, email) and reports
// ErrRateLimited once the window budget is exceeded.
func (l *Limiter) AllowCode(ctx context.Context, purpose, email string) error {
	if l == nil || l.config.MaxCodeRequests <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, codeKey(purpose, email), l.config.CodeWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxCodeRequests) {
		return ErrRateLimited
	}
	return nil
}

// LoginAttempts returns the failed-login counter for an email. Missing
// keys return zero.
func (l *Limiter) LoginAttempts(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, loginEmailKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set on the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func loginEmailKey(email string) string { return "frl:e:" + email }
func loginIPKey(ip string) string       { return "frl:ip:" + ip }
func codeKey(purpose, email string) string {
	return "frc:" + purpose + ":" + email
}
