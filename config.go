package fleetauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetyard/fleetauth/password"
)

// Config is the full engine configuration. Secrets carry yaml:"-" and are
// only ever set from the environment.
type Config struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Session   SessionConfig   `yaml:"session"`
	OTP       OTPConfig       `yaml:"otp"`
	Password  password.Config `yaml:"password"`
	Account   AccountConfig   `yaml:"account"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Cookie    CookieConfig    `yaml:"cookie"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls session token signing. PreviousSecret is accepted for
// validation only, during a rotation window.
type JWTConfig struct {
	Secret         []byte        `yaml:"-"`
	KeyID          string        `yaml:"key_id"`
	PreviousSecret []byte        `yaml:"-"`
	PreviousKeyID  string        `yaml:"previous_key_id"`
	TTL            time.Duration `yaml:"ttl"`
	Issuer         string        `yaml:"issuer"`
	Leeway         time.Duration `yaml:"leeway"`
}

/*
====================================
STORE CONFIG
====================================
*/

// Backend selects where ephemeral state lives.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

func (b Backend) valid() bool {
	return b == BackendMemory || b == BackendRedis
}

// SessionConfig selects the session registry. The redis backend is the
// one to use with more than one service instance.
type SessionConfig struct {
	Backend     Backend `yaml:"backend"`
	RedisPrefix string  `yaml:"redis_prefix"`
}

// OTPConfig controls one-time code issuance. Pepper must be shared by all
// instances when the redis backend is used.
type OTPConfig struct {
	Backend     Backend       `yaml:"backend"`
	RedisPrefix string        `yaml:"redis_prefix"`
	Digits      int           `yaml:"digits"`
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	Pepper      []byte        `yaml:"-"`
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

type AccountConfig struct {
	RequireVerifiedEmail bool `yaml:"require_verified_email"`
	// LoginHistoryLimit caps History results.
	LoginHistoryLimit int `yaml:"login_history_limit"`
}

// RateLimitConfig budgets are enforced only when a Redis client is
// configured. Zero budgets disable the matching check.
type RateLimitConfig struct {
	EnableIPThrottle bool          `yaml:"ip_throttle"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	LoginWindow      time.Duration `yaml:"login_window"`
	MaxCodeRequests  int           `yaml:"max_code_requests"`
	CodeWindow       time.Duration `yaml:"code_window"`
}

type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"latency_histograms"`
}

// CookieConfig describes the session cookie carrier.
type CookieConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"`
}

// DefaultConfig returns production defaults. JWT.Secret is left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			KeyID:  "k1",
			TTL:    12 * time.Hour,
			Issuer: "fleetauth",
			Leeway: 30 * time.Second,
		},
		Session: SessionConfig{
			Backend:     BackendMemory,
			RedisPrefix: "fs",
		},
		OTP: OTPConfig{
			Backend:     BackendMemory,
			RedisPrefix: "fo",
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		Password: password.DefaultConfig(),
		Account: AccountConfig{
			RequireVerifiedEmail: true,
			LoginHistoryLimit:    50,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle: true,
			MaxLoginAttempts: 5,
			LoginWindow:      15 * time.Minute,
			MaxCodeRequests:  3,
			CodeWindow:       10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cookie: CookieConfig{
			Name:     "fleet_session",
			Path:     "/",
			Secure:   true,
			SameSite: "lax",
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT Secret must be at least 32 bytes")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("JWT TTL must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}
	if len(c.JWT.PreviousSecret) > 0 && c.JWT.PreviousKeyID == c.JWT.KeyID {
		return errors.New("JWT PreviousKeyID must differ from KeyID")
	}

	if !c.Session.Backend.valid() {
		return fmt.Errorf("unsupported session backend %q", c.Session.Backend)
	}
	if !c.OTP.Backend.valid() {
		return fmt.Errorf("unsupported otp backend %q", c.OTP.Backend)
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be within [6, 10]")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}

	if err := c.Password.Validate(); err != nil {
		return err
	}

	if c.Account.LoginHistoryLimit < 0 {
		return errors.New("Account LoginHistoryLimit must be >= 0")
	}

	if c.RateLimit.MaxLoginAttempts < 0 || c.RateLimit.MaxCodeRequests < 0 {
		return errors.New("RateLimit budgets must be >= 0")
	}
	if c.RateLimit.MaxLoginAttempts > 0 && c.RateLimit.LoginWindow <= 0 {
		return errors.New("RateLimit LoginWindow must be > 0")
	}
	if c.RateLimit.MaxCodeRequests > 0 && c.RateLimit.CodeWindow <= 0 {
		return errors.New("RateLimit CodeWindow must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if c.Cookie.Name == "" {
		return errors.New("Cookie Name must be set")
	}
	switch c.Cookie.SameSite {
	case "", "lax", "strict", "none":
	default:
		return fmt.Errorf("unsupported cookie same_site %q", c.Cookie.SameSite)
	}
	if c.Cookie.SameSite == "none" && !c.Cookie.Secure {
		return errors.New("Cookie SameSite none requires Secure")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.Secret = append([]byte(nil), c.JWT.Secret...)
	out.JWT.PreviousSecret = append([]byte(nil), c.JWT.PreviousSecret...)
	out.OTP.Pepper = append([]byte(nil), c.OTP.Pepper...)
	return out
}
