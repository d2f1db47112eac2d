package fleetauth

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigNeedsOnlySecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without secret must fail")
	}
	cfg.JWT.Secret = []byte(strings.Repeat("s", 32))
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.OTP.TTL != 10*time.Minute || cfg.OTP.MaxAttempts != 5 || cfg.OTP.Digits != 6 {
		t.Fatalf("unexpected otp defaults %+v", cfg.OTP)
	}
	if cfg.Cookie.Name != "fleet_session" {
		t.Fatalf("unexpected cookie name %q", cfg.Cookie.Name)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.JWT.Secret = []byte("short") }},
		{"zero ttl", func(c *Config) { c.JWT.TTL = 0 }},
		{"large leeway", func(c *Config) { c.JWT.Leeway = time.Hour }},
		{"same previous kid", func(c *Config) {
			c.JWT.PreviousSecret = []byte(strings.Repeat("p", 32))
			c.JWT.PreviousKeyID = c.JWT.KeyID
		}},
		{"session backend", func(c *Config) { c.Session.Backend = "etcd" }},
		{"otp backend", func(c *Config) { c.OTP.Backend = "" }},
		{"otp digits", func(c *Config) { c.OTP.Digits = 3 }},
		{"otp ttl", func(c *Config) { c.OTP.TTL = 0 }},
		{"otp attempts", func(c *Config) { c.OTP.MaxAttempts = 0 }},
		{"password memory", func(c *Config) { c.Password.Memory = 1 }},
		{"history limit", func(c *Config) { c.Account.LoginHistoryLimit = -1 }},
		{"rate budget", func(c *Config) { c.RateLimit.MaxLoginAttempts = -1 }},
		{"login window", func(c *Config) { c.RateLimit.LoginWindow = 0 }},
		{"code window", func(c *Config) { c.RateLimit.CodeWindow = 0 }},
		{"audit buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
		{"cookie name", func(c *Config) { c.Cookie.Name = "" }},
		{"same site", func(c *Config) { c.Cookie.SameSite = "sometimes" }},
		{"same site none insecure", func(c *Config) {
			c.Cookie.SameSite = "none"
			c.Cookie.Secure = false
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDisabledAuditIgnoresBufferSize(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	cfg.Audit.BufferSize = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCloneConfigCopiesSecrets(t *testing.T) {
	cfg := testConfig()
	clone := cloneConfig(cfg)
	clone.JWT.Secret[0] = 'x'
	if cfg.JWT.Secret[0] == 'x' {
		t.Fatal("clone must not share the secret buffer")
	}
}
