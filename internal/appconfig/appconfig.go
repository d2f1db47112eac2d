// Package appconfig loads the service configuration: a YAML file overlaid
// by environment variables, with optional .env support for development.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fleetyard/fleetauth"
)

// Environment variables. Secrets are only ever read from here.
const (
	EnvJWTSecret         = "FLEETAUTH_JWT_SECRET"
	EnvJWTPreviousSecret = "FLEETAUTH_JWT_PREVIOUS_SECRET"
	EnvOTPPepper         = "FLEETAUTH_OTP_PEPPER"
	EnvDatabaseURL       = "FLEETAUTH_DATABASE_URL"
	EnvRedisAddr         = "FLEETAUTH_REDIS_ADDR"
	EnvRedisPassword     = "FLEETAUTH_REDIS_PASSWORD"
	EnvListenAddr        = "FLEETAUTH_LISTEN_ADDR"
	EnvEnv               = "FLEETAUTH_ENV"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// App holds process-level settings that sit outside the engine.
type App struct {
	Env           string `yaml:"env"`
	ListenAddr    string `yaml:"listen_addr"`
	DatabaseURL   string `yaml:"-"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
	TrustProxy    bool   `yaml:"trust_proxy"`
	SweepSchedule string `yaml:"sweep_schedule"`
	DataDir       string `yaml:"data_dir"`
	BackupDir     string `yaml:"backup_dir"`
	BackupRetain  int    `yaml:"backup_retain"`
}

type Config struct {
	App  App              `yaml:"app"`
	Auth fleetauth.Config `yaml:"auth"`
}

func Default() Config {
	return Config{
		App: App{
			Env:           EnvProduction,
			ListenAddr:    ":8080",
			SweepSchedule: "@every 5m",
			BackupDir:     "backups",
			BackupRetain:  7,
		},
		Auth: fleetauth.DefaultConfig(),
	}
}

// Development reports whether the service runs with development defaults
// (console logging, revealed codes in the log mailer).
func (c Config) Development() bool {
	return c.App.Env == EnvDevelopment
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty) and the environment. dotenv names an optional .env file whose
// values never override variables already set.
func Load(path, dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	secret := func(key string, dst *[]byte) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = []byte(v)
		}
	}

	str(EnvEnv, &c.App.Env)
	str(EnvListenAddr, &c.App.ListenAddr)
	str(EnvDatabaseURL, &c.App.DatabaseURL)
	str(EnvRedisAddr, &c.App.RedisAddr)
	if v, ok := lookup(EnvRedisPassword); ok {
		c.App.RedisPassword = v
	}
	secret(EnvJWTSecret, &c.Auth.JWT.Secret)
	secret(EnvJWTPreviousSecret, &c.Auth.JWT.PreviousSecret)
	secret(EnvOTPPepper, &c.Auth.OTP.Pepper)

	if v, ok := lookup("FLEETAUTH_TRUST_PROXY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLEETAUTH_TRUST_PROXY: %w", err)
		}
		c.App.TrustProxy = b
	}
	return nil
}

// Validate checks process settings, then the engine config.
func (c *Config) Validate() error {
	switch c.App.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("app.env must be %q or %q", EnvDevelopment, EnvProduction)
	}
	if c.App.ListenAddr == "" {
		return errors.New("app.listen_addr must be set")
	}
	if c.App.BackupRetain < 0 {
		return errors.New("app.backup_retain must be >= 0")
	}
	usesRedis := c.Auth.Session.Backend == fleetauth.BackendRedis || c.Auth.OTP.Backend == fleetauth.BackendRedis
	if usesRedis && c.App.RedisAddr == "" {
		return fmt.Errorf("a redis backend is selected but %s is not set", EnvRedisAddr)
	}
	if c.Auth.OTP.Backend == fleetauth.BackendRedis && len(c.Auth.OTP.Pepper) == 0 {
		return fmt.Errorf("otp.backend redis requires a shared %s", EnvOTPPepper)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}
