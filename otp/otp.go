package otp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetyard/fleetauth/internal"
)

var (
	// ErrMismatch is returned for a wrong code, and for a code submitted when
	// no challenge exists (including after a successful verify).
	ErrMismatch = errors.New("otp: code mismatch")
	// ErrExpired is returned when the challenge is past its expiry.
	ErrExpired = errors.New("otp: challenge expired")
	// ErrExhausted is returned once the attempt budget is spent, even for the
	// correct code.
	ErrExhausted = errors.New("otp: attempts exhausted")
	// ErrUnavailable wraps backing-store failures.
	ErrUnavailable = errors.New("otp: store unavailable")
	// ErrInvalidPurpose is returned for purposes other than signup and reset.
	ErrInvalidPurpose = errors.New("otp: invalid purpose")
)

// Purpose scopes a challenge so a signup code cannot complete a reset.
type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeReset  Purpose = "reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeSignup || p == PurposeReset
}

// Challenge is the stored form of an issued code. Only the keyed hash of the
// code is kept.
type Challenge struct {
	Email             string
	Purpose           Purpose
	CodeHash          [32]byte
	ExpiresAt         time.Time
	AttemptsRemaining int
}

// Store persists at most one challenge per (email, purpose).
//
// Put replaces any existing challenge for the same pair. Consume performs
// the whole check as one atomic step: a missing challenge is ErrMismatch, an
// expired one is removed and reported as ErrExpired, a challenge with no
// attempts left is ErrExhausted, a wrong hash decrements the remaining
// attempts and is ErrMismatch, and a matching hash deletes the challenge and
// returns nil.
type Store interface {
	Put(ctx context.Context, c Challenge) error
	Consume(ctx context.Context, email string, purpose Purpose, codeHash [32]byte, now time.Time) error
}

// Config controls code shape and lifetime.
type Config struct {
	Digits      int           `yaml:"digits"`
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`

	// Pepper keys the code hash. Instances sharing a Redis store must share
	// the pepper; when empty a random one is generated per process.
	Pepper []byte `yaml:"-"`

	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns six digits, ten minutes and five attempts.
func DefaultConfig() Config {
	return Config{
		Digits:      6,
		TTL:         10 * time.Minute,
		MaxAttempts: 5,
	}
}

// Validate checks the configured bounds.
func (c Config) Validate() error {
	if c.Digits < 6 || c.Digits > 10 {
		return errors.New("otp digits must be within [6, 10]")
	}
	if c.TTL <= 0 {
		return errors.New("otp ttl must be > 0")
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 100 {
		return errors.New("otp max attempts must be within [1, 100]")
	}
	return nil
}

// Verifier issues and checks one-time codes against a Store.
type Verifier struct {
	store  Store
	config Config
}

// NewVerifier validates cfg and returns a Verifier backed by store.
func NewVerifier(store Store, cfg Config) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("otp store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Pepper) == 0 {
		pepper, err := internal.NewSecret(32)
		if err != nil {
			return nil, err
		}
		cfg.Pepper = pepper
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{store: store, config: cfg}, nil
}

// TTL returns the lifetime of newly issued challenges.
func (v *Verifier) TTL() time.Duration {
	return v.config.TTL
}

// Issue creates a challenge for (email, purpose), replacing any earlier one,
// and returns the plaintext code for delivery. The code is never stored.
func (v *Verifier) Issue(ctx context.Context, email string, purpose Purpose) (string, error) {
	if !purpose.Valid() {
		return "", ErrInvalidPurpose
	}
	email = NormalizeEmail(email)
	if email == "" {
		return "", errors.New("otp: email is required")
	}

	code, err := internal.NewNumericCode(v.config.Digits)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}

	err = v.store.Put(ctx, Challenge{
		Email:             email,
		Purpose:           purpose,
		CodeHash:          v.hash(email, purpose, code),
		ExpiresAt:         v.config.Now().Add(v.config.TTL),
		AttemptsRemaining: v.config.MaxAttempts,
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks code against the active challenge for (email, purpose).
// It returns nil on success and one of ErrMismatch, ErrExpired or
// ErrExhausted otherwise.
func (v *Verifier) Verify(ctx context.Context, email string, purpose Purpose, code string) error {
	if !purpose.Valid() {
		return ErrInvalidPurpose
	}
	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)
	return v.store.Consume(ctx, email, purpose, v.hash(email, purpose, code), v.config.Now())
}

func (v *Verifier) hash(email string, purpose Purpose, code string) [32]byte {
	mac := hmac.New(sha256.New, v.config.Pepper)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(email))
	mac.Write([]byte{0})
	mac.Write([]byte(code))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// NormalizeEmail lowercases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
