package credential

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/fleetyard/fleetauth/password"
	"github.com/google/uuid"
)

// Store verifies and manages credentials on top of the repositories.
type Store struct {
	users     UserRepository
	history   HistoryRepository
	hasher    *password.Hasher
	now       func() time.Time
	dummyHash string
}

// NewStore wires the repositories and hasher. A nil clock means time.Now.
// It computes one throwaway hash so lookups of unknown emails cost the same
// as real verifications.
func NewStore(users UserRepository, history HistoryRepository, hasher *password.Hasher, now func() time.Time) (*Store, error) {
	if users == nil || history == nil || hasher == nil {
		return nil, errors.New("credential store requires users, history and hasher")
	}
	if now == nil {
		now = time.Now
	}

	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("credential: dummy hash: %w", err)
	}

	return &Store{users: users, history: history, hasher: hasher, now: now, dummyHash: dummy}, nil
}

// VerifyPassword checks plaintext against the account for email and appends
// a login record for the attempt. Unknown email, wrong password and
// deactivated accounts all yield ErrInvalidCredentials.
func (s *Store) VerifyPassword(ctx context.Context, email, plaintext string, metadata map[string]string) (User, LoginRecord, error) {
	email = NormalizeEmail(email)

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return User{}, LoginRecord{}, err
		}
		_, _ = s.hasher.Verify(plaintext, s.dummyHash)
		rec, appendErr := s.appendLogin(ctx, "", email, OutcomeFailure, metadata)
		if appendErr != nil {
			return User{}, rec, appendErr
		}
		return User{}, rec, ErrInvalidCredentials
	}

	ok, verifyErr := s.hasher.Verify(plaintext, user.PasswordHash)
	if verifyErr != nil || !ok || !user.Active {
		rec, appendErr := s.appendLogin(ctx, user.ID, email, OutcomeFailure, metadata)
		if appendErr != nil {
			return User{}, rec, appendErr
		}
		return User{}, rec, ErrInvalidCredentials
	}

	rec, err := s.appendLogin(ctx, user.ID, email, OutcomeSuccess, metadata)
	if err != nil {
		return User{}, rec, err
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		if upgraded, err := s.setPasswordHash(ctx, user.ID, plaintext); err == nil {
			user = upgraded
		}
	}
	return user, rec, nil
}

// ComparePassword checks plaintext against the stored hash of userID
// without recording a login.
func (s *Store) ComparePassword(ctx context.Context, userID, plaintext string) error {
	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// CreateUser registers a new account with EmailVerified false.
func (s *Store) CreateUser(ctx context.Context, email, plaintext string, role Role) (User, error) {
	email, err := ValidateEmail(email)
	if err != nil {
		return User{}, err
	}
	if !role.Valid() {
		return User{}, ErrInvalidRole
	}
	hash, err := s.hash(plaintext)
	if err != nil {
		return User{}, err
	}

	now := s.now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.InsertUser(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (User, error) {
	return s.users.UserByID(ctx, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.users.UserByEmail(ctx, NormalizeEmail(email))
}

// MarkEmailVerified sets EmailVerified. It is idempotent.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) (User, error) {
	return s.update(ctx, id, func(u *User) error {
		u.EmailVerified = true
		return nil
	})
}

// SetPassword replaces the password hash after checking the length policy.
func (s *Store) SetPassword(ctx context.Context, id, plaintext string) (User, error) {
	if err := password.CheckPolicy(plaintext); err != nil {
		return User{}, ErrPasswordPolicy
	}
	return s.setPasswordHash(ctx, id, plaintext)
}

func (s *Store) SetRole(ctx context.Context, id string, role Role) (User, error) {
	if !role.Valid() {
		return User{}, ErrInvalidRole
	}
	return s.update(ctx, id, func(u *User) error {
		u.Role = role
		return nil
	})
}

// Deactivate disables the account. The row is kept.
func (s *Store) Deactivate(ctx context.Context, id string) (User, error) {
	return s.update(ctx, id, func(u *User) error {
		u.Active = false
		return nil
	})
}

// History returns the newest login records for userID.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]LoginRecord, error) {
	return s.history.ListLogins(ctx, userID, limit)
}

func (s *Store) setPasswordHash(ctx context.Context, id, plaintext string) (User, error) {
	hash, err := s.hash(plaintext)
	if err != nil {
		return User{}, err
	}
	return s.update(ctx, id, func(u *User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (s *Store) update(ctx context.Context, id string, fn func(*User) error) (User, error) {
	now := s.now().UTC()
	return s.users.UpdateUser(ctx, id, func(u *User) error {
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = now
		return nil
	})
}

func (s *Store) hash(plaintext string) (string, error) {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return "", ErrPasswordPolicy
		}
		return "", err
	}
	return hash, nil
}

func (s *Store) appendLogin(ctx context.Context, userID, email string, outcome Outcome, metadata map[string]string) (LoginRecord, error) {
	rec := LoginRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		Timestamp: s.now().UTC(),
		Outcome:   outcome,
		Metadata:  copyMetadata(metadata),
	}
	if err := s.history.AppendLogin(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail normalizes email and rejects anything that is not a bare
// address.
func ValidateEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
