package credential

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and
	// deactivated accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateEmail is returned when the email is already registered,
	// compared case-insensitively.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotFound is returned by lookups for unknown users.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidRole is returned for roles other than user and admin.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrPasswordPolicy is returned for passwords outside the length policy.
	ErrPasswordPolicy = errors.New("password does not meet policy")
	// ErrUnavailable wraps backing-store failures.
	ErrUnavailable = errors.New("credential store unavailable")
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is an account. Users are never deleted; Deactivate clears Active.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Outcome is the result of one login attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// LoginRecord is one append-only login history row. UserID is empty when
// the attempted email is not registered.
type LoginRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email"`
	Timestamp time.Time         `json:"timestamp"`
	Outcome   Outcome           `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UserRepository persists users. Emails are stored lowercased and must be
// unique. UpdateUser applies fn to the current row and writes the result
// back atomically with respect to other updates of the same user.
type UserRepository interface {
	InsertUser(ctx context.Context, u User) error
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, id string, fn func(*User) error) (User, error)
}

// HistoryRepository appends and lists login records. ListForUser returns
// newest first; limit <= 0 means no limit.
type HistoryRepository interface {
	AppendLogin(ctx context.Context, rec LoginRecord) error
	ListLogins(ctx context.Context, userID string, limit int) ([]LoginRecord, error)
}
