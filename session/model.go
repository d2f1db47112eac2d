package session

import (
	"context"
	"errors"
	"time"

	"github.com/fleetyard/fleetauth/internal"
)

var (
	// ErrNotFound is returned for unknown, revoked or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backing-store failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// Entry is the server-side record of one login. ExpiresAt is copied from the
// token's exp claim at issuance.
type Entry struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	LoginHistoryID string    `json:"login_history_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Registry tracks live sessions. Implementations remove expired entries
// lazily on read; Get never returns an expired entry.
type Registry interface {
	Create(ctx context.Context, entry Entry) error
	Get(ctx context.Context, sessionID string) (*Entry, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]Entry, error)
}

// NewID returns a fresh session ID: 16 random bytes as base64url.
func NewID() (string, error) {
	id, err := internal.NewRandomID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidID reports whether id has the shape NewID produces.
func ValidID(id string) bool {
	_, err := internal.ParseRandomID(id)
	return err == nil
}

func validateEntry(e Entry, now time.Time) error {
	if e.SessionID == "" || e.UserID == "" {
		return errors.New("session entry requires session and user id")
	}
	if e.Expired(now) {
		return errors.New("session entry already expired")
	}
	return nil
}
