package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is a process-local Registry. Entries do not survive a
// restart and are not shared between instances.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]Entry
	byUser  map[string]map[string]struct{}
	now     func() time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry returns an empty registry. A nil clock means time.Now.
func NewMemoryRegistry(now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{
		entries: make(map[string]Entry),
		byUser:  make(map[string]map[string]struct{}),
		now:     now,
	}
}

func (r *MemoryRegistry) Create(_ context.Context, e Entry) error {
	if err := validateEntry(e, r.now()); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[e.SessionID] = e
	ids := r.byUser[e.UserID]
	if ids == nil {
		ids = make(map[string]struct{})
		r.byUser[e.UserID] = ids
	}
	ids[e.SessionID] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, sessionID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Expired(r.now()) {
		r.removeLocked(e)
		return nil, ErrNotFound
	}
	return &e, nil
}

// Revoke is idempotent; revoking an unknown session is not an error.
func (r *MemoryRegistry) Revoke(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sessionID]; ok {
		r.removeLocked(e)
	}
	return nil
}

func (r *MemoryRegistry) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for sid := range r.byUser[userID] {
		if _, ok := r.entries[sid]; ok {
			delete(r.entries, sid)
			removed++
		}
	}
	delete(r.byUser, userID)
	return removed, nil
}

func (r *MemoryRegistry) ListForUser(_ context.Context, userID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Entry, 0, len(r.byUser[userID]))
	for sid := range r.byUser[userID] {
		e, ok := r.entries[sid]
		if !ok {
			continue
		}
		if e.Expired(now) {
			r.removeLocked(e)
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Sweep removes every expired entry and returns how many were removed.
func (r *MemoryRegistry) Sweep(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for _, e := range r.entries {
		if e.Expired(now) {
			r.removeLocked(e)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *MemoryRegistry) removeLocked(e Entry) {
	delete(r.entries, e.SessionID)
	if ids := r.byUser[e.UserID]; ids != nil {
		delete(ids, e.SessionID)
		if len(ids) == 0 {
			delete(r.byUser, e.UserID)
		}
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].SessionID < entries[j].SessionID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
