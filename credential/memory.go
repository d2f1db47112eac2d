package credential

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository implements both repositories in process memory. It is
// meant for tests and single-node development.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
	logins  []LoginRecord
}

var (
	_ UserRepository    = (*MemoryRepository)(nil)
	_ HistoryRepository = (*MemoryRepository)(nil)
)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) InsertUser(_ context.Context, u User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := NormalizeEmail(u.Email)
	if _, exists := r.byEmail[email]; exists {
		return ErrDuplicateEmail
	}
	u.Email = email
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	return nil
}

func (r *MemoryRepository) UserByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) UserByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, id string, fn func(*User) error) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if err := fn(&u); err != nil {
		return User{}, err
	}
	u.ID = id
	r.byID[id] = u
	return u, nil
}

func (r *MemoryRepository) AppendLogin(_ context.Context, rec LoginRecord) error {
	r.mu.Lock()
	r.logins = append(r.logins, rec)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListLogins(_ context.Context, userID string, limit int) ([]LoginRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LoginRecord, 0)
	for i := len(r.logins) - 1; i >= 0; i-- {
		if r.logins[i].UserID != userID {
			continue
		}
		out = append(out, r.logins[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
