package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

type challengeKey struct {
	email   string
	purpose Purpose
}

// MemoryStore keeps challenges in process memory. A single mutex serializes
// every read-modify-write, so concurrent submissions for the same key cannot
// both spend the same attempt.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[challengeKey]Challenge
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. The clock is only used by Sweep;
// nil means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		challenges: make(map[challengeKey]Challenge),
		now:        now,
	}
}

func (s *MemoryStore) Put(_ context.Context, c Challenge) error {
	s.mu.Lock()
	s.challenges[challengeKey{email: c.Email, purpose: c.Purpose}] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, email string, purpose Purpose, codeHash [32]byte, now time.Time) error {
	key := challengeKey{email: email, purpose: purpose}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[key]
	if !ok {
		return ErrMismatch
	}
	if now.After(c.ExpiresAt) {
		delete(s.challenges, key)
		return ErrExpired
	}
	if c.AttemptsRemaining <= 0 {
		return ErrExhausted
	}
	if subtle.ConstantTimeCompare(c.CodeHash[:], codeHash[:]) != 1 {
		c.AttemptsRemaining--
		s.challenges[key] = c
		return ErrMismatch
	}

	delete(s.challenges, key)
	return nil
}

// Sweep removes expired challenges and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.challenges {
		if now.After(c.ExpiresAt) {
			delete(s.challenges, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored challenges.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}
