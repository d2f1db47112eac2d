package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backend struct {
	name  string
	store func(t *testing.T, clock *fakeClock) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", store: func(t *testing.T, clock *fakeClock) Store {
			return NewMemoryStore(clock.Now)
		}},
		{name: "redis", store: func(t *testing.T, clock *fakeClock) Store {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis.Run failed: %v", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() {
				rdb.Close()
				mr.Close()
			})
			return NewRedisStore(rdb, "fo", clock.Now)
		}},
	}
}

func newTestVerifier(t *testing.T, store Store, clock *fakeClock) *Verifier {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Pepper = []byte("test-pepper")
	cfg.Now = clock.Now
	v, err := NewVerifier(store, cfg)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func forEachBackend(t *testing.T, fn func(t *testing.T, v *Verifier, clock *fakeClock)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
			fn(t, newTestVerifier(t, b.store(t, clock), clock), clock)
		})
	}
}

func TestIssueAndVerify(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, _ *fakeClock) {
		ctx := context.Background()
		code, err := v.Issue(ctx, "A@X.com", PurposeSignup)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6-digit code, got %q", code)
		}

		if err := v.Verify(ctx, " a@x.com ", PurposeSignup, code); err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if err := v.Verify(ctx, "a@x.com", PurposeSignup, code); !errors.Is(err, ErrMismatch) {
			t.Fatalf("replay: expected ErrMismatch, got %v", err)
		}
	})
}

func TestSupersededCodeIsMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, _ *fakeClock) {
		ctx := context.Background()
		first, err := v.Issue(ctx, "a@x.com", PurposeReset)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		second, err := v.Issue(ctx, "a@x.com", PurposeReset)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if first == second {
			t.Skip("codes collided; supersede cannot be observed")
		}

		if err := v.Verify(ctx, "a@x.com", PurposeReset, first); !errors.Is(err, ErrMismatch) {
			t.Fatalf("old code: expected ErrMismatch, got %v", err)
		}
		if err := v.Verify(ctx, "a@x.com", PurposeReset, second); err != nil {
			t.Fatalf("new code: %v", err)
		}
	})
}

func TestFiveWrongThenExhaustedEvenWithCorrectCode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, _ *fakeClock) {
		ctx := context.Background()
		code, err := v.Issue(ctx, "b@x.com", PurposeSignup)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		for i := 1; i <= 5; i++ {
			if err := v.Verify(ctx, "b@x.com", PurposeSignup, wrongCode(code)); !errors.Is(err, ErrMismatch) {
				t.Fatalf("attempt %d: expected ErrMismatch, got %v", i, err)
			}
		}
		if err := v.Verify(ctx, "b@x.com", PurposeSignup, code); !errors.Is(err, ErrExhausted) {
			t.Fatalf("attempt 6: expected ErrExhausted, got %v", err)
		}
		if err := v.Verify(ctx, "b@x.com", PurposeSignup, code); !errors.Is(err, ErrExhausted) {
			t.Fatalf("attempt 7: expected ErrExhausted, got %v", err)
		}

		fresh, err := v.Issue(ctx, "b@x.com", PurposeSignup)
		if err != nil {
			t.Fatalf("re-Issue: %v", err)
		}
		if err := v.Verify(ctx, "b@x.com", PurposeSignup, fresh); err != nil {
			t.Fatalf("fresh challenge should verify: %v", err)
		}
	})
}

func TestFourWrongThenCorrectSucceeds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, _ *fakeClock) {
		ctx := context.Background()
		code, err := v.Issue(ctx, "c@x.com", PurposeSignup)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		for i := 0; i < 4; i++ {
			_ = v.Verify(ctx, "c@x.com", PurposeSignup, wrongCode(code))
		}
		if err := v.Verify(ctx, "c@x.com", PurposeSignup, code); err != nil {
			t.Fatalf("fifth attempt with correct code: %v", err)
		}
	})
}

func TestExpiredChallenge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, clock *fakeClock) {
		ctx := context.Background()
		code, err := v.Issue(ctx, "d@x.com", PurposeReset)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		clock.Advance(10*time.Minute + time.Second)
		if err := v.Verify(ctx, "d@x.com", PurposeReset, code); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
		if err := v.Verify(ctx, "d@x.com", PurposeReset, code); !errors.Is(err, ErrMismatch) {
			t.Fatalf("expired challenge should be removed, got %v", err)
		}
	})
}

func TestPurposesAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, _ *fakeClock) {
		ctx := context.Background()
		code, err := v.Issue(ctx, "e@x.com", PurposeSignup)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if err := v.Verify(ctx, "e@x.com", PurposeReset, code); !errors.Is(err, ErrMismatch) {
			t.Fatalf("cross-purpose verify: expected ErrMismatch, got %v", err)
		}
		if err := v.Verify(ctx, "e@x.com", PurposeSignup, code); err != nil {
			t.Fatalf("same-purpose verify: %v", err)
		}
	})
}

func TestNoChallengeIsMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, _ *fakeClock) {
		if err := v.Verify(context.Background(), "nobody@x.com", PurposeSignup, "123456"); !errors.Is(err, ErrMismatch) {
			t.Fatalf("expected ErrMismatch, got %v", err)
		}
	})
}

func TestConcurrentVerifyAcceptsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, v *Verifier, _ *fakeClock) {
		ctx := context.Background()
		code, err := v.Issue(ctx, "f@x.com", PurposeSignup)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		var ok int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if v.Verify(ctx, "f@x.com", PurposeSignup, code) == nil {
					atomic.AddInt32(&ok, 1)
				}
			}()
		}
		wg.Wait()
		if ok != 1 {
			t.Fatalf("expected exactly one success, got %d", ok)
		}
	})
}

func TestInvalidPurpose(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, NewMemoryStore(clock.Now), clock)
	if _, err := v.Issue(context.Background(), "a@x.com", Purpose("login")); !errors.Is(err, ErrInvalidPurpose) {
		t.Fatalf("expected ErrInvalidPurpose, got %v", err)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore(clock.Now)
	v := newTestVerifier(t, store, clock)

	if _, err := v.Issue(ctx, "a@x.com", PurposeSignup); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock.Advance(5 * time.Minute)
	if _, err := v.Issue(ctx, "b@x.com", PurposeSignup); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock.Advance(6 * time.Minute)

	n, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("expected 1 swept and 1 left, got %d and %d", n, store.Len())
	}
}

func TestRedisStoreOnlyKeepsHash(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, NewRedisStore(rdb, "fo", clock.Now), clock)

	code, err := v.Issue(context.Background(), "a@x.com", PurposeSignup)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	raw, err := mr.Get("fo:signup:a@x.com")
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if len(raw) != challengeRecordSize {
		t.Fatalf("unexpected record size %d", len(raw))
	}
	if ttl := mr.TTL("fo:signup:a@x.com"); ttl != 10*time.Minute {
		t.Fatalf("expected 10m ttl, got %v", ttl)
	}
	if strings.Contains(raw, code) {
		t.Fatal("plaintext code must not be stored")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, NewRedisStore(rdb, "fo", clock.Now), clock)
	if _, err := v.Issue(context.Background(), "a@x.com", PurposeSignup); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Issue: expected ErrUnavailable, got %v", err)
	}
	if err := v.Verify(context.Background(), "a@x.com", PurposeSignup, "123456"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Verify: expected ErrUnavailable, got %v", err)
	}
}
