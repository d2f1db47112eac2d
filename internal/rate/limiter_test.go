package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 3, LoginWindow: time.Minute})

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "a@x.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i+1, err)
		}
		if err := l.RecordLoginFailure(ctx, "a@x.com", ""); err != nil {
			t.Fatalf("RecordLoginFailure: %v", err)
		}
	}
	if err := l.CheckLogin(ctx, "a@x.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "b@x.com", ""); err != nil {
		t.Fatalf("other email should not be limited: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckLogin(ctx, "a@x.com", ""); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestResetLoginClearsEmailCounter(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{MaxLoginAttempts: 2, LoginWindow: time.Minute})

	_ = l.RecordLoginFailure(ctx, "a@x.com", "")
	if n, _ := l.LoginAttempts(ctx, "a@x.com"); n != 1 {
		t.Fatalf("expected 1 attempt, got %d", n)
	}
	if err := l.ResetLogin(ctx, "a@x.com"); err != nil {
		t.Fatalf("ResetLogin: %v", err)
	}
	if n, _ := l.LoginAttempts(ctx, "a@x.com"); n != 0 {
		t.Fatalf("expected 0 attempts after reset, got %d", n)
	}
}

func TestIPThrottle(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginWindow: time.Minute})

	_ = l.RecordLoginFailure(ctx, "a@x.com", "10.0.0.1")
	_ = l.RecordLoginFailure(ctx, "b@x.com", "10.0.0.1")

	if err := l.CheckLogin(ctx, "c@x.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP to be limited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "c@x.com", "10.0.0.2"); err != nil {
		t.Fatalf("other IP should pass: %v", err)
	}
}

func TestAllowCode(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{MaxCodeRequests: 2, CodeWindow: time.Minute})

	for i := 0; i < 2; i++ {
		if err := l.AllowCode(ctx, "signup", "a@x.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := l.AllowCode(ctx, "signup", "a@x.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.AllowCode(ctx, "reset", "a@x.com"); err != nil {
		t.Fatalf("other purpose should pass: %v", err)
	}
}

func TestNilAndDisabledLimiter(t *testing.T) {
	ctx := context.Background()
	var nilLimiter *Limiter
	if err := nilLimiter.CheckLogin(ctx, "a", "b"); err != nil {
		t.Fatalf("nil limiter should allow: %v", err)
	}
	if err := nilLimiter.AllowCode(ctx, "signup", "a"); err != nil {
		t.Fatalf("nil limiter should allow: %v", err)
	}

	l, _ := newTestLimiter(t, Config{})
	for i := 0; i < 10; i++ {
		if err := l.AllowCode(ctx, "signup", "a"); err != nil {
			t.Fatalf("disabled limiter should allow: %v", err)
		}
	}
}

func TestRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, DefaultConfig())
	mr.Close()

	if err := l.CheckLogin(context.Background(), "a@x.com", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
