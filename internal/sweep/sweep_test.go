package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingTarget struct {
	calls atomic.Int32
	err   error
}

func (c *countingTarget) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 2, c.err
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("not a schedule", &countingTarget{}, nil); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := New("@every 1m", nil, nil); err == nil {
		t.Fatal("expected nil target error")
	}
}

func TestRunOnceLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	target := &countingTarget{err: errors.New("redis down")}
	s, err := New("@every 1m", target, zap.New(core))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.RunOnce(context.Background())
	if err == nil || n != 2 {
		t.Fatalf("expected error with partial count, got %d %v", n, err)
	}
	if logs.FilterMessage("sweep failed").Len() != 1 {
		t.Fatalf("expected one failure log, got %v", logs.All())
	}
}

func TestScheduleInvokesTarget(t *testing.T) {
	target := &countingTarget{}
	s, err := New("@every 1s", target, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for target.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if target.calls.Load() == 0 {
		t.Fatal("expected at least one scheduled sweep")
	}
}
