// Package sweep runs periodic removal of expired sessions and codes.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Target removes expired entries and reports how many it dropped.
type Target interface {
	Sweep(ctx context.Context) (int, error)
}

const defaultTimeout = 30 * time.Second

// Sweeper invokes Target on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	cron    *cron.Cron
	target  Target
	logger  *zap.Logger
	timeout time.Duration
}

// New parses schedule (standard five-field cron or a descriptor such as
// "@every 5m") and prepares a stopped sweeper.
func New(schedule string, target Target, logger *zap.Logger) (*Sweeper, error) {
	if target == nil {
		return nil, errors.New("sweep: nil target")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, err
	}

	s := &Sweeper{
		target:  target,
		logger:  logger.Named("sweep"),
		timeout: defaultTimeout,
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.cron.Schedule(spec, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}))
	return s, nil
}

// RunOnce performs a single sweep and logs the outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.target.Sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep failed", zap.Error(err), zap.Int("removed", n))
		return n, err
	}
	s.logger.Debug("sweep complete", zap.Int("removed", n), zap.Duration("took", time.Since(start)))
	return n, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
