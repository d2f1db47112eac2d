// Package maintenance implements the admin backup and cleanup jobs.
package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const archivePrefix = "fleet-"
const archiveSuffix = ".tar.gz"

var ErrNotConfigured = errors.New("maintenance: data or backup directory not configured")

// Sweeper removes expired auth state. *fleetauth.Engine satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Config struct {
	DataDir   string
	BackupDir string
	// Retain is the number of newest archives kept after each run.
	// Zero keeps everything.
	Retain int
}

type BackupResult struct {
	Archive string    `json:"archive"`
	Files   int       `json:"files"`
	Bytes   int64     `json:"bytes"`
	Pruned  int       `json:"pruned"`
	TakenAt time.Time `json:"taken_at"`
}

type CleanupResult struct {
	ExpiredRemoved int `json:"expired_removed"`
	ArchivesPruned int `json:"archives_pruned"`
}

// Service runs maintenance jobs. It is safe for concurrent use; runs are
// serialized.
type Service struct {
	cfg     Config
	sweeper Sweeper
	logger  *zap.Logger
	now     func() time.Time
	lock    chan struct{}
}

func New(cfg Config, sweeper Sweeper, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		sweeper: sweeper,
		logger:  logger.Named("maintenance"),
		now:     time.Now,
		lock:    make(chan struct{}, 1),
	}
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release() { <-s.lock }

// Backup archives DataDir into BackupDir and prunes old archives.
func (s *Service) Backup(ctx context.Context) (BackupResult, error) {
	if strings.TrimSpace(s.cfg.DataDir) == "" || strings.TrimSpace(s.cfg.BackupDir) == "" {
		return BackupResult{}, ErrNotConfigured
	}
	if err := s.acquire(ctx); err != nil {
		return BackupResult{}, err
	}
	defer s.release()

	taken := s.now().UTC()
	name := archivePrefix + taken.Format("20060102T150405.000000000Z") + archiveSuffix
	path := filepath.Join(s.cfg.BackupDir, name)

	files, err := archiveDir(ctx, filepath.Clean(s.cfg.DataDir), path)
	if err != nil {
		s.logger.Error("backup failed", zap.Error(err))
		return BackupResult{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return BackupResult{}, err
	}
	pruned, err := s.prune()
	if err != nil {
		s.logger.Warn("prune failed", zap.Error(err))
	}

	res := BackupResult{Archive: name, Files: files, Bytes: info.Size(), Pruned: pruned, TakenAt: taken}
	s.logger.Info("backup written", zap.String("archive", name), zap.Int("files", files), zap.Int64("bytes", res.Bytes))
	return res, nil
}

// Cleanup sweeps expired sessions and codes, then prunes old archives.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	if err := s.acquire(ctx); err != nil {
		return CleanupResult{}, err
	}
	defer s.release()

	var res CleanupResult
	if s.sweeper != nil {
		n, err := s.sweeper.Sweep(ctx)
		res.ExpiredRemoved = n
		if err != nil {
			return res, err
		}
	}
	if s.cfg.BackupDir != "" {
		n, err := s.prune()
		res.ArchivesPruned = n
		if err != nil {
			return res, err
		}
	}
	s.logger.Info("cleanup complete", zap.Int("expired_removed", res.ExpiredRemoved), zap.Int("archives_pruned", res.ArchivesPruned))
	return res, nil
}

func (s *Service) prune() (int, error) {
	if s.cfg.Retain <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var archives []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, archivePrefix) && strings.HasSuffix(n, archiveSuffix) {
			archives = append(archives, n)
		}
	}
	if len(archives) <= s.cfg.Retain {
		return 0, nil
	}
	// Names embed a sortable UTC timestamp.
	sort.Strings(archives)
	stale := archives[:len(archives)-s.cfg.Retain]
	for _, n := range stale {
		if err := os.Remove(filepath.Join(s.cfg.BackupDir, n)); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
