package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Syncer runs one full orchestrated sync.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// Scheduler runs a full sync on a fixed interval.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Scheduler. If interval is <= 0, it defaults to 5 minutes.
func New(syncer Syncer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled sync failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// RunOnce performs a single sync and returns its total.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	total, err := s.syncer.SyncAll(ctx)
	if err != nil {
		return total, err
	}
	s.logger.Info("scheduled sync finished", "total", total, "duration", time.Since(start).Round(time.Millisecond))
	return total, nil
}
