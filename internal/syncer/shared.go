package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// RunRecorder keeps a history of orchestrated runs.
type RunRecorder interface {
	StartRun(ctx context.Context, id string) error
	FinishRun(ctx context.Context, id string, total int, runErr error) error
}

// Shared is the daemon's single entry point into the engine. Identical
// concurrent requests join the run already in flight, and different requests
// wait their turn, so two runs never overlap. Callers that join an in-flight
// run only receive its result; page events go to the Shared's own PageFunc.
type Shared struct {
	engine *Engine
	onPage PageFunc
	runs   RunRecorder
	group  singleflight.Group
	mu     sync.Mutex
	logger *slog.Logger
}

// NewShared wraps engine. onPage and runs may be nil.
func NewShared(engine *Engine, onPage PageFunc, runs RunRecorder) *Shared {
	return &Shared{
		engine: engine,
		onPage: onPage,
		runs:   runs,
		logger: slog.Default(),
	}
}

// SyncAll runs or joins a full orchestrated sync. A run started here keeps
// going when ctx is cancelled; the caller only stops waiting for it.
func (s *Shared) SyncAll(ctx context.Context) (int, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := s.group.Do("all", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		id := uuid.NewString()
		s.startRun(ctx, id)
		total, err := s.engine.SyncAll(ctx, s.onPage)
		s.finishRun(ctx, id, total, err)
		return total, err
	})
	total, _ := v.(int)
	return total, err
}

// SyncKey runs or joins a sync of the single source named by key.
func (s *Shared) SyncKey(ctx context.Context, key string) (int, error) {
	src, err := SourceForKey(s.engine.Remote(), key)
	if err != nil {
		return 0, err
	}
	ctx = context.WithoutCancel(ctx)
	v, err, _ := s.group.Do("source:"+key, func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.engine.SyncSource(ctx, src, s.onPage)
	})
	n, _ := v.(int)
	return n, err
}

func (s *Shared) startRun(ctx context.Context, id string) {
	if s.runs == nil {
		return
	}
	if err := s.runs.StartRun(ctx, id); err != nil {
		s.logger.Warn("recording run start failed", "run_id", id, "error", err)
	}
}

func (s *Shared) finishRun(ctx context.Context, id string, total int, runErr error) {
	if s.runs == nil {
		return
	}
	if err := s.runs.FinishRun(ctx, id, total, runErr); err != nil {
		s.logger.Warn("recording run finish failed", "run_id", id, "error", err)
	}
}
