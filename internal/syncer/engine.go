package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/chatmirror/internal/chat"
)

// RecordSink merges records into the local store.
type RecordSink interface {
	UpsertChats(ctx context.Context, records []chat.Record, markArchived bool) error
}

// WatermarkStore persists the newest record time seen per source.
type WatermarkStore interface {
	GetLastSyncTime(ctx context.Context, key string) (time.Time, bool, error)
	SetLastSyncTime(ctx context.Context, key string, t time.Time) error
}

// ResultRecorder stores the outcome of each source run.
type ResultRecorder interface {
	RecordSourceResult(ctx context.Context, key string, count int, runErr error) error
}

// Engine syncs remote chat listings into the local store. Sources and pages
// are processed strictly in sequence.
type Engine struct {
	remote   Remote
	sink     RecordSink
	marks    WatermarkStore
	results  ResultRecorder
	maxPages int
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine creates an Engine. If maxPages is <= 0, it defaults to
// DefaultMaxPages.
func NewEngine(remote Remote, sink RecordSink, marks WatermarkStore, maxPages int) *Engine {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Engine{
		remote:   remote,
		sink:     sink,
		marks:    marks,
		maxPages: maxPages,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
}

// SetResultRecorder enables per-source status bookkeeping.
func (e *Engine) SetResultRecorder(r ResultRecorder) {
	e.results = r
}

// Remote returns the remote the engine fetches from.
func (e *Engine) Remote() Remote {
	return e.remote
}

// SyncSource runs one source to completion and advances its watermark. It
// returns the number of records stored, counting repeats.
func (e *Engine) SyncSource(ctx context.Context, src Source, onPage PageFunc) (int, error) {
	n, err := e.syncSource(ctx, src, onPage)
	if e.results != nil {
		if recErr := e.results.RecordSourceResult(ctx, src.Key, n, err); recErr != nil {
			e.logger.Warn("recording source result failed", "source", src.Key, "error", recErr)
		}
	}
	return n, err
}

func (e *Engine) syncSource(ctx context.Context, src Source, onPage PageFunc) (int, error) {
	prev, hadPrev, err := e.marks.GetLastSyncTime(ctx, src.Key)
	if err != nil {
		return 0, fmt.Errorf("loading watermark for %s: %w", src.Key, err)
	}

	var since *time.Time
	mode := "full"
	if hadPrev {
		since = &prev
		mode = "incremental"
	}
	e.logger.Info("syncing source", "source", src.Key, "mode", mode)

	res, err := e.runPager(ctx, src, since, onPage)
	if err != nil {
		return res.count, err
	}

	if res.truncated {
		// Pages past the ceiling were never seen; keep the old watermark so
		// the next run covers them again.
		e.logger.Warn("leaving watermark unchanged after truncated run", "source", src.Key, "pages", res.pages)
	} else if next, ok := nextWatermark(prev, hadPrev, res.mostRecent, e.now()); ok {
		if err := e.marks.SetLastSyncTime(ctx, src.Key, next); err != nil {
			return res.count, fmt.Errorf("saving watermark for %s: %w", src.Key, err)
		}
	}

	e.logger.Info("source synced", "source", src.Key, "records", res.count, "pages", res.pages, "truncated", res.truncated)
	return res.count, nil
}

// SyncAll syncs the inbox, every folder, then the archive. An inbox failure
// aborts the call; folder and archive failures are logged and skipped. The
// result sums the counts of sources that completed.
func (e *Engine) SyncAll(ctx context.Context, onPage PageFunc) (int, error) {
	total, err := e.SyncSource(ctx, InboxSource(e.remote), onPage)
	if err != nil {
		return 0, fmt.Errorf("syncing inbox: %w", err)
	}

	folders, err := e.remote.ListFolders(ctx)
	if err != nil {
		e.logger.Error("listing folders failed, skipping folders", "error", err)
	}
	for _, f := range folders {
		src := FolderSource(e.remote, f.ID)
		n, err := e.SyncSource(ctx, src, onPage)
		if err != nil {
			e.logger.Error("folder sync failed", "source", src.Key, "error", err)
			continue
		}
		total += n
	}

	n, err := e.SyncSource(ctx, ArchiveSource(e.remote), onPage)
	if err != nil {
		e.logger.Error("archive sync failed", "source", ArchiveKey, "error", err)
	} else {
		total += n
	}

	e.logger.Info("sync complete", "total", total)
	return total, nil
}
