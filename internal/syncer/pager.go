package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/chatmirror/internal/chat"
)

// DefaultMaxPages bounds a single source run against a server that never
// returns an empty page.
const DefaultMaxPages = 500

// PageFunc is called after each page has been stored and before the next
// page is fetched. runningTotal counts records stored so far for source.
// A returned error aborts the source run.
type PageFunc func(ctx context.Context, source string, records []chat.Record, runningTotal int) error

type pageResult struct {
	count      int
	mostRecent time.Time // zero when no timestamp was observed
	pages      int
	truncated  bool
}

// runPager drives src from page 0 until its stop condition. since is nil for
// a full run; otherwise the run stops after the first page whose records are
// all at or before *since. Records without a time count as at or before it.
func (e *Engine) runPager(ctx context.Context, src Source, since *time.Time, onPage PageFunc) (pageResult, error) {
	var res pageResult
	var hint time.Time

	for page := 0; ; page++ {
		if page >= e.maxPages {
			res.truncated = true
			e.logger.Warn("page ceiling reached, stopping source", "source", src.Key, "page", page)
			break
		}

		p, err := src.Fetch(ctx, page)
		if err != nil {
			return res, fmt.Errorf("fetching %s page %d: %w", src.Key, page, err)
		}
		res.pages++
		if p.Exhausted() {
			break
		}
		if len(p.Records) == 0 {
			e.logger.Warn("no usable records on page, continuing", "source", src.Key, "page", page, "listed", p.Raw)
			continue
		}

		if err := e.sink.UpsertChats(ctx, p.Records, src.MarkArchived); err != nil {
			return res, fmt.Errorf("storing %s page %d: %w", src.Key, page, err)
		}
		res.count += len(p.Records)

		caughtUp := true
		for _, r := range p.Records {
			if r.LastActivity.After(res.mostRecent) {
				res.mostRecent = r.LastActivity
			}
			if since != nil && r.LastActivity.After(*since) {
				caughtUp = false
			}
		}
		if p.MostRecent.After(hint) {
			hint = p.MostRecent
		}

		e.logger.Debug("page synced", "source", src.Key, "page", page, "records", len(p.Records), "total", res.count)

		if onPage != nil {
			if err := onPage(ctx, src.Key, p.Records, res.count); err != nil {
				return res, fmt.Errorf("page callback for %s page %d: %w", src.Key, page, err)
			}
		}

		if since != nil && caughtUp {
			break
		}
	}

	if res.mostRecent.IsZero() {
		res.mostRecent = hint
	}
	return res, nil
}

// nextWatermark applies the watermark update policy. ok is false when the
// stored value must be left alone.
func nextWatermark(prev time.Time, hadPrev bool, observed, now time.Time) (time.Time, bool) {
	switch {
	case !hadPrev && observed.IsZero():
		return now, true
	case !hadPrev:
		return observed, true
	case observed.IsZero():
		return time.Time{}, false
	case observed.Before(prev):
		return time.Time{}, false
	default:
		return observed, true
	}
}
