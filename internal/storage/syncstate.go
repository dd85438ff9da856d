package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetLastSyncTime returns the watermark for key. ok is false when the source
// has never completed a sync.
func (s *Store) GetLastSyncTime(ctx context.Context, key string) (time.Time, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_sync_time FROM sync_state WHERE source_key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows || (err == nil && (!raw.Valid || raw.String == "")) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("loading watermark for %s: %w", key, err)
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetLastSyncTime stores the watermark for key unconditionally. Monotonicity
// is the caller's policy.
func (s *Store) SetLastSyncTime(ctx context.Context, key string, t time.Time) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (source_key, last_sync_time, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source_key) DO UPDATE SET
			last_sync_time = excluded.last_sync_time,
			updated_at = excluded.updated_at`,
		key, formatTime(t), now,
	)
	if err != nil {
		return fmt.Errorf("saving watermark for %s: %w", key, err)
	}
	return nil
}

// RecordSourceResult stores the outcome of one source run without touching
// its watermark.
func (s *Store) RecordSourceResult(ctx context.Context, key string, count int, runErr error) error {
	status, msg := "ok", ""
	if runErr != nil {
		status, msg = "error", runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (source_key, status, last_error, last_count, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_key) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			last_count = excluded.last_count,
			updated_at = excluded.updated_at`,
		key, status, msg, count, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("recording result for %s: %w", key, err)
	}
	return nil
}

// ListSyncStates returns bookkeeping for every source seen so far.
func (s *Store) ListSyncStates(ctx context.Context) ([]SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_key, last_sync_time, status, last_error, last_count, updated_at
		FROM sync_state ORDER BY source_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SyncState
	for rows.Next() {
		var st SyncState
		var last sql.NullString
		var updated string
		if err := rows.Scan(&st.SourceKey, &last, &st.Status, &st.LastError, &st.LastCount, &updated); err != nil {
			return nil, err
		}
		if st.LastSyncTime, err = parseTime(last.String); err != nil {
			return nil, err
		}
		if st.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

// ResetSyncState forgets a source's watermark so its next run is a full sync.
func (s *Store) ResetSyncState(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE source_key = ?`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StartRun records the beginning of an orchestrated sync.
func (s *Store) StartRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_runs (id, started_at) VALUES (?, ?)`, id, formatTime(s.now()))
	return err
}

// FinishRun closes a run started with StartRun.
func (s *Store) FinishRun(ctx context.Context, id string, total int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sync_runs SET finished_at = ?, total = ?, error = ? WHERE id = ?`,
		formatTime(s.now()), total, msg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, error
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SyncRun
	for rows.Next() {
		var r SyncRun
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &r.Total, &r.Error); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished.String); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
