package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kalambet/chatmirror/internal/chat"
)

// UpsertChats inserts or merges records keyed by chat identity. The batch is
// applied in one transaction so readers never observe a partial page.
//
// Remote payload fields are merged into the stored payload (RFC 7396), the
// archived flag follows the listing when reported and is forced on when
// markArchived is set, and local_state is never touched.
func (s *Store) UpsertChats(ctx context.Context, records []chat.Record, markArchived bool) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chats (counterpart_id, group_id, last_activity, archived, payload_json, local_state, first_seen_at, synced_at)
		VALUES (?, ?, ?, COALESCE(?, 0), ?, '{}', ?, ?)
		ON CONFLICT(counterpart_id, group_id) DO UPDATE SET
			last_activity = CASE WHEN excluded.last_activity = '' THEN chats.last_activity ELSE excluded.last_activity END,
			archived = CASE WHEN ? IS NULL THEN chats.archived ELSE ? END,
			payload_json = json_patch(chats.payload_json, excluded.payload_json),
			synced_at = excluded.synced_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(s.now())
	for _, r := range records {
		payload := r.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshalling payload for %s: %w", r.Key, err)
		}

		var archived sql.NullBool
		switch {
		case markArchived:
			archived = sql.NullBool{Bool: true, Valid: true}
		case r.Archived != nil:
			archived = sql.NullBool{Bool: *r.Archived, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			r.Key.CounterpartID, r.Key.GroupID, formatTime(r.LastActivity), archived,
			string(payloadJSON), now, now,
			archived, archived,
		); err != nil {
			return fmt.Errorf("upserting chat %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	return nil
}

const chatColumns = `counterpart_id, group_id, last_activity, archived, payload_json, local_state, first_seen_at, synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (chat.Chat, error) {
	var c chat.Chat
	var lastActivity, payload, local, firstSeen, synced string
	if err := row.Scan(&c.Key.CounterpartID, &c.Key.GroupID, &lastActivity, &c.Archived, &payload, &local, &firstSeen, &synced); err != nil {
		return chat.Chat{}, err
	}
	var err error
	if c.LastActivity, err = parseTime(lastActivity); err != nil {
		return chat.Chat{}, err
	}
	if c.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return chat.Chat{}, err
	}
	if c.SyncedAt, err = parseTime(synced); err != nil {
		return chat.Chat{}, err
	}
	if err := json.Unmarshal([]byte(payload), &c.Payload); err != nil {
		return chat.Chat{}, fmt.Errorf("decoding payload for %s: %w", c.Key, err)
	}
	if err := json.Unmarshal([]byte(local), &c.LocalState); err != nil {
		return chat.Chat{}, fmt.Errorf("decoding local state for %s: %w", c.Key, err)
	}
	return c, nil
}

// GetChat returns a single stored chat.
func (s *Store) GetChat(ctx context.Context, key chat.Key) (chat.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE counterpart_id = ? AND group_id = ?`,
		key.CounterpartID, key.GroupID)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return chat.Chat{}, ErrNotFound
	}
	return c, err
}

// ListChats returns stored chats, most recently active first.
func (s *Store) ListChats(ctx context.Context, f ChatFilter) ([]chat.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats`
	var args []any
	if f.Archived != nil {
		query += ` WHERE archived = ?`
		args = append(args, *f.Archived)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY last_activity DESC, counterpart_id, group_id LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []chat.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// CountChats returns the number of stored chats.
func (s *Store) CountChats(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

// DeleteChat removes a chat. Sync never deletes; this is the explicit path.
func (s *Store) DeleteChat(ctx context.Context, key chat.Key) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE counterpart_id = ? AND group_id = ?`,
		key.CounterpartID, key.GroupID)
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

// MergeLocalState merges patch into the chat's locally tracked UI state.
// Keys set to null in patch are removed.
func (s *Store) MergeLocalState(ctx context.Context, key chat.Key, patch map[string]any) error {
	b, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshalling local state: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET local_state = json_patch(local_state, ?) WHERE counterpart_id = ? AND group_id = ?`,
		string(b), key.CounterpartID, key.GroupID)
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
