package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SyncState is the persisted per-source sync bookkeeping.
type SyncState struct {
	SourceKey    string
	LastSyncTime time.Time // zero until the first successful run
	Status       string    // "ok", "error" or "" before any run
	LastError    string
	LastCount    int
	UpdatedAt    time.Time
}

// SyncRun is one orchestrated pass over all sources.
type SyncRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Total      int
	Error      string
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	Limit    int
	Offset   int
	Archived *bool
}
