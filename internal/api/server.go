package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chatmirror/internal/chat"
	"github.com/kalambet/chatmirror/internal/storage"
	"github.com/kalambet/chatmirror/internal/syncer"
	"github.com/kalambet/chatmirror/internal/trigger"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Syncer runs syncs on behalf of API callers.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
	SyncKey(ctx context.Context, key string) (int, error)
}

// Watermarks reads and resets per-source watermarks.
type Watermarks interface {
	GetLastSyncTime(ctx context.Context, key string) (time.Time, bool, error)
	ResetSyncState(ctx context.Context, key string) error
}

// Navigator receives navigation signals from the UI.
type Navigator interface {
	Emit(ev trigger.Event) error
}

type Deps struct {
	Store      *storage.Store
	Syncer     Syncer
	Watermarks Watermarks   // optional; defaults to Store
	Events     http.Handler // optional; WebSocket event stream
	Navigator  Navigator    // optional; navigation-triggered sync disabled when nil
	Token      string
}

// NewHandler returns the local API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Watermarks == nil {
		deps.Watermarks = deps.Store
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/chats", handleListChats(deps))
		r.Get("/chats/{key}", handleGetChat(deps))
		r.Delete("/chats/{key}", handleDeleteChat(deps))
		r.Patch("/chats/{key}/state", handlePatchChatState(deps))

		r.Post("/sync", handleSyncAll(deps))
		r.Post("/sync/{source}", handleSyncSource(deps))
		r.Get("/sync/state", handleListSyncState(deps))
		r.Delete("/sync/state/{key}", handleResetSyncState(deps))
		r.Get("/sync/runs", handleListRuns(deps))

		r.Post("/navigation", handleNavigation(deps))
		if deps.Events != nil {
			r.Handle("/events", deps.Events)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// syncError maps engine errors onto HTTP responses.
func syncError(w http.ResponseWriter, err error) {
	var rre *chat.RemoteRequestError
	var sig *chat.DomainSignalError
	switch {
	case errors.Is(err, chat.ErrMissingIdentity):
		httpError(w, http.StatusServiceUnavailable, "missing_identity", "%v", err)
	case errors.Is(err, syncer.ErrUnknownSource):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.As(err, &sig):
		httpError(w, http.StatusConflict, sig.Signal, "%v", err)
	case errors.As(err, &rre):
		httpError(w, http.StatusBadGateway, "remote_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "sync failed: %v", err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
