package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chatmirror/internal/chat"
	"github.com/kalambet/chatmirror/internal/storage"
	"github.com/kalambet/chatmirror/internal/trigger"
)

func handleSyncAll(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := deps.Syncer.SyncAll(r.Context())
		if err != nil {
			syncError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"total": total})
	}
}

func handleSyncSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := chi.URLParam(r, "source")
		n, err := deps.Syncer.SyncKey(r.Context(), source)
		if err != nil {
			syncError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"source": source, "total": n})
	}
}

// SyncStateView is the JSON form of one source's sync bookkeeping.
type SyncStateView struct {
	Source       string `json:"source"`
	LastSyncTime string `json:"last_sync_time,omitempty"`
	Status       string `json:"status"`
	LastError    string `json:"last_error,omitempty"`
	LastCount    int    `json:"last_count"`
	UpdatedAt    string `json:"updated_at"`
}

func handleListSyncState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := deps.Store.ListSyncStates(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sync state: %v", err)
			return
		}

		views := make([]SyncStateView, len(states))
		for i, st := range states {
			// The watermark may live outside SQLite.
			last, ok, err := deps.Watermarks.GetLastSyncTime(r.Context(), st.SourceKey)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load watermark: %v", err)
				return
			}
			v := SyncStateView{
				Source:    st.SourceKey,
				Status:    st.Status,
				LastError: st.LastError,
				LastCount: st.LastCount,
				UpdatedAt: chat.FormatTimestamp(st.UpdatedAt),
			}
			if ok {
				v.LastSyncTime = chat.FormatTimestamp(last)
			}
			views[i] = v
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleResetSyncState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		err := deps.Watermarks.ResetSyncState(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no watermark for %q", key)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset watermark: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

// RunView is the JSON form of one orchestrated run.
type RunView struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Total      int    `json:"total"`
	Error      string `json:"error,omitempty"`
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		runs, err := deps.Store.ListRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		views := make([]RunView, len(runs))
		for i, run := range runs {
			views[i] = RunView{
				ID:         run.ID,
				StartedAt:  chat.FormatTimestamp(run.StartedAt),
				FinishedAt: chat.FormatTimestamp(run.FinishedAt),
				Total:      run.Total,
				Error:      run.Error,
			}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

type navigationRequest struct {
	Event string `json:"event"`
}

func handleNavigation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Navigator == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "navigation-triggered sync is disabled")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req navigationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		ev, err := trigger.ParseEvent(req.Event)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Navigator.Emit(ev); err != nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "%v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}
