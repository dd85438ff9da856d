package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chatmirror/internal/chat"
	"github.com/kalambet/chatmirror/internal/storage"
)

// ChatView is the JSON form of a stored chat.
type ChatView struct {
	Key           string         `json:"key"`
	CounterpartID string         `json:"counterpart_id"`
	GroupID       string         `json:"group_id"`
	LastActivity  string         `json:"last_activity,omitempty"`
	Archived      bool           `json:"archived"`
	Payload       map[string]any `json:"payload"`
	LocalState    map[string]any `json:"local_state"`
	FirstSeenAt   string         `json:"first_seen_at"`
	SyncedAt      string         `json:"synced_at"`
}

func toView(c chat.Chat) ChatView {
	return ChatView{
		Key:           c.Key.String(),
		CounterpartID: c.Key.CounterpartID,
		GroupID:       c.Key.GroupID,
		LastActivity:  chat.FormatTimestamp(c.LastActivity),
		Archived:      c.Archived,
		Payload:       c.Payload,
		LocalState:    c.LocalState,
		FirstSeenAt:   chat.FormatTimestamp(c.FirstSeenAt),
		SyncedAt:      chat.FormatTimestamp(c.SyncedAt),
	}
}

type chatList struct {
	Chats []ChatView `json:"chats"`
	Total int        `json:"total"`
}

func handleListChats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.ChatFilter{
			Limit:  parseIntParam(r, "limit", 50, 500),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		if s := r.URL.Query().Get("archived"); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "archived must be true or false")
				return
			}
			f.Archived = &b
		}

		chats, err := deps.Store.ListChats(r.Context(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list chats: %v", err)
			return
		}
		total, err := deps.Store.CountChats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count chats: %v", err)
			return
		}

		views := make([]ChatView, len(chats))
		for i, c := range chats {
			views[i] = toView(c)
		}
		writeJSON(w, http.StatusOK, chatList{Chats: views, Total: total})
	}
}

func chatKeyParam(w http.ResponseWriter, r *http.Request) (chat.Key, bool) {
	key, err := chat.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return chat.Key{}, false
	}
	return key, true
}

func handleGetChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := chatKeyParam(w, r)
		if !ok {
			return
		}

		c, err := deps.Store.GetChat(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get chat: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toView(c))
	}
}

func handleDeleteChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := chatKeyParam(w, r)
		if !ok {
			return
		}

		err := deps.Store.DeleteChat(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete chat: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handlePatchChatState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := chatKeyParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if patch == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "body must be a JSON object")
			return
		}

		err := deps.Store.MergeLocalState(r.Context(), key, patch)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update local state: %v", err)
			return
		}

		c, err := deps.Store.GetChat(r.Context(), key)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload chat: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toView(c))
	}
}
