package remote

import (
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/kalambet/chatmirror/internal/chat"
)

// decodeChat converts one listed chat. A chat without a counterpart cannot be
// keyed and is an error; an unparsable last_activity_at only loses the time.
func decodeChat(raw map[string]any, logger *slog.Logger) (chat.Record, error) {
	var w wireChat
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &w,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return chat.Record{}, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return chat.Record{}, fmt.Errorf("decoding chat: %w", err)
	}
	if w.CounterpartID == "" {
		return chat.Record{}, fmt.Errorf("chat without counterpart_id")
	}

	rec := chat.Record{
		Key:      chat.Key{CounterpartID: w.CounterpartID, GroupID: w.GroupID},
		Archived: w.Archived,
		Payload:  w.Extra,
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}
	if w.LastActivityAt != "" {
		if t, err := chat.ParseTimestamp(w.LastActivityAt); err == nil {
			rec.LastActivity = t
		} else {
			logger.Warn("keeping chat without last activity", "key", rec.Key.String(), "error", err)
		}
	}
	return rec, nil
}

// decodePage converts a listing body into a page. Chats that cannot be keyed
// are dropped with a warning but still count towards Raw.
func decodePage(body listResponse, logger *slog.Logger) chat.Page {
	page := chat.Page{Total: body.Total, Raw: len(body.Chats)}
	if body.MostRecent != "" {
		if t, err := chat.ParseTimestamp(body.MostRecent); err == nil {
			page.MostRecent = t
		} else {
			logger.Warn("ignoring most_recent hint", "value", body.MostRecent, "error", err)
		}
	}

	page.Records = make([]chat.Record, 0, len(body.Chats))
	for _, raw := range body.Chats {
		rec, err := decodeChat(raw, logger)
		if err != nil {
			logger.Warn("skipping malformed chat", "error", err)
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page
}
