// Package notify fans sync progress out to interested parties: connected UIs
// over WebSocket and downstream consumers over NATS JetStream.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/chatmirror/internal/chat"
)

// Event is emitted after each stored page.
type Event struct {
	Type         string    `json:"type"`
	Source       string    `json:"source"`
	Records      int       `json:"records"`
	RunningTotal int       `json:"running_total"`
	Keys         []string  `json:"keys"`
	At           time.Time `json:"at"`
	// Digest covers the content of the page's records, so a page listing
	// the same chats with new activity gets a different Fingerprint.
	Digest string `json:"digest"`
}

// EventPage is the Type of per-page events.
const EventPage = "page"

// PageEvent builds the event for one stored page.
func PageEvent(source string, records []chat.Record, runningTotal int, at time.Time) Event {
	keys := make([]string, len(records))
	h := sha256.New()
	for i, r := range records {
		keys[i] = r.Key.String()
		h.Write([]byte(keys[i]))
		h.Write([]byte{0})
		h.Write([]byte(chat.FormatTimestamp(r.LastActivity)))
		h.Write([]byte{0})
		if r.Archived != nil {
			fmt.Fprint(h, *r.Archived)
		}
		h.Write([]byte{0})
		// Map keys are marshalled in sorted order.
		if payload, err := json.Marshal(r.Payload); err == nil {
			h.Write(payload)
		}
		h.Write([]byte{0})
	}
	return Event{
		Type:         EventPage,
		Source:       source,
		Records:      len(records),
		RunningTotal: runningTotal,
		Keys:         keys,
		At:           at,
		Digest:       hex.EncodeToString(h.Sum(nil)[:16]),
	}
}

// Fingerprint identifies an event by content so that re-publishing the same
// page is recognisable downstream. It ignores At and the running total.
func (e Event) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(e.Type))
	h.Write([]byte{0})
	h.Write([]byte(e.Source))
	h.Write([]byte{0})
	h.Write([]byte(e.Digest))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout delivers each page event to every publisher. Delivery failures are
// logged and never abort a sync.
type Fanout struct {
	pubs   []Publisher
	now    func() time.Time
	logger *slog.Logger
}

// NewFanout creates a Fanout over pubs. Nil publishers are ignored.
func NewFanout(pubs ...Publisher) *Fanout {
	f := &Fanout{now: func() time.Time { return time.Now().UTC() }, logger: slog.Default()}
	for _, p := range pubs {
		if p != nil {
			f.pubs = append(f.pubs, p)
		}
	}
	return f
}

// OnPage has the shape of syncer.PageFunc.
func (f *Fanout) OnPage(ctx context.Context, source string, records []chat.Record, runningTotal int) error {
	ev := PageEvent(source, records, runningTotal, f.now())
	for _, p := range f.pubs {
		if err := p.Publish(ctx, ev); err != nil {
			f.logger.Warn("publishing page event failed", "source", source, "error", err)
		}
	}
	return nil
}
