package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamName is the JetStream stream page events are stored in.
const StreamName = "CHATMIRROR_SYNC"

// NATS publishes events to JetStream under <subject>.<source>. Publishes
// carry a content-derived message id so the stream drops duplicates of the
// same page within its dedup window.
type NATS struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATS connects to url.
func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("chatmirror"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("getting JetStream context: %w", err)
	}

	return &NATS{nc: nc, js: js, subject: strings.TrimSuffix(subject, ".")}, nil
}

// EnsureStream creates the stream if it does not exist yet.
func (p *NATS) EnsureStream(ctx context.Context) error {
	if info, err := p.js.StreamInfo(StreamName, nats.Context(ctx)); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{p.subject + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// Publish sends ev to JetStream.
func (p *NATS) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	subject := p.subject + "." + ev.Source
	if _, err := p.js.Publish(subject, payload, nats.MsgId(ev.Fingerprint()), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close closes the connection.
func (p *NATS) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
