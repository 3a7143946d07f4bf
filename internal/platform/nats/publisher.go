package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/meridian/anchorwatch/internal/event"
)

// envelope is the wire shape published to JetStream. The typed event is
// embedded as-is; the surrounding fields let consumers route without
// decoding the payload.
type envelope struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Payload   event.Event `json:"payload"`
}

// Publisher fans persisted events out to JetStream. It runs after the
// database write, so a publish failure can only delay downstream
// consumers, never lose data.
type Publisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher creates a Publisher on an established JetStream context.
func NewPublisher(js jetstream.JetStream, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:     js,
		logger: logger.With("component", "nats-publisher"),
	}
}

// Publish sends each event to its kind-specific subject. The first
// failure aborts the batch; the caller treats publish errors as
// non-fatal.
func (p *Publisher) Publish(ctx context.Context, events []event.Event) error {
	for _, ev := range events {
		data, err := json.Marshal(envelope{
			EventID:   ev.ID(),
			EventType: string(ev.Kind()),
			Signature: ev.Signature(),
			Slot:      ev.Slot(),
			Payload:   ev,
		})
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID(), err)
		}

		subject := SubjectForEvent(string(ev.Kind()))
		if _, err := p.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish %s to %s: %w", ev.ID(), subject, err)
		}
	}

	p.logger.Debug("batch published", "events", len(events))
	return nil
}
