package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing activity events.
// All methods are best effort: the message pipeline never fails
// because the event bus is down.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher. A nil Publisher is valid and
// drops every event, which is how the server runs with NATS disabled.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishMessageEvent publishes a pipeline outcome event.
func (p *Publisher) PublishMessageEvent(ctx context.Context, event MessageEvent) {
	p.publish(ctx, SubjectMessage, event)
}

// PublishAuthEvent publishes an authentication event.
func (p *Publisher) PublishAuthEvent(ctx context.Context, event AuthEvent) {
	p.publish(ctx, SubjectAuth, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) {
	if p == nil || p.js == nil {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		slog.Warn("marshaling activity event", "subject", subject, "error", err)
		return
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		slog.Warn("publishing activity event", "subject", subject, "error", err)
	}
}
