package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aetherchat/aether/internal/events"
)

// Consumer listens on the activity subjects and persists entries to
// the database. It runs alongside the API server when NATS is enabled.
type Consumer struct {
	repo        *Repository
	consumerMgr *events.ConsumerManager
}

// NewConsumer creates a new activity Consumer.
func NewConsumer(repo *Repository, consumerMgr *events.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, events.StreamActivity, "audit-persister", "aether.activity.>")
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", "audit-persister")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(events.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var entry *Entry

	switch msg.Subject() {
	case events.SubjectMessage:
		var event events.MessageEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			slog.Error("audit consumer: unmarshaling message event", "error", err)
			_ = msg.Nak()
			return
		}
		entry = &Entry{
			ID:          uuid.New(),
			PrincipalID: event.PrincipalID,
			EventType:   event.EventType,
			Detail:      event.Detail,
			CreatedAt:   event.Timestamp,
		}
		if event.ChatID != uuid.Nil {
			chatID := event.ChatID
			entry.ChatID = &chatID
		}
		if event.TurnID != uuid.Nil {
			turnID := event.TurnID
			entry.TurnID = &turnID
		}

	case events.SubjectAuth:
		var event events.AuthEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			slog.Error("audit consumer: unmarshaling auth event", "error", err)
			_ = msg.Nak()
			return
		}
		entry = &Entry{
			ID:          uuid.New(),
			PrincipalID: event.PrincipalID,
			EventType:   event.EventType,
			CreatedAt:   event.Timestamp,
		}

	default:
		slog.Debug("audit consumer: skipping subject", "subject", msg.Subject())
		_ = msg.Ack()
		return
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := c.repo.Insert(ctx, entry); err != nil {
		slog.Error("audit consumer: persisting entry", "error", err, "event_type", entry.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"event_type", entry.EventType,
		"principal", entry.PrincipalID,
	)
}
