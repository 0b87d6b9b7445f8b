package events

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamActivity holds conversation activity events.
const StreamActivity = "AETHER_ACTIVITY"

// Subject constants.
const (
	SubjectMessage = "aether.activity.message"
	SubjectAuth    = "aether.activity.auth"
)

// Activity event types.
const (
	TypeMessageReceived = "message_received"
	TypeReplySent       = "reply_sent"
	TypeReplyFailed     = "reply_failed"
	TypeLogin           = "login"
	TypeRegister        = "register"
)

// MessageEvent records one pipeline outcome for a chat.
type MessageEvent struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	ChatID      uuid.UUID `json:"chat_id"`
	TurnID      uuid.UUID `json:"turn_id,omitempty"`
	EventType   string    `json:"event_type"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AuthEvent records an authentication action.
type AuthEvent struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
}
