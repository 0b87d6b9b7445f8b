package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry matches the audit_events table schema. One row is written per
// conversation or auth activity event consumed from the bus.
type Entry struct {
	ID          uuid.UUID  `json:"id"`
	PrincipalID uuid.UUID  `json:"principal_id"`
	EventType   string     `json:"event_type"`
	ChatID      *uuid.UUID `json:"chat_id,omitempty"`
	TurnID      *uuid.UUID `json:"turn_id,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ListParams holds pagination parameters for audit queries.
type ListParams struct {
	EventType string
	Page      int
	PageSize  int
}
