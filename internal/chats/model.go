package chats

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. Replies from the generation backend are stored with
// RoleModel, matching what the prompt assembly sends back out.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Chat is a named conversation thread owned by one user.
type Chat struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	Title        string    `json:"title"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is one turn within a chat. Turns are append-only: the
// pipeline writes exactly one per inbound user message and one per
// generated reply, and nothing ever updates or deletes them.
// AuthorID is nil for model turns.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	ChatID    uuid.UUID  `json:"chat_id"`
	AuthorID  *uuid.UUID `json:"author_id,omitempty"`
	Content   string     `json:"content"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateChatRequest is used by the API to create a new chat.
type CreateChatRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}
