package users

import (
	"time"

	"github.com/google/uuid"
)

// User is the authenticated principal. The realtime pipeline only ever
// reads it; creation happens through the registration flow.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
