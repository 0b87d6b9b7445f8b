package memory

import (
	"time"

	"github.com/google/uuid"
)

// Record is one long-term memory entry. The ID is the ID of the turn
// the text came from, so re-indexing the same turn overwrites its
// record instead of duplicating it.
type Record struct {
	ID          uuid.UUID `json:"id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	ChatID      uuid.UUID `json:"chat_id"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Match is a search hit with its cosine similarity score.
type Match struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}
