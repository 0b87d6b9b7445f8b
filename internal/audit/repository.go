// Package audit persists conversation activity events for later review.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles audit_events PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single audit entry.
func (r *Repository) Insert(ctx context.Context, entry *Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (id, principal_id, event_type, chat_id, turn_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.PrincipalID, entry.EventType, entry.ChatID, entry.TurnID, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListByPrincipal returns paginated audit entries for a principal,
// newest first, optionally filtered by event type.
func (r *Repository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, params ListParams) ([]Entry, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	offset := (params.Page - 1) * params.PageSize

	query := `
		SELECT id, principal_id, event_type, chat_id, turn_id, detail, created_at
		FROM audit_events
		WHERE principal_id = $1
	`
	args := []any{principalID}
	if params.EventType != "" {
		query += ` AND event_type = $2`
		args = append(args, params.EventType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.EventType, &e.ChatID, &e.TurnID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
