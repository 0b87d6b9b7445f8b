package chats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the persistence interface for chats and their turns.
type Repository interface {
	CreateChat(ctx context.Context, chat *Chat) error
	ListChats(ctx context.Context, ownerID uuid.UUID) ([]Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*Chat, error)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error)
	ListRecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]Message, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL chats repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateChat inserts a new chat and populates generated fields.
func (r *PostgresRepository) CreateChat(ctx context.Context, chat *Chat) error {
	query := `
		INSERT INTO chats (owner_id, title, last_activity)
		VALUES ($1, $2, NOW())
		RETURNING id, last_activity, created_at
	`

	err := r.db.QueryRow(ctx, query, chat.OwnerID, chat.Title).Scan(
		&chat.ID,
		&chat.LastActivity,
		&chat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}

	return nil
}

// ListChats returns all chats owned by a user, most recently active first.
func (r *PostgresRepository) ListChats(ctx context.Context, ownerID uuid.UUID) ([]Chat, error) {
	query := `
		SELECT id, owner_id, title, last_activity, created_at
		FROM chats
		WHERE owner_id = $1
		ORDER BY last_activity DESC
	`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var result []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastActivity, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}

	return result, nil
}

// GetChat fetches a chat by ID. Returns nil if not found.
func (r *PostgresRepository) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	query := `
		SELECT id, owner_id, title, last_activity, created_at
		FROM chats
		WHERE id = $1
	`

	var c Chat
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastActivity, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	return &c, nil
}

// AppendMessage inserts a turn and bumps the chat's last_activity in a
// single transaction so the chat listing order stays consistent.
func (r *PostgresRepository) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO messages (chat_id, author_id, content, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err = tx.QueryRow(ctx, insert, msg.ChatID, msg.AuthorID, msg.Content, msg.Role).Scan(
		&msg.ID,
		&msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	touch := `UPDATE chats SET last_activity = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, touch, msg.ChatID, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to touch chat activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	return nil
}

// ListMessages returns every turn in a chat in chronological order.
func (r *PostgresRepository) ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	query := `
		SELECT id, chat_id, author_id, content, role, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListRecentMessages returns the newest turns of a chat, newest first.
// Callers that need chronological order reverse the slice themselves.
func (r *PostgresRepository) ListRecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]Message, error) {
	query := `
		SELECT id, chat_id, author_id, content, role, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var result []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.AuthorID, &m.Content, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return result, nil
}
