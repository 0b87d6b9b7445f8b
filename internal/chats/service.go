package chats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the chat does not exist.
	ErrNotFound = errors.New("chat not found")
	// ErrNotOwner indicates the caller does not own the chat.
	ErrNotOwner = errors.New("not chat owner")
	// ErrEmptyContent indicates a turn with no usable text.
	ErrEmptyContent = errors.New("empty content")
)

// Service provides chat and turn operations over the repository.
type Service struct {
	repo Repository
}

// NewService creates a new chats service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create creates a new chat owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, title string) (*Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}

	chat := &Chat{
		OwnerID: ownerID,
		Title:   title,
	}
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		return nil, err
	}

	return chat, nil
}

// List returns the caller's chats, most recently active first.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]Chat, error) {
	return s.repo.ListChats(ctx, ownerID)
}

// GetOwned fetches a chat and verifies ownership. Every read or write
// scoped to a chat goes through this check.
func (s *Service) GetOwned(ctx context.Context, chatID, ownerID uuid.UUID) (*Chat, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrNotFound
	}
	if chat.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	return chat, nil
}

// Messages returns the full transcript of an owned chat, oldest first.
func (s *Service) Messages(ctx context.Context, chatID, ownerID uuid.UUID) ([]Message, error) {
	if _, err := s.GetOwned(ctx, chatID, ownerID); err != nil {
		return nil, err
	}

	return s.repo.ListMessages(ctx, chatID)
}

// AppendTurn records one turn in a chat. User turns carry the author ID,
// model turns do not.
func (s *Service) AppendTurn(ctx context.Context, chatID uuid.UUID, authorID *uuid.UUID, role, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if role != RoleUser && role != RoleModel && role != RoleSystem {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	msg := &Message{
		ChatID:   chatID,
		AuthorID: authorID,
		Content:  content,
		Role:     role,
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// RecentTurns returns up to limit of the newest turns in chronological
// order, ready to drop into a prompt.
func (s *Service) RecentTurns(ctx context.Context, chatID uuid.UUID, limit int) ([]Message, error) {
	msgs, err := s.repo.ListRecentMessages(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}

	// The query returns newest first; reverse in place.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}
