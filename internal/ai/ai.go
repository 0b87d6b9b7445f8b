// Package ai provides text generation and embedding services using langchaingo.
package ai

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// Turn is one prompt message with a storage-level role.
type Turn struct {
	Role    string
	Content string
}

// Prompt roles. These match the roles turns are stored with, so a
// transcript can be handed to a Generator without translation.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Generator produces a reply from an ordered prompt transcript.
type Generator interface {
	Generate(ctx context.Context, turns []Turn) (string, error)
	// GenerateStream invokes onChunk for each piece of the reply as it
	// arrives and returns the full accumulated text.
	GenerateStream(ctx context.Context, turns []Turn, onChunk func(string)) (string, error)
}

// messageType maps a storage role onto the langchaingo message type.
// Unknown roles are treated as user input.
func messageType(role string) llms.ChatMessageType {
	switch role {
	case RoleModel:
		return llms.ChatMessageTypeAI
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// buildMessages turns the persona plus transcript into prompt messages.
func buildMessages(turns []Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(turns)+1)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, Persona))
	for _, t := range turns {
		messages = append(messages, llms.TextParts(messageType(t.Role), t.Content))
	}
	return messages
}
