// Package gateway runs the realtime websocket surface of the chat
// service. Clients authenticate during the HTTP handshake via the
// access token cookie and then exchange JSON event envelopes.
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Client-to-server events.
const (
	EventMessage = "ai-message"
)

// Server-to-client events.
const (
	EventResponse      = "ai-response"
	EventResponseError = "ai-response-error"
	EventStreamStart   = "ai-stream-start"
	EventStreamChunk   = "ai-stream-chunk"
	EventStreamEnd     = "ai-stream-end"
)

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is the body of an ai-message event.
type MessagePayload struct {
	Chat    string `json:"chat"`
	Content string `json:"content"`
}

// ResponsePayload is the body of ai-response and ai-stream-end events.
type ResponsePayload struct {
	Content string `json:"content"`
	Chat    string `json:"chat"`
}

// ChunkPayload is the body of an ai-stream-chunk event.
type ChunkPayload struct {
	Chunk string `json:"chunk"`
	Chat  string `json:"chat"`
}

// StreamMarkerPayload is the body of an ai-stream-start event.
type StreamMarkerPayload struct {
	Chat string `json:"chat"`
}

// ErrorPayload is the body of an ai-response-error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// parseMessage validates an inbound ai-message payload.
func parseMessage(data json.RawMessage) (uuid.UUID, string, error) {
	var payload MessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid message payload: %w", err)
	}

	chatID, err := uuid.Parse(payload.Chat)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid chat id")
	}
	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return uuid.Nil, "", fmt.Errorf("content is required")
	}

	return chatID, content, nil
}

// envelope marshals an event frame. Marshal errors cannot happen for
// the payload types above.
func envelope(event string, data any) []byte {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return frame
}
