package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/aetherchat/aether/internal/config"
)

// GeminiClient implements Embedder and Generator against the Gemini
// API through langchaingo.
type GeminiClient struct {
	llm         *googleai.GoogleAI
	embedder    embeddings.Embedder
	chatModel   string
	embedModel  string
	temperature float64
	dimension   int
}

// NewGeminiClient creates a Gemini-backed client from configuration.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, dimension int) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key required")
	}

	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(cfg.ChatModel),
		googleai.WithDefaultEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create gemini embedder: %w", err)
	}

	return &GeminiClient{
		llm:         llm,
		embedder:    embedder,
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbeddingModel,
		temperature: cfg.Temperature,
		dimension:   dimension,
	}, nil
}

// Embed generates an embedding vector for text.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vectors, err := c.embedder.EmbedDocuments(ctx, []string{text})
	duration := time.Since(start)

	if err != nil {
		slog.Warn("embedding failed", "model", c.embedModel, "text_len", len(text), "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	embedding := vectors[0]
	if len(embedding) != c.dimension {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(embedding), c.dimension)
	}

	slog.Debug("embedding complete", "model", c.embedModel, "text_len", len(text), "duration_ms", duration.Milliseconds())
	return embedding, nil
}

// Dimension returns the expected embedding dimension.
func (c *GeminiClient) Dimension() int {
	return c.dimension
}

// Generate produces a reply for the transcript.
func (c *GeminiClient) Generate(ctx context.Context, turns []Turn) (string, error) {
	response, err := c.llm.GenerateContent(ctx, buildMessages(turns),
		llms.WithModel(c.chatModel),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}

// GenerateStream produces a reply for the transcript, calling onChunk
// with each piece as the model emits it.
func (c *GeminiClient) GenerateStream(ctx context.Context, turns []Turn, onChunk func(string)) (string, error) {
	response, err := c.llm.GenerateContent(ctx, buildMessages(turns),
		llms.WithModel(c.chatModel),
		llms.WithTemperature(c.temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				onChunk(string(chunk))
			}
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("generate stream: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}
