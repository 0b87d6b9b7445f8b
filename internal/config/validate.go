package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessSecret != "" && c.JWT.RefreshSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Gemini API key: the pipeline cannot embed or generate without it
	if c.Gemini.APIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Pipeline knobs
	if c.Pipeline.HistoryLimit < 1 {
		errs = append(errs, fmt.Sprintf("PIPELINE_HISTORY_LIMIT must be positive, got %d", c.Pipeline.HistoryLimit))
	}
	if c.Pipeline.RecallK < 1 {
		errs = append(errs, fmt.Sprintf("PIPELINE_RECALL_K must be positive, got %d", c.Pipeline.RecallK))
	}
	if c.Pipeline.EmbeddingDim < 1 {
		errs = append(errs, fmt.Sprintf("PIPELINE_EMBEDDING_DIM must be positive, got %d", c.Pipeline.EmbeddingDim))
	}
	if c.Pipeline.MaxInFlight < 1 {
		errs = append(errs, fmt.Sprintf("PIPELINE_MAX_INFLIGHT must be positive, got %d", c.Pipeline.MaxInFlight))
	}

	// Event bus: warn only, the pipeline runs without it
	if !c.NATS.Enabled {
		slog.Warn("NATS_ENABLED is false, conversation activity events will not be published")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
