// Package factory builds the provider client selected by configuration.
package factory

import (
	"fmt"
	"log/slog"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/llm"
	"github.com/lorekeep/entity-extractor/internal/llm/anthropic"
	"github.com/lorekeep/entity-extractor/internal/llm/openai"
)

// NewExtractor constructs the configured provider client wrapped in the
// shared rate limiter. The returned model id is the one cost estimates
// should be priced against.
func NewExtractor(cfg common.LLMConfig, logger *slog.Logger) (llm.EntityExtractor, string, error) {
	switch cfg.Provider {
	case constants.ProviderOpenAI:
		client := openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
		}, logger)
		return llm.NewRateLimitedExtractor(client, cfg.RequestsPerSec), client.Model(), nil

	case constants.ProviderAnthropic:
		client := anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
		}, logger)
		return llm.NewRateLimitedExtractor(client, cfg.RequestsPerSec), client.Model(), nil

	default:
		return nil, "", fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewSemanticMatcher wires the embedding-backed semantic strategy when it is
// enabled; callers get nil (strategy disabled) otherwise.
func NewSemanticMatcher(cfg common.LLMConfig, logger *slog.Logger) *openai.EmbeddingClient {
	if !cfg.SemanticMatching {
		return nil
	}
	return openai.NewEmbeddingClient(openai.EmbeddingConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.EmbeddingModel,
	}, logger)
}
