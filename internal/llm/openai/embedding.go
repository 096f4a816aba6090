package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lorekeep/entity-extractor/internal/llm"
)

// EmbeddingConfig for the embeddings endpoint.
type EmbeddingConfig struct {
	APIKey  string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL string        // default https://api.openai.com/v1
	Model   string        // default text-embedding-3-small
	Timeout time.Duration // http client timeout
}

// EmbeddingClient satisfies dedup.Embedder for the semantic strategy.
type EmbeddingClient struct {
	cfg        EmbeddingConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewEmbeddingClient(cfg EmbeddingConfig, logger *slog.Logger) *EmbeddingClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Embed generates a vector embedding for the given text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model": c.cfg.Model,
		"input": []string{text},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, status, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings (status %d): %w", status, err)
	}

	var er struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, fmt.Errorf("decode openai embeddings: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, fmt.Errorf("no embedding in openai response")
	}
	return er.Data[0].Embedding, nil
}
