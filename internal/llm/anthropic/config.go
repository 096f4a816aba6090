package anthropic

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// anthropicVersion is the required API version header.
const anthropicVersion = "2023-06-01"

// Config for the Anthropic client.
type Config struct {
	APIKey      string        // if empty, falls back to env ANTHROPIC_API_KEY
	BaseURL     string        // default https://api.anthropic.com
	Model       string        // e.g., "claude-sonnet-4-5"
	Temperature float32       // 0..1
	Timeout     time.Duration // http client timeout
	MaxAttempts int           // transient retry budget, default 3
	MaxTokens   int           // response token budget, default 4096
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Model reports the configured model id, used for cost attribution.
func (c *Client) Model() string {
	return c.cfg.Model
}
