package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/lorekeep/entity-extractor/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Dedup    DedupConfig
	Ingest   IngestConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// LLMConfig holds provider configuration
type LLMConfig struct {
	Provider         constants.Provider
	Model            string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	Temperature      float32
	Timeout          time.Duration
	MaxAttempts      int
	RequestsPerSec   float64
	EmbeddingModel   string
	SemanticMatching bool
}

// PipelineConfig holds per-job processing knobs
type PipelineConfig struct {
	ChunkWorkers    int
	JobWorkers      int
	JobQueueSize    int
	DefaultChunkLen int
}

// DedupConfig holds duplicate-detection thresholds
type DedupConfig struct {
	FuzzyThreshold    int
	SemanticThreshold int
}

// IngestConfig holds drop-directory watcher configuration
type IngestConfig struct {
	WatchDir     string
	CollectionID int64
	RequesterID  int64
	Debounce     time.Duration
}

// LoadConfig loads configuration from environment variables. A .env file
// in the working directory is applied first when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	provider, _ := constants.CanonicalizeProvider(getEnv("LLM_PROVIDER", string(constants.ProviderOpenAI)))

	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			RequestTimeout:  getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  []string{getEnv("HTTP_ALLOWED_ORIGIN", "http://localhost:5173")},
		},
		LLM: LLMConfig{
			Provider:         provider,
			Model:            getEnv("LLM_MODEL", ""),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			Temperature:      getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:          getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
			MaxAttempts:      getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
			RequestsPerSec:   getEnvAsFloat64("LLM_REQUESTS_PER_SEC", 2.0),
			EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			SemanticMatching: getEnvAsBool("SEMANTIC_MATCHING", false),
		},
		Pipeline: PipelineConfig{
			ChunkWorkers:    getEnvAsInt("CHUNK_WORKERS", 3),
			JobWorkers:      getEnvAsInt("JOB_WORKERS", 4),
			JobQueueSize:    getEnvAsInt("JOB_QUEUE_SIZE", 64),
			DefaultChunkLen: getEnvAsInt("DEFAULT_CHUNK_SIZE", constants.DefaultChunkSize),
		},
		Dedup: DedupConfig{
			FuzzyThreshold:    getEnvAsInt("FUZZY_THRESHOLD", 85),
			SemanticThreshold: getEnvAsInt("SEMANTIC_THRESHOLD", 80),
		},
		Ingest: IngestConfig{
			WatchDir:     getEnv("WATCH_DIR", ""),
			CollectionID: getEnvAsInt64("WATCH_COLLECTION_ID", 0),
			RequesterID:  getEnvAsInt64("WATCH_REQUESTER_ID", 0),
			Debounce:     getEnvAsDuration("WATCH_DEBOUNCE", 2*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError(CodeValidation, "DB_URL is required", nil)
	}
	if c.LLM.Provider == "" {
		return NewAppError(CodeValidation, "LLM_PROVIDER must be one of: openai, anthropic", nil)
	}
	if c.LLM.Provider == constants.ProviderOpenAI && c.LLM.OpenAIAPIKey == "" {
		return NewAppError(CodeValidation, "OPENAI_API_KEY is required", nil)
	}
	if c.LLM.Provider == constants.ProviderAnthropic && c.LLM.AnthropicAPIKey == "" {
		return NewAppError(CodeValidation, "ANTHROPIC_API_KEY is required", nil)
	}
	if c.Server.Addr == "" {
		return NewAppError(CodeValidation, "HTTP_ADDR is required", nil)
	}
	if c.Pipeline.ChunkWorkers < 1 {
		return NewAppError(CodeValidation, "CHUNK_WORKERS must be at least 1", nil)
	}
	if c.Dedup.FuzzyThreshold < 0 || c.Dedup.FuzzyThreshold > 100 {
		return NewAppError(CodeValidation, "FUZZY_THRESHOLD must be within 0..100", nil)
	}
	return nil
}
