package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/chunker"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/llm"
	"github.com/lorekeep/entity-extractor/internal/llm/factory"
)

// llmprobe sends the first chunk of a text file to the configured provider
// and prints what came back. Useful for eyeballing prompt changes and
// measuring per-call latency and cost without a database.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: llmprobe <text-file> [times]")
		os.Exit(2)
	}
	path := os.Args[1]
	times := 1
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if cfg.LLM.Provider == constants.ProviderOpenAI && cfg.LLM.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}
	if cfg.LLM.Provider == constants.ProviderAnthropic && cfg.LLM.AnthropicAPIKey == "" {
		logger.Error("ANTHROPIC_API_KEY env var is required")
		os.Exit(2)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read file", "path", path, "error", err)
		os.Exit(1)
	}
	chunks := chunker.Split(string(data), cfg.Pipeline.DefaultChunkLen)
	if len(chunks) == 0 {
		logger.Error("file produced no chunks", "path", path)
		os.Exit(1)
	}
	first := chunks[0]

	extractor, model, err := factory.NewExtractor(cfg.LLM, logger)
	if err != nil {
		logger.Error("failed to build provider client", "error", err)
		os.Exit(1)
	}

	base := filepath.Base(path)
	logger.Info("probe.start",
		"file", base,
		"provider", string(cfg.LLM.Provider),
		"model", model,
		"chunk_chars", len(first.Text),
		"times", times,
	)

	for i := 1; i <= times; i++ {
		runCtx, cancelRun := context.WithTimeout(context.Background(), 2*time.Minute)
		start := time.Now()

		result, err := extractor.Extract(runCtx, llm.ExtractRequest{
			Chunk:      first.Text,
			ChunkIndex: first.Index,
			CharOffset: first.CharOffset,
		})
		cancelRun()

		if err != nil {
			logger.Error("probe.run.error", "iter", i, "error", err,
				"attempts", result.Attempts, "cost_usd", result.CostUSD)
			continue
		}

		logger.Info("probe.run.ok",
			"iter", i,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"candidates", len(result.Candidates),
			"input_tokens", result.Usage.InputTokens,
			"output_tokens", result.Usage.OutputTokens,
			"cost_usd", result.CostUSD,
			"attempts", result.Attempts,
		)
		for _, c := range result.Candidates {
			logger.Info("probe.candidate",
				"name", c.Name,
				"type", string(c.EntityType),
				"confidence", c.Confidence,
				"aliases", c.Aliases,
			)
		}
	}

	logger.Info("done", "file", base, "times", times)
}
