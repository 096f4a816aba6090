package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/dedup"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/export"
	"github.com/lorekeep/entity-extractor/internal/jobs"
	"github.com/lorekeep/entity-extractor/internal/llm/factory"
	processor "github.com/lorekeep/entity-extractor/internal/pipeline"
	repo "github.com/lorekeep/entity-extractor/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file       = flag.String("file", "", "text file to extract entities from (required)")
		collection = flag.Int64("collection", 0, "collection ID the entities belong to (required)")
		requester  = flag.Int64("requester", 1, "user ID recorded as the job requester")
		out        = flag.String("out", "", "output XLSX file path (optional, defaults to the file's directory)")
		chunkSize  = flag.Int("chunk-size", 0, "chunk size in characters (optional)")
		wait       = flag.Duration("wait", 15*time.Minute, "how long to wait for the job to finish")
	)
	flag.Parse()

	if *file == "" {
		printError("Error: --file is required\n")
		os.Exit(1)
	}
	if *collection <= 0 {
		printError("Error: --collection is required\n")
		os.Exit(1)
	}
	if *out == "" {
		base := filepath.Base(*file)
		*out = filepath.Join(filepath.Dir(*file), base[:len(base)-len(filepath.Ext(base))]+"-candidates.xlsx")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	text, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("failed to read input file", "file", *file, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	pool, err := repo.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close(pool, logger)

	if err := repo.Migrate(ctx, pool, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	jobsRepo := repo.NewJobRepository(pool, logger)
	candidatesRepo := repo.NewCandidateRepository(pool, logger)
	matchesRepo := repo.NewMatchRepository(pool, logger)
	entitiesRepo := repo.NewEntityRepository(pool, logger)

	extractor, model, err := factory.NewExtractor(cfg.LLM, logger)
	if err != nil {
		logger.Error("failed to build provider client", "error", err)
		os.Exit(1)
	}
	detector := dedup.NewDetector(dedup.Config{
		FuzzyThreshold:    cfg.Dedup.FuzzyThreshold,
		SemanticThreshold: cfg.Dedup.SemanticThreshold,
	}, nil, logger)

	extractStage := processor.NewExtractStage(jobsRepo, candidatesRepo, extractor, cfg.Pipeline.ChunkWorkers, logger)
	dedupStage := processor.NewDedupStage(candidatesRepo, matchesRepo, entitiesRepo, detector, logger)
	proc := processor.NewProcessor(logger, jobsRepo, extractStage, dedupStage)

	jobService := jobs.NewService(jobs.Config{
		Provider:         cfg.LLM.Provider,
		Model:            model,
		DefaultChunkSize: cfg.Pipeline.DefaultChunkLen,
	}, jobsRepo, candidatesRepo, proc, logger, jobs.WithWorkers(1))

	res, err := jobService.Start(ctx, jobs.StartRequest{
		Text:         string(text),
		CollectionID: *collection,
		RequesterID:  *requester,
		ChunkSize:    *chunkSize,
	})
	if err != nil {
		logger.Error("failed to start extraction", "error", err)
		os.Exit(1)
	}
	logger.Info("extraction started",
		"job_id", res.JobID,
		"chunks", res.Estimate.Chunks,
		"estimated_tokens", res.Estimate.Tokens,
		"estimated_cost_usd", res.Estimate.CostUSD,
	)

	progress, err := waitForJob(ctx, jobService, res.JobID)
	if err != nil {
		logger.Error("failed waiting for job", "job_id", res.JobID, "error", err)
		os.Exit(1)
	}
	if progress.ErrorMessage != nil {
		logger.Warn("job finished with error", "job_id", res.JobID, "status", string(progress.Status), "message", *progress.ErrorMessage)
	}

	exporter := export.NewService(jobsRepo, candidatesRepo, matchesRepo, logger)
	xlsxBytes, err := exporter.CandidatesXLSX(ctx, res.JobID)
	if err != nil {
		logger.Error("failed to export candidates", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	jobService.Shutdown(context.Background())

	fmt.Printf("Extraction complete!\n")
	fmt.Printf("- Job: %d (%s)\n", res.JobID, progress.Status)
	fmt.Printf("- Chunks: %d/%d\n", progress.ProcessedChunks, progress.TotalChunks)
	fmt.Printf("- Candidates: %d\n", progress.CandidatesFound)
	fmt.Printf("- Tokens: %d ($%.4f)\n", progress.ActualTokens, progress.ActualCostUSD)
	fmt.Printf("- Output: %s\n", *out)
}

// waitForJob polls progress until the job reaches a terminal status.
func waitForJob(ctx context.Context, svc *jobs.Service, jobID int64) (*entity.Progress, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		progress, err := svc.GetProgress(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if progress.Status.IsTerminal() {
			return progress, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
