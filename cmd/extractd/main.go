package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/dedup"
	"github.com/lorekeep/entity-extractor/internal/export"
	"github.com/lorekeep/entity-extractor/internal/ingest"
	"github.com/lorekeep/entity-extractor/internal/jobs"
	"github.com/lorekeep/entity-extractor/internal/llm/factory"
	"github.com/lorekeep/entity-extractor/internal/materialize"
	processor "github.com/lorekeep/entity-extractor/internal/pipeline"
	repo "github.com/lorekeep/entity-extractor/internal/repository"
	"github.com/lorekeep/entity-extractor/internal/review"
	"github.com/lorekeep/entity-extractor/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repo.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close(pool, logger)

	if err := repo.HealthCheck(ctx, pool, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
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

	var semantic dedup.SemanticMatcher
	if embedder := factory.NewSemanticMatcher(cfg.LLM, logger); embedder != nil {
		semantic = dedup.NewEmbeddingMatcher(embedder)
	}
	detector := dedup.NewDetector(dedup.Config{
		FuzzyThreshold:    cfg.Dedup.FuzzyThreshold,
		SemanticThreshold: cfg.Dedup.SemanticThreshold,
	}, semantic, logger)

	extractStage := processor.NewExtractStage(jobsRepo, candidatesRepo, extractor, cfg.Pipeline.ChunkWorkers, logger)
	dedupStage := processor.NewDedupStage(candidatesRepo, matchesRepo, entitiesRepo, detector, logger)
	proc := processor.NewProcessor(logger, jobsRepo, extractStage, dedupStage)

	jobService := jobs.NewService(jobs.Config{
		Provider:         cfg.LLM.Provider,
		Model:            model,
		DefaultChunkSize: cfg.Pipeline.DefaultChunkLen,
	}, jobsRepo, candidatesRepo, proc, logger,
		jobs.WithWorkers(cfg.Pipeline.JobWorkers),
		jobs.WithQueueSize(cfg.Pipeline.JobQueueSize),
	)
	reviewService := review.NewService(candidatesRepo, matchesRepo, entitiesRepo, logger)
	materializer := materialize.NewService(jobsRepo, candidatesRepo, entitiesRepo, logger)
	exporter := export.NewService(jobsRepo, candidatesRepo, matchesRepo, logger)

	health := func(ctx context.Context) error {
		return repo.HealthCheck(ctx, pool, 3*time.Second, logger)
	}
	srv := server.NewServer(cfg.Server, jobService, reviewService, materializer, exporter,
		candidatesRepo, entitiesRepo, health, logger)

	if cfg.Ingest.WatchDir != "" {
		if cfg.Ingest.CollectionID <= 0 || cfg.Ingest.RequesterID <= 0 {
			logger.Warn("watch dir configured without collection/requester, ingestion disabled",
				"dir", cfg.Ingest.WatchDir)
		} else {
			watcher := ingest.NewService(jobService, cfg.Ingest, logger)
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("ingest watcher stopped", "error", err)
				}
			}()
		}
	}

	logger.Info("extractd starting",
		"provider", string(cfg.LLM.Provider),
		"model", model,
		"addr", cfg.Server.Addr,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http serve error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	jobService.Shutdown(shutdownCtx)
	logger.Info("extractd stopped")
}
