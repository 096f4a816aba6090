package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/chunker"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/estimate"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

// Config carries the provider the service is wired against. Requests may
// name a provider or model explicitly, but only the configured pair is
// accepted; anything else is a validation failure.
type Config struct {
	Provider         constants.Provider
	Model            string
	DefaultChunkSize int
}

// StartRequest is the input to Start and Estimate.
type StartRequest struct {
	Text         string
	CollectionID int64
	RequesterID  int64
	ChunkSize    int
	Provider     string
	Model        string
}

// StartResult pairs the created job with its pre-flight estimate.
type StartResult struct {
	JobID    int64           `json:"job_id"`
	Estimate entity.Estimate `json:"estimate"`
}

// Service creates jobs, hands them to the dispatcher, and tracks the
// cancel function for every job still in flight.
type Service struct {
	cfg        Config
	jobs       repository.JobRepository
	candidates repository.CandidateRepository
	dispatcher *Dispatcher
	logger     *slog.Logger

	// base is the parent of every per-job context. Job lifetimes must not
	// be tied to the HTTP request that started them.
	base context.Context

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
}

func NewService(cfg Config, jobsRepo repository.JobRepository, candidates repository.CandidateRepository, runner Runner, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Provider == "" {
		cfg.Provider = constants.ProviderOpenAI
	}
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = constants.DefaultChunkSize
	}
	s := &Service{
		cfg:        cfg,
		jobs:       jobsRepo,
		candidates: candidates,
		logger:     logger,
		base:       context.Background(),
		cancels:    make(map[int64]context.CancelFunc),
	}
	s.dispatcher = NewDispatcher(RunnerFunc(func(ctx context.Context, jobID int64) error {
		defer s.release(jobID)
		return runner.Run(ctx, jobID)
	}), logger, opts...)
	return s
}

// Start validates the request, records a pending job with its estimate,
// and queues it for asynchronous processing.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	provider, model, chunkSize, err := s.resolveOptions(req)
	if err != nil {
		return nil, err
	}
	if err := common.NewValidator().
		Field("text", req.Text, common.Required, common.MaxRunes(constants.MaxTextLength)).
		Field("collection_id", req.CollectionID, common.Positive).
		Field("requester_id", req.RequesterID, common.Positive).
		Err(); err != nil {
		return nil, err
	}

	chunks := chunker.Split(req.Text, chunkSize)
	est := estimate.New(model).ForChunks(chunks)

	job := &entity.ExtractionJob{
		CollectionID:     req.CollectionID,
		RequestedBy:      req.RequesterID,
		SourceText:       req.Text,
		ChunkSize:        chunkSize,
		TotalChunks:      len(chunks),
		Status:           constants.JobStatusPending,
		Provider:         provider,
		Model:            model,
		EstimatedTokens:  est.Tokens,
		EstimatedCostUSD: est.CostUSD,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	if err := s.dispatcher.Submit(job.ID, jobCtx); err != nil {
		s.release(job.ID)
		if _, mErr := s.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, "job queue full"); mErr != nil {
			s.logger.Error("jobs.start.mark_failed.error", "job_id", job.ID, "error", mErr)
		}
		return nil, err
	}

	s.logger.Info("jobs.start.ok",
		"job_id", job.ID,
		"collection_id", job.CollectionID,
		"chunks", job.TotalChunks,
		"estimated_tokens", est.Tokens,
	)
	return &StartResult{JobID: job.ID, Estimate: est}, nil
}

// Estimate projects chunk count, token usage, and cost without creating
// a job.
func (s *Service) Estimate(ctx context.Context, req StartRequest) (entity.Estimate, error) {
	_, model, chunkSize, err := s.resolveOptions(req)
	if err != nil {
		return entity.Estimate{}, err
	}
	if err := common.NewValidator().
		Field("text", req.Text, common.Required, common.MaxRunes(constants.MaxTextLength)).
		Err(); err != nil {
		return entity.Estimate{}, err
	}
	return estimate.New(model).ForText(req.Text, chunkSize), nil
}

// GetProgress reports a job's current state. Safe to call while the job
// is in flight; counters are updated atomically by the pipeline.
func (s *Service) GetProgress(ctx context.Context, jobID int64) (*entity.Progress, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	found, err := s.candidates.CountByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &entity.Progress{
		JobID:           job.ID,
		Status:          job.Status,
		ProcessedChunks: job.ProcessedChunks,
		TotalChunks:     job.TotalChunks,
		CandidatesFound: found,
		ActualTokens:    job.ActualTokens,
		ActualCostUSD:   job.ActualCostUSD,
		ErrorMessage:    job.ErrorMessage,
		ElapsedMS:       elapsedMS(job, time.Now()),
	}, nil
}

// Cancel stops a job. Already-terminal jobs are a no-op; the job's current
// state is returned either way. An in-flight job stops at the next chunk
// boundary and keeps the candidates it already produced.
func (s *Service) Cancel(ctx context.Context, jobID int64) (*entity.ExtractionJob, error) {
	won, err := s.jobs.MarkCancelled(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if won {
		s.release(jobID)
		s.logger.Info("jobs.cancel.ok", "job_id", jobID)
	}
	return s.jobs.GetByID(ctx, jobID)
}

// Shutdown drains the dispatcher, then cancels anything still running.
func (s *Service) Shutdown(ctx context.Context) {
	s.dispatcher.Shutdown(ctx)

	s.mu.Lock()
	pending := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		pending = append(pending, cancel)
	}
	s.cancels = make(map[int64]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range pending {
		cancel()
	}
}

func (s *Service) resolveOptions(req StartRequest) (constants.Provider, string, int, error) {
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.DefaultChunkSize
	}
	if chunkSize < 0 {
		return "", "", 0, common.ValidationError("chunk_size must be greater than zero")
	}

	provider := s.cfg.Provider
	if req.Provider != "" {
		p, ok := constants.CanonicalizeProvider(req.Provider)
		if !ok {
			return "", "", 0, common.ValidationErrorf("unknown provider %q", req.Provider)
		}
		if p != s.cfg.Provider {
			return "", "", 0, common.ValidationErrorf("provider %q is not configured, active provider is %q", p, s.cfg.Provider)
		}
		provider = p
	}

	model := s.cfg.Model
	if req.Model != "" && req.Model != s.cfg.Model {
		return "", "", 0, common.ValidationErrorf("model %q is not configured, active model is %q", req.Model, s.cfg.Model)
	}
	return provider, model, chunkSize, nil
}

func (s *Service) release(jobID int64) {
	s.mu.Lock()
	cancel := s.cancels[jobID]
	delete(s.cancels, jobID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func elapsedMS(job *entity.ExtractionJob, now time.Time) int64 {
	if job.StartedAt == nil {
		return 0
	}
	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	return end.Sub(*job.StartedAt).Milliseconds()
}
