package processor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/entity-extractor/internal/chunker"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/llm"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

// DefaultChunkWorkers bounds concurrent provider calls per job.
const DefaultChunkWorkers = 3

// ExtractStage runs the provider call for every chunk of a job with a bounded
// worker pool. A failed chunk does not stop the remaining chunks; usage and
// cost are recorded for every attempt, successful or not.
type ExtractStage struct {
	Jobs       repository.JobRepository
	Candidates repository.CandidateRepository
	Extractor  llm.EntityExtractor
	Workers    int
	Logger     *slog.Logger
}

func NewExtractStage(jobs repository.JobRepository, candidates repository.CandidateRepository, extractor llm.EntityExtractor, workers int, logger *slog.Logger) *ExtractStage {
	if workers <= 0 {
		workers = DefaultChunkWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStage{Jobs: jobs, Candidates: candidates, Extractor: extractor, Workers: workers, Logger: logger}
}

type chunkOutcome struct {
	candidates int
	err        error
}

// Run extracts the chunks and returns the number of candidates produced. When
// chunks fail, the error of the earliest failed chunk is returned after all
// dispatched chunks have finished. Cancellation is observed between chunks;
// the in-flight ones are allowed to finish.
func (s *ExtractStage) Run(ctx context.Context, job *entity.ExtractionJob, chunks []chunker.Chunk) (int, error) {
	var g errgroup.Group
	g.SetLimit(s.Workers)

	outcomes := make([]chunkOutcome, len(chunks))
	dispatched := 0
	for _, ch := range chunks {
		if ctx.Err() != nil {
			break
		}
		ch := ch
		dispatched++
		g.Go(func() error {
			n, err := s.processChunk(ctx, job, ch)
			outcomes[ch.Index] = chunkOutcome{candidates: n, err: err}
			return nil
		})
	}
	_ = g.Wait()

	found := 0
	failed := 0
	var firstErr error
	for i := 0; i < dispatched; i++ {
		out := outcomes[i]
		if out.err != nil {
			failed++
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		found += out.candidates
	}
	if failed > 0 {
		s.Logger.Warn("pipeline.extract.partial",
			"job_id", job.ID, "failed_chunks", failed, "dispatched", dispatched, "total_chunks", len(chunks))
	}
	return found, firstErr
}

func (s *ExtractStage) processChunk(ctx context.Context, job *entity.ExtractionJob, ch chunker.Chunk) (int, error) {
	res, err := s.Extractor.Extract(ctx, llm.ExtractRequest{
		Chunk:      ch.Text,
		ChunkIndex: ch.Index,
		CharOffset: ch.CharOffset,
	})
	s.record(ctx, job.ID, ch.Index, res)

	if err != nil {
		s.Logger.Error("pipeline.chunk.failed", "job_id", job.ID, "chunk_index", ch.Index, "error", err)
		return 0, common.ChunkFailure(ch.Index, err)
	}
	if err := s.storeCandidates(ctx, job.ID, ch.Index, res.Candidates); err != nil {
		return 0, common.ChunkFailure(ch.Index, err)
	}

	s.Logger.Info("pipeline.chunk.ok",
		"job_id", job.ID, "chunk_index", ch.Index,
		"candidates", len(res.Candidates), "tokens", res.Usage.Total())
	return len(res.Candidates), nil
}

// record books usage, retries, and the processed counter for one finished
// chunk. Accounting survives cancellation; failed calls still consumed
// tokens and must show up in job cost.
func (s *ExtractStage) record(ctx context.Context, jobID int64, chunkIndex int, res *llm.ExtractResult) {
	ctx = context.WithoutCancel(ctx)
	if res != nil {
		if res.Usage.Total() > 0 || res.CostUSD > 0 {
			if err := s.Jobs.AddUsage(ctx, jobID, res.Usage.Total(), res.CostUSD); err != nil {
				s.Logger.Error("pipeline.usage.error", "job_id", jobID, "chunk_index", chunkIndex, "error", err)
			}
		}
		if res.Attempts > 1 {
			if err := s.Jobs.AddRetries(ctx, jobID, res.Attempts-1); err != nil {
				s.Logger.Error("pipeline.retries.error", "job_id", jobID, "chunk_index", chunkIndex, "error", err)
			}
		}
	}
	if err := s.Jobs.IncrementProcessed(ctx, jobID); err != nil {
		s.Logger.Error("pipeline.progress.error", "job_id", jobID, "chunk_index", chunkIndex, "error", err)
	}
}

// storeCandidates writes the chunk's candidates, retrying the write once.
// Replace-by-chunk keeps a retried write idempotent.
func (s *ExtractStage) storeCandidates(ctx context.Context, jobID int64, chunkIndex int, cands []*entity.EntityCandidate) error {
	err := s.Candidates.ReplaceChunkCandidates(ctx, jobID, chunkIndex, cands)
	if err == nil {
		return nil
	}
	s.Logger.Warn("pipeline.store.retry", "job_id", jobID, "chunk_index", chunkIndex, "error", err)
	return s.Candidates.ReplaceChunkCandidates(ctx, jobID, chunkIndex, cands)
}
