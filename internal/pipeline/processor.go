// Package processor drives one extraction job end to end: claim, chunk,
// extract with a bounded worker pool, screen duplicates, finish.
package processor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lorekeep/entity-extractor/internal/chunker"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

// Processor coordinates the extract stage then the dedup stage for one job.
type Processor struct {
	Logger  *slog.Logger
	Jobs    repository.JobRepository
	Extract *ExtractStage
	Dedup   *DedupStage
}

func NewProcessor(logger *slog.Logger, jobs repository.JobRepository, extract *ExtractStage, dedup *DedupStage) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Jobs: jobs, Extract: extract, Dedup: dedup}
}

// Run processes jobID to a terminal state. The pending→processing CAS makes
// double dispatch and cancel-before-start no-ops. Chunk failures do not stop
// the remaining chunks; the job then finishes failed with the earliest chunk
// error, keeping partial candidates visible to reviewers. Cancellation stops
// dispatch at a chunk boundary; whichever of canceller and processor reaches
// the row first wins the terminal write.
func (p *Processor) Run(ctx context.Context, jobID int64) error {
	claimed, err := p.Jobs.StartProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		p.Logger.Info("processor.skip", "job_id", jobID)
		return nil
	}

	job, err := p.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}
	text, err := p.Jobs.GetSourceText(ctx, jobID)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	chunks := chunker.Split(text, job.ChunkSize)
	p.Logger.Info("processor.start",
		"job_id", jobID, "chunks", len(chunks), "provider", job.Provider, "model", job.Model)

	found, extractErr := p.Extract.Run(ctx, job, chunks)

	if ctx.Err() != nil {
		p.finishInterrupted(ctx, jobID, found)
		return ctx.Err()
	}

	// Dedup also runs on partial results so a failed job's candidates are
	// still reviewable with duplicate information.
	if dedupErr := p.Dedup.Run(ctx, job); dedupErr != nil && extractErr == nil {
		extractErr = dedupErr
	}

	if extractErr != nil {
		return p.fail(ctx, jobID, extractErr)
	}

	won, err := p.Jobs.MarkCompleted(ctx, jobID)
	if err != nil {
		return err
	}
	if !won {
		p.Logger.Info("processor.complete_race", "job_id", jobID)
		return nil
	}
	p.Logger.Info("processor.ok", "job_id", jobID, "candidates_found", found)
	return nil
}

// finishInterrupted lands a job whose context died mid-run in a terminal
// state. An explicit cancel has already marked the row, so the CAS here is
// a no-op for that path; it catches job timeouts and daemon shutdown, which
// cancel the context without touching the row.
func (p *Processor) finishInterrupted(ctx context.Context, jobID int64, found int) {
	bg := context.WithoutCancel(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if _, err := p.Jobs.MarkFailed(bg, jobID, "processing timed out"); err != nil {
			p.Logger.Error("processor.timeout_mark.error", "job_id", jobID, "error", err)
		}
		p.Logger.Warn("processor.timed_out", "job_id", jobID, "candidates_found", found)
		return
	}
	won, err := p.Jobs.MarkCancelled(bg, jobID)
	if err != nil {
		p.Logger.Error("processor.cancel_mark.error", "job_id", jobID, "error", err)
	}
	p.Logger.Info("processor.cancelled", "job_id", jobID, "candidates_found", found, "marked_here", won)
}

func (p *Processor) fail(ctx context.Context, jobID int64, cause error) error {
	if _, err := p.Jobs.MarkFailed(context.WithoutCancel(ctx), jobID, cause.Error()); err != nil {
		p.Logger.Error("processor.fail_mark.error", "job_id", jobID, "error", err)
	}
	p.Logger.Warn("processor.failed", "job_id", jobID, "error", cause)
	return cause
}
