package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

// JobRepository persists extraction jobs and their lifecycle transitions.
// Transition methods are compare-and-set on status and report whether this
// call performed the transition, so concurrent cancel/complete races resolve
// to exactly one winner.
type JobRepository interface {
	Create(ctx context.Context, job *entity.ExtractionJob) error
	// GetByID returns the job without its source text.
	GetByID(ctx context.Context, id int64) (*entity.ExtractionJob, error)
	GetSourceText(ctx context.Context, id int64) (string, error)
	StartProcessing(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	MarkFailed(ctx context.Context, id int64, message string) (bool, error)
	MarkCancelled(ctx context.Context, id int64) (bool, error)
	IncrementProcessed(ctx context.Context, id int64) error
	AddUsage(ctx context.Context, id int64, tokens int, costUSD float64) error
	AddRetries(ctx context.Context, id int64, n int) error
	CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error)
}

type jobRepo struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewJobRepository(db *pgxpool.Pool, log *slog.Logger) JobRepository {
	return &jobRepo{db: db, log: log}
}

const jobColumns = `id, collection_id, requested_by, chunk_size, total_chunks,
	processed_chunks, status, provider, model, estimated_tokens, actual_tokens,
	estimated_cost_usd, actual_cost_usd, entities_created, error_message,
	retry_count, created_at, started_at, completed_at`

func (r *jobRepo) Create(ctx context.Context, job *entity.ExtractionJob) error {
	query := `
		INSERT INTO extraction_jobs (
			collection_id, requested_by, source_text, chunk_size, total_chunks,
			status, provider, model, estimated_tokens, estimated_cost_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		job.CollectionID, job.RequestedBy, job.SourceText, job.ChunkSize,
		job.TotalChunks, string(job.Status), string(job.Provider), job.Model,
		job.EstimatedTokens, job.EstimatedCostUSD,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		r.log.Error("job insert failed", "collection_id", job.CollectionID, "error", err)
		return common.PersistenceError("failed to insert extraction job", err)
	}
	r.log.Info("job created", "job_id", job.ID, "collection_id", job.CollectionID, "total_chunks", job.TotalChunks)
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, id int64) (*entity.ExtractionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM extraction_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFoundError(fmt.Sprintf("extraction job %d not found", id))
		}
		return nil, common.PersistenceError("failed to get extraction job", err)
	}
	return job, nil
}

func (r *jobRepo) GetSourceText(ctx context.Context, id int64) (string, error) {
	var text string
	err := r.db.QueryRow(ctx, `SELECT source_text FROM extraction_jobs WHERE id = $1`, id).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", common.NotFoundError(fmt.Sprintf("extraction job %d not found", id))
		}
		return "", common.PersistenceError("failed to get job source text", err)
	}
	return text, nil
}

func (r *jobRepo) StartProcessing(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, id,
		`UPDATE extraction_jobs SET status = $2, started_at = now()
		 WHERE id = $1 AND status = $3`,
		string(constants.JobStatusProcessing), string(constants.JobStatusPending))
}

func (r *jobRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, id,
		`UPDATE extraction_jobs SET status = $2, completed_at = now()
		 WHERE id = $1 AND status = $3`,
		string(constants.JobStatusCompleted), string(constants.JobStatusProcessing))
}

func (r *jobRepo) MarkFailed(ctx context.Context, id int64, message string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE extraction_jobs SET status = $2, error_message = $3, completed_at = now()
		 WHERE id = $1 AND status = ANY($4)`,
		id, string(constants.JobStatusFailed), message,
		[]string{string(constants.JobStatusPending), string(constants.JobStatusProcessing)})
	if err != nil {
		r.log.Error("job transition failed", "job_id", id, "to", "failed", "error", err)
		return false, common.PersistenceError("failed to update job status", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *jobRepo) MarkCancelled(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE extraction_jobs SET status = $2, completed_at = now()
		 WHERE id = $1 AND status = ANY($3)`,
		id, string(constants.JobStatusCancelled),
		[]string{string(constants.JobStatusPending), string(constants.JobStatusProcessing)})
	if err != nil {
		r.log.Error("job transition failed", "job_id", id, "to", "cancelled", "error", err)
		return false, common.PersistenceError("failed to update job status", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *jobRepo) transition(ctx context.Context, id int64, query, to, from string) (bool, error) {
	tag, err := r.db.Exec(ctx, query, id, to, from)
	if err != nil {
		r.log.Error("job transition failed", "job_id", id, "to", to, "error", err)
		return false, common.PersistenceError("failed to update job status", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *jobRepo) IncrementProcessed(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE extraction_jobs SET processed_chunks = processed_chunks + 1 WHERE id = $1`, id)
	if err != nil {
		return common.PersistenceError("failed to increment processed chunks", err)
	}
	return nil
}

func (r *jobRepo) AddUsage(ctx context.Context, id int64, tokens int, costUSD float64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE extraction_jobs
		 SET actual_tokens = actual_tokens + $2, actual_cost_usd = actual_cost_usd + $3
		 WHERE id = $1`,
		id, tokens, costUSD)
	if err != nil {
		return common.PersistenceError("failed to add job usage", err)
	}
	return nil
}

func (r *jobRepo) AddRetries(ctx context.Context, id int64, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE extraction_jobs SET retry_count = retry_count + $2 WHERE id = $1`, id, n)
	if err != nil {
		return common.PersistenceError("failed to add job retries", err)
	}
	return nil
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM extraction_jobs GROUP BY status`)
	if err != nil {
		return nil, common.PersistenceError("failed to count jobs", err)
	}
	defer rows.Close()

	counts := make(map[constants.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, common.PersistenceError("failed to scan job count", err)
		}
		counts[constants.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("failed to iterate job counts", err)
	}
	return counts, nil
}

func scanJob(row pgx.Row) (*entity.ExtractionJob, error) {
	var job entity.ExtractionJob
	var status, provider string
	err := row.Scan(
		&job.ID, &job.CollectionID, &job.RequestedBy, &job.ChunkSize,
		&job.TotalChunks, &job.ProcessedChunks, &status, &provider, &job.Model,
		&job.EstimatedTokens, &job.ActualTokens, &job.EstimatedCostUSD,
		&job.ActualCostUSD, &job.EntitiesCreated, &job.ErrorMessage,
		&job.RetryCount, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = constants.JobStatus(status)
	job.Provider = constants.Provider(provider)
	return &job, nil
}
