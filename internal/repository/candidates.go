package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

// CandidateRepository persists extracted entity candidates and their review
// state. Chunk writes are replace-by-chunk so a retried chunk never leaves
// duplicate rows behind.
type CandidateRepository interface {
	ReplaceChunkCandidates(ctx context.Context, jobID int64, chunkIndex int, cands []*entity.EntityCandidate) error
	List(ctx context.Context, jobID int64, filter entity.CandidateFilter, page, perPage int) (*entity.CandidatePage, error)
	// ListByJob returns every candidate of a job ordered by chunk_index, id.
	ListByJob(ctx context.Context, jobID int64) ([]*entity.EntityCandidate, error)
	GetByID(ctx context.Context, id int64) (*entity.EntityCandidate, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*entity.EntityCandidate, error)
	// UpdateReview moves candidates to the given review status and returns
	// how many rows actually transitioned. Materialized candidates are
	// terminal and never transition.
	UpdateReview(ctx context.Context, ids []int64, to constants.CandidateStatus, reviewerID int64) (int, error)
	MarkDuplicate(ctx context.Context, id, duplicateOfID int64) error
	CountByJob(ctx context.Context, jobID int64) (int, error)
}

type candidateRepo struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewCandidateRepository(db *pgxpool.Pool, log *slog.Logger) CandidateRepository {
	return &candidateRepo{db: db, log: log}
}

const candidateColumns = `id, job_id, entity_type, name, aliases, description,
	attributes, context_snippet, confidence, chunk_index, char_offset, status,
	duplicate_of_id, entity_id, reviewed_by, reviewed_at, created_at`

func (r *candidateRepo) ReplaceChunkCandidates(ctx context.Context, jobID int64, chunkIndex int, cands []*entity.EntityCandidate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return common.PersistenceError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM entity_candidates WHERE job_id = $1 AND chunk_index = $2`,
		jobID, chunkIndex)
	if err != nil {
		return common.PersistenceError("failed to clear chunk candidates", err)
	}

	query := `
		INSERT INTO entity_candidates (
			job_id, entity_type, name, aliases, description, attributes,
			context_snippet, confidence, chunk_index, char_offset, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	for _, c := range cands {
		attrs, err := json.Marshal(c.Attributes)
		if err != nil {
			return common.PersistenceError("failed to encode candidate attributes", err)
		}
		err = tx.QueryRow(ctx, query,
			jobID, string(c.EntityType), c.Name, textArray(c.Aliases),
			c.Description, attrs, c.ContextSnippet, c.Confidence,
			chunkIndex, c.CharOffset, string(c.Status),
		).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return common.PersistenceError("failed to insert candidate", err)
		}
		c.JobID = jobID
		c.ChunkIndex = chunkIndex
	}

	if err := tx.Commit(ctx); err != nil {
		return common.PersistenceError("failed to commit chunk candidates", err)
	}
	r.log.Debug("chunk candidates stored", "job_id", jobID, "chunk_index", chunkIndex, "count", len(cands))
	return nil
}

func (r *candidateRepo) List(ctx context.Context, jobID int64, filter entity.CandidateFilter, page, perPage int) (*entity.CandidatePage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = constants.DefaultPerPage
	}
	if perPage > constants.MaxPerPage {
		perPage = constants.MaxPerPage
	}

	where := ` WHERE job_id = $1`
	args := []any{jobID}
	argNum := 2
	if filter.EntityType != nil {
		where += fmt.Sprintf(" AND entity_type = $%d", argNum)
		args = append(args, string(*filter.EntityType))
		argNum++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(*filter.Status))
		argNum++
	}
	if filter.MinConfidence != nil {
		where += fmt.Sprintf(" AND confidence >= $%d", argNum)
		args = append(args, *filter.MinConfidence)
		argNum++
	}

	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM entity_candidates`+where, args...).Scan(&total)
	if err != nil {
		return nil, common.PersistenceError("failed to count candidates", err)
	}

	query := `SELECT ` + candidateColumns + ` FROM entity_candidates` + where +
		` ORDER BY chunk_index, id` +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, common.PersistenceError("failed to list candidates", err)
	}
	defer rows.Close()

	cands, err := collectCandidates(rows)
	if err != nil {
		return nil, err
	}
	return &entity.CandidatePage{Candidates: cands, TotalCount: total}, nil
}

func (r *candidateRepo) ListByJob(ctx context.Context, jobID int64) ([]*entity.EntityCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM entity_candidates
		WHERE job_id = $1 ORDER BY chunk_index, id`
	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, common.PersistenceError("failed to list job candidates", err)
	}
	defer rows.Close()
	return collectCandidates(rows)
}

func (r *candidateRepo) GetByID(ctx context.Context, id int64) (*entity.EntityCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM entity_candidates WHERE id = $1`
	cand, err := scanCandidate(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFoundError(fmt.Sprintf("candidate %d not found", id))
		}
		return nil, common.PersistenceError("failed to get candidate", err)
	}
	return cand, nil
}

func (r *candidateRepo) GetByIDs(ctx context.Context, ids []int64) ([]*entity.EntityCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + candidateColumns + ` FROM entity_candidates
		WHERE id = ANY($1) ORDER BY chunk_index, id`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, common.PersistenceError("failed to get candidates", err)
	}
	defer rows.Close()
	return collectCandidates(rows)
}

func (r *candidateRepo) UpdateReview(ctx context.Context, ids []int64, to constants.CandidateStatus, reviewerID int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE entity_candidates
		 SET status = $2, reviewed_by = $3, reviewed_at = now()
		 WHERE id = ANY($1) AND status <> $4`,
		ids, string(to), reviewerID,
		string(constants.CandidateStatusMaterialized))
	if err != nil {
		r.log.Error("candidate review update failed", "to", to, "error", err)
		return 0, common.PersistenceError("failed to update candidate review", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *candidateRepo) MarkDuplicate(ctx context.Context, id, duplicateOfID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE entity_candidates SET status = $2, duplicate_of_id = $3
		 WHERE id = $1 AND status = $4`,
		id, string(constants.CandidateStatusDuplicate), duplicateOfID,
		string(constants.CandidateStatusPending))
	if err != nil {
		return common.PersistenceError("failed to mark candidate duplicate", err)
	}
	return nil
}

func (r *candidateRepo) CountByJob(ctx context.Context, jobID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM entity_candidates WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, common.PersistenceError("failed to count job candidates", err)
	}
	return n, nil
}

func scanCandidate(row pgx.Row) (*entity.EntityCandidate, error) {
	var c entity.EntityCandidate
	var entityType, status string
	var attrs []byte
	err := row.Scan(
		&c.ID, &c.JobID, &entityType, &c.Name, &c.Aliases, &c.Description,
		&attrs, &c.ContextSnippet, &c.Confidence, &c.ChunkIndex, &c.CharOffset,
		&status, &c.DuplicateOfID, &c.EntityID, &c.ReviewedBy, &c.ReviewedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("decoding candidate %d attributes: %w", c.ID, err)
		}
	}
	c.EntityType = constants.EntityType(entityType)
	c.Status = constants.CandidateStatus(status)
	return &c, nil
}

func collectCandidates(rows pgx.Rows) ([]*entity.EntityCandidate, error) {
	var cands []*entity.EntityCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, common.PersistenceError("failed to scan candidate", err)
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("failed to iterate candidates", err)
	}
	return cands, nil
}

// textArray keeps NOT NULL array columns non-null when the slice is nil.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
