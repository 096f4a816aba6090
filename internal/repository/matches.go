package repository

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

// MatchRepository persists duplicate-match hypotheses. The
// (candidate_id, entity_id) pair is unique; re-running detection for a
// candidate never duplicates or rescores an existing row.
type MatchRepository interface {
	InsertMatches(ctx context.Context, matches []*entity.DuplicateMatch) error
	// ListByCandidate returns matches ordered by score descending, then
	// entity id ascending.
	ListByCandidate(ctx context.Context, candidateID int64) ([]*entity.DuplicateMatch, error)
	// CountsByJob returns match counts keyed by candidate id for every
	// candidate of the job that has at least one match.
	CountsByJob(ctx context.Context, jobID int64) (map[int64]int, error)
	// UpdateDisposition sets the reviewer verdict on one pair and reports
	// whether the pair existed.
	UpdateDisposition(ctx context.Context, candidateID, entityID int64, d constants.Disposition) (bool, error)
}

type matchRepo struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewMatchRepository(db *pgxpool.Pool, log *slog.Logger) MatchRepository {
	return &matchRepo{db: db, log: log}
}

func (r *matchRepo) InsertMatches(ctx context.Context, matches []*entity.DuplicateMatch) error {
	if len(matches) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return common.PersistenceError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO duplicate_matches (
			candidate_id, entity_id, score, method, matched_field, disposition
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (candidate_id, entity_id) DO NOTHING`

	for _, m := range matches {
		_, err := tx.Exec(ctx, query,
			m.CandidateID, m.EntityID, m.Score, string(m.Method),
			m.MatchedField, string(m.Disposition))
		if err != nil {
			return common.PersistenceError("failed to insert duplicate match", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.PersistenceError("failed to commit duplicate matches", err)
	}
	r.log.Debug("duplicate matches stored", "count", len(matches))
	return nil
}

func (r *matchRepo) ListByCandidate(ctx context.Context, candidateID int64) ([]*entity.DuplicateMatch, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, candidate_id, entity_id, score, method, matched_field,
		        disposition, created_at
		 FROM duplicate_matches
		 WHERE candidate_id = $1
		 ORDER BY score DESC, entity_id`,
		candidateID)
	if err != nil {
		return nil, common.PersistenceError("failed to list duplicate matches", err)
	}
	defer rows.Close()

	var matches []*entity.DuplicateMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, common.PersistenceError("failed to scan duplicate match", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("failed to iterate duplicate matches", err)
	}
	return matches, nil
}

func (r *matchRepo) CountsByJob(ctx context.Context, jobID int64) (map[int64]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT dm.candidate_id, COUNT(*)
		 FROM duplicate_matches dm
		 JOIN entity_candidates ec ON ec.id = dm.candidate_id
		 WHERE ec.job_id = $1
		 GROUP BY dm.candidate_id`,
		jobID)
	if err != nil {
		return nil, common.PersistenceError("failed to count duplicate matches", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var candidateID int64
		var n int
		if err := rows.Scan(&candidateID, &n); err != nil {
			return nil, common.PersistenceError("failed to scan match count", err)
		}
		counts[candidateID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("failed to iterate match counts", err)
	}
	return counts, nil
}

func (r *matchRepo) UpdateDisposition(ctx context.Context, candidateID, entityID int64, d constants.Disposition) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE duplicate_matches SET disposition = $3
		 WHERE candidate_id = $1 AND entity_id = $2`,
		candidateID, entityID, string(d))
	if err != nil {
		r.log.Error("disposition update failed", "candidate_id", candidateID, "entity_id", entityID, "error", err)
		return false, common.PersistenceError("failed to update match disposition", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanMatch(row pgx.Row) (*entity.DuplicateMatch, error) {
	var m entity.DuplicateMatch
	var method, disposition string
	err := row.Scan(
		&m.ID, &m.CandidateID, &m.EntityID, &m.Score, &method,
		&m.MatchedField, &disposition, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Method = constants.MatchMethod(method)
	m.Disposition = constants.Disposition(disposition)
	return &m, nil
}
