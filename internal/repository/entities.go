package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

const pgUniqueViolation = "23505"

// EntityRepository reads the permanent corpus and opens materialization
// transactions. Outside materialization the corpus is read-only here, except
// for alias folding when a reviewer merges a duplicate.
type EntityRepository interface {
	ListByCollection(ctx context.Context, collectionID int64) ([]*entity.CorpusEntity, error)
	GetByID(ctx context.Context, id int64) (*entity.CorpusEntity, error)
	// Search returns up to limit entities whose name or aliases resemble
	// query, best matches first.
	Search(ctx context.Context, collectionID int64, query string, limit int) ([]*entity.CorpusEntity, error)
	UpdateAliases(ctx context.Context, id int64, aliases []string) error
	BeginMaterialization(ctx context.Context) (MaterializationTx, error)
}

// MaterializationTx is the unit of work for promoting an approved batch. All
// writes commit or roll back together.
type MaterializationTx interface {
	SlugExists(ctx context.Context, collectionID int64, slug string) (bool, error)
	// CreateEntity inserts the entity and fills ID and timestamps. A slug
	// collision returns common.ErrSlugTaken; the transaction is aborted and
	// only Rollback is valid afterwards.
	CreateEntity(ctx context.Context, e *entity.CorpusEntity) error
	MarkMaterialized(ctx context.Context, candidateID, entityID int64) error
	AddEntitiesCreated(ctx context.Context, jobID int64, n int) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type entityRepo struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewEntityRepository(db *pgxpool.Pool, log *slog.Logger) EntityRepository {
	return &entityRepo{db: db, log: log}
}

const entityColumns = `id, collection_id, entity_type, name, slug, aliases,
	description, attributes, created_by, source_candidate_id, created_at, updated_at`

func (r *entityRepo) ListByCollection(ctx context.Context, collectionID int64) ([]*entity.CorpusEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities
		WHERE collection_id = $1 ORDER BY id`
	rows, err := r.db.Query(ctx, query, collectionID)
	if err != nil {
		return nil, common.PersistenceError("failed to list entities", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (r *entityRepo) GetByID(ctx context.Context, id int64) (*entity.CorpusEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`
	ent, err := scanEntity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFoundError(fmt.Sprintf("entity %d not found", id))
		}
		return nil, common.PersistenceError("failed to get entity", err)
	}
	return ent, nil
}

// searchPrefilterCap bounds how many ILIKE hits are re-ranked in memory.
const searchPrefilterCap = 200

func (r *entityRepo) Search(ctx context.Context, collectionID int64, query string, limit int) ([]*entity.CorpusEntity, error) {
	if limit < 1 {
		limit = 20
	}
	sql := `SELECT ` + entityColumns + ` FROM entities
		WHERE collection_id = $1
		  AND (name ILIKE '%' || $2 || '%'
		       OR EXISTS (SELECT 1 FROM unnest(aliases) AS a WHERE a ILIKE '%' || $2 || '%'))
		LIMIT $3`
	rows, err := r.db.Query(ctx, sql, collectionID, query, searchPrefilterCap)
	if err != nil {
		return nil, common.PersistenceError("failed to search entities", err)
	}
	defer rows.Close()

	hits, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return searchRank(query, hits[i]) < searchRank(query, hits[j])
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// searchRank is the best edit distance between query and the entity's name or
// aliases. Non-matches rank last.
func searchRank(query string, e *entity.CorpusEntity) int {
	best := fuzzy.RankMatchNormalizedFold(query, e.Name)
	for _, alias := range e.Aliases {
		r := fuzzy.RankMatchNormalizedFold(query, alias)
		if r >= 0 && (best < 0 || r < best) {
			best = r
		}
	}
	if best < 0 {
		return int(^uint(0) >> 1)
	}
	return best
}

func (r *entityRepo) UpdateAliases(ctx context.Context, id int64, aliases []string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entities SET aliases = $2, updated_at = now() WHERE id = $1`,
		id, textArray(aliases))
	if err != nil {
		return common.PersistenceError("failed to update entity aliases", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFoundError(fmt.Sprintf("entity %d not found", id))
	}
	return nil
}

func (r *entityRepo) BeginMaterialization(ctx context.Context) (MaterializationTx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, common.PersistenceError("failed to begin materialization", err)
	}
	return &materializationTx{tx: tx, log: r.log}, nil
}

type materializationTx struct {
	tx  pgx.Tx
	log *slog.Logger
}

func (m *materializationTx) SlugExists(ctx context.Context, collectionID int64, slug string) (bool, error) {
	var exists bool
	err := m.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE collection_id = $1 AND slug = $2)`,
		collectionID, slug).Scan(&exists)
	if err != nil {
		return false, common.PersistenceError("failed to check slug", err)
	}
	return exists, nil
}

func (m *materializationTx) CreateEntity(ctx context.Context, e *entity.CorpusEntity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return common.PersistenceError("failed to encode entity attributes", err)
	}
	query := `
		INSERT INTO entities (
			collection_id, entity_type, name, slug, aliases, description,
			attributes, created_by, source_candidate_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = m.tx.QueryRow(ctx, query,
		e.CollectionID, string(e.EntityType), e.Name, e.Slug,
		textArray(e.Aliases), e.Description, attrs, e.CreatedBy,
		e.SourceCandidateID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("slug %q in collection %d: %w", e.Slug, e.CollectionID, common.ErrSlugTaken)
		}
		return common.PersistenceError("failed to insert entity", err)
	}
	return nil
}

func (m *materializationTx) MarkMaterialized(ctx context.Context, candidateID, entityID int64) error {
	tag, err := m.tx.Exec(ctx,
		`UPDATE entity_candidates SET status = $2, entity_id = $3
		 WHERE id = $1 AND status = $4`,
		candidateID, string(constants.CandidateStatusMaterialized), entityID,
		string(constants.CandidateStatusApproved))
	if err != nil {
		return common.PersistenceError("failed to mark candidate materialized", err)
	}
	if tag.RowsAffected() == 0 {
		return common.StateErrorf("candidate %d is not approved", candidateID)
	}
	return nil
}

func (m *materializationTx) AddEntitiesCreated(ctx context.Context, jobID int64, n int) error {
	_, err := m.tx.Exec(ctx,
		`UPDATE extraction_jobs SET entities_created = entities_created + $2 WHERE id = $1`,
		jobID, n)
	if err != nil {
		return common.PersistenceError("failed to add entities created", err)
	}
	return nil
}

func (m *materializationTx) Commit(ctx context.Context) error {
	if err := m.tx.Commit(ctx); err != nil {
		return common.PersistenceError("failed to commit materialization", err)
	}
	return nil
}

func (m *materializationTx) Rollback(ctx context.Context) error {
	err := m.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func scanEntity(row pgx.Row) (*entity.CorpusEntity, error) {
	var e entity.CorpusEntity
	var entityType string
	var attrs []byte
	err := row.Scan(
		&e.ID, &e.CollectionID, &entityType, &e.Name, &e.Slug, &e.Aliases,
		&e.Description, &attrs, &e.CreatedBy, &e.SourceCandidateID,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("decoding entity %d attributes: %w", e.ID, err)
		}
	}
	e.EntityType = constants.EntityType(entityType)
	return &e, nil
}

func collectEntities(rows pgx.Rows) ([]*entity.CorpusEntity, error) {
	var ents []*entity.CorpusEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, common.PersistenceError("failed to scan entity", err)
		}
		ents = append(ents, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("failed to iterate entities", err)
	}
	return ents, nil
}
