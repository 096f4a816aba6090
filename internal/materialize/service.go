package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

// Service turns approved candidates of a completed job into corpus entities.
type Service struct {
	jobs       repository.JobRepository
	candidates repository.CandidateRepository
	entities   repository.EntityRepository
	log        *slog.Logger
}

func NewService(jobs repository.JobRepository, candidates repository.CandidateRepository, entities repository.EntityRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, candidates: candidates, entities: entities, log: logger}
}

// Materialize promotes the given approved candidates in one transaction and
// returns the created entity ids in input order. Any failure rolls the whole
// batch back and names the offending candidate.
func (s *Service) Materialize(ctx context.Context, jobID int64, candidateIDs []int64, reviewerID int64) ([]int64, error) {
	if len(candidateIDs) == 0 {
		return nil, common.ValidationError("no candidate ids given")
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != constants.JobStatusCompleted {
		return nil, common.StateErrorf("job %d is %s; only completed jobs can be materialized", jobID, job.Status)
	}

	batch, err := s.loadBatch(ctx, jobID, candidateIDs)
	if err != nil {
		return nil, err
	}

	tx, err := s.entities.BeginMaterialization(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created := make([]int64, 0, len(batch))
	for _, c := range batch {
		slug, err := s.nextSlug(ctx, tx, job.CollectionID, c.Name)
		if err != nil {
			return nil, &common.MaterializationError{
				CandidateID: c.ID, CandidateName: c.Name,
				Reason: "slug allocation failed", Cause: err,
			}
		}

		ent := &entity.CorpusEntity{
			CollectionID:      job.CollectionID,
			EntityType:        c.EntityType,
			Name:              c.Name,
			Slug:              slug,
			Aliases:           c.Aliases,
			Description:       c.Description,
			Attributes:        c.Attributes,
			CreatedBy:         reviewerID,
			SourceCandidateID: &c.ID,
		}
		if err := tx.CreateEntity(ctx, ent); err != nil {
			reason := "entity insert failed"
			if errors.Is(err, common.ErrSlugTaken) {
				reason = fmt.Sprintf("slug %q already taken", slug)
			}
			s.log.Error("materialize.create_entity.error",
				"job_id", jobID, "candidate_id", c.ID, "error", err)
			return nil, &common.MaterializationError{
				CandidateID: c.ID, CandidateName: c.Name, Reason: reason, Cause: err,
			}
		}
		if err := tx.MarkMaterialized(ctx, c.ID, ent.ID); err != nil {
			return nil, &common.MaterializationError{
				CandidateID: c.ID, CandidateName: c.Name,
				Reason: "candidate link failed", Cause: err,
			}
		}
		created = append(created, ent.ID)
	}

	if err := tx.AddEntitiesCreated(ctx, jobID, len(created)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("materialize.ok",
		"job_id", jobID, "entities_created", len(created), "reviewer_id", reviewerID)
	return created, nil
}

// loadBatch fetches the candidates and checks them against the job before any
// transaction is opened: every id must exist, belong to the job, and be
// approved. Repeated ids collapse to their first occurrence.
func (s *Service) loadBatch(ctx context.Context, jobID int64, candidateIDs []int64) ([]*entity.EntityCandidate, error) {
	cands, err := s.candidates.GetByIDs(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*entity.EntityCandidate, len(cands))
	for _, c := range cands {
		byID[c.ID] = c
	}

	batch := make([]*entity.EntityCandidate, 0, len(candidateIDs))
	seen := make(map[int64]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		c, ok := byID[id]
		if !ok {
			return nil, common.NotFoundError(fmt.Sprintf("candidate %d not found", id))
		}
		if c.JobID != jobID {
			return nil, &common.MaterializationError{
				CandidateID: id, CandidateName: c.Name,
				Reason: fmt.Sprintf("belongs to job %d, not %d", c.JobID, jobID),
			}
		}
		if c.Status != constants.CandidateStatusApproved {
			return nil, &common.MaterializationError{
				CandidateID: id, CandidateName: c.Name,
				Reason: fmt.Sprintf("status is %s, not approved", c.Status),
			}
		}
		batch = append(batch, c)
	}
	return batch, nil
}

// nextSlug finds the first free slug for name: base, base-2, base-3, ...
// Uniqueness is checked inside the transaction so entities created earlier in
// the same batch are visible, and the unique constraint still backstops
// concurrent batches at commit.
func (s *Service) nextSlug(ctx context.Context, tx repository.MaterializationTx, collectionID int64, name string) (string, error) {
	base := Slugify(name)
	if base == "" {
		base = "entity"
	}
	slug := base
	for n := 2; ; n++ {
		exists, err := tx.SlugExists(ctx, collectionID, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}
