// Package review owns the human side of the pipeline: bulk approve/reject of
// candidates, duplicate-match retrieval, and duplicate resolution including
// the merged-disposition alias fold.
package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/dedup"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

// Service handles candidate review and duplicate disposition.
type Service struct {
	candidates repository.CandidateRepository
	matches    repository.MatchRepository
	entities   repository.EntityRepository
	logger     *slog.Logger
}

func NewService(candidates repository.CandidateRepository, matches repository.MatchRepository, entities repository.EntityRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{candidates: candidates, matches: matches, entities: entities, logger: logger}
}

// Review applies one approve/reject decision to a batch of candidates and
// returns how many rows transitioned. Every id must exist; a materialized
// candidate in the batch is a state error and nothing is changed.
func (s *Service) Review(ctx context.Context, candidateIDs []int64, decision constants.ReviewDecision, reviewerID int64) (int, error) {
	var to constants.CandidateStatus
	switch decision {
	case constants.ReviewDecisionApprove:
		to = constants.CandidateStatusApproved
	case constants.ReviewDecisionReject:
		to = constants.CandidateStatusRejected
	default:
		return 0, common.ValidationErrorf("decision must be approve or reject, got %q", decision)
	}
	if len(candidateIDs) == 0 {
		return 0, common.ValidationError("no candidate ids given")
	}
	if reviewerID <= 0 {
		return 0, common.ValidationError("reviewer_id must be greater than zero")
	}

	cands, err := s.candidates.GetByIDs(ctx, candidateIDs)
	if err != nil {
		return 0, err
	}
	byID := make(map[int64]*entity.EntityCandidate, len(cands))
	for _, c := range cands {
		byID[c.ID] = c
	}
	for _, id := range candidateIDs {
		c, ok := byID[id]
		if !ok {
			return 0, common.NotFoundError(fmt.Sprintf("candidate %d not found", id))
		}
		if c.Status == constants.CandidateStatusMaterialized {
			return 0, common.StateErrorf("candidate %d is already materialized", id)
		}
	}

	updated, err := s.candidates.UpdateReview(ctx, candidateIDs, to, reviewerID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("review.decision.ok",
		"decision", decision, "requested", len(candidateIDs), "updated", updated, "reviewer_id", reviewerID)
	return updated, nil
}

// Duplicates returns a candidate's duplicate matches, best score first.
func (s *Service) Duplicates(ctx context.Context, candidateID int64) ([]*entity.DuplicateMatch, error) {
	if _, err := s.candidates.GetByID(ctx, candidateID); err != nil {
		return nil, err
	}
	return s.matches.ListByCandidate(ctx, candidateID)
}

// Resolve records the reviewer's verdict on one (candidate, entity) match.
// A merged verdict additionally folds the candidate's name and aliases into
// the existing entity's alias set and flags the candidate as a duplicate, so
// it can no longer be materialized as a second copy.
func (s *Service) Resolve(ctx context.Context, candidateID, entityID int64, disposition constants.Disposition, reviewerID int64) error {
	if !constants.IsValidDisposition(string(disposition)) || disposition == constants.DispositionPending {
		return common.ValidationErrorf("disposition must be confirmed-duplicate, confirmed-unique, or merged, got %q", disposition)
	}
	if reviewerID <= 0 {
		return common.ValidationError("reviewer_id must be greater than zero")
	}

	cand, err := s.candidates.GetByID(ctx, candidateID)
	if err != nil {
		return err
	}
	if disposition == constants.DispositionMerged && cand.Status == constants.CandidateStatusMaterialized {
		return common.StateErrorf("candidate %d is already materialized and cannot be merged away", candidateID)
	}

	found, err := s.matches.UpdateDisposition(ctx, candidateID, entityID, disposition)
	if err != nil {
		return err
	}
	if !found {
		return common.NotFoundError(fmt.Sprintf("no duplicate match between candidate %d and entity %d", candidateID, entityID))
	}

	if disposition == constants.DispositionMerged {
		if err := s.mergeInto(ctx, cand, entityID, reviewerID); err != nil {
			return err
		}
	}

	s.logger.Info("review.resolve.ok",
		"candidate_id", candidateID, "entity_id", entityID,
		"disposition", disposition, "reviewer_id", reviewerID)
	return nil
}

// mergeInto appends the candidate's names to the entity's alias set and marks
// the candidate a duplicate. Alias comparison is normalized; stored aliases
// keep their original casing, first occurrence wins.
func (s *Service) mergeInto(ctx context.Context, cand *entity.EntityCandidate, entityID, reviewerID int64) error {
	ent, err := s.entities.GetByID(ctx, entityID)
	if err != nil {
		return err
	}

	merged, changed := foldAliases(ent, cand)
	if changed {
		if err := s.entities.UpdateAliases(ctx, ent.ID, merged); err != nil {
			return err
		}
	}

	if _, err := s.candidates.UpdateReview(ctx, []int64{cand.ID}, constants.CandidateStatusDuplicate, reviewerID); err != nil {
		return err
	}
	s.logger.Info("review.merge.ok",
		"candidate_id", cand.ID, "entity_id", ent.ID,
		"aliases_before", len(ent.Aliases), "aliases_after", len(merged))
	return nil
}

// foldAliases merges the candidate's name and aliases into the entity's alias
// set, deduplicated on the normalized form, skipping the entity's own name,
// capped at constants.MaxAliasesPerEntity entries.
func foldAliases(ent *entity.CorpusEntity, cand *entity.EntityCandidate) ([]string, bool) {
	seen := map[string]struct{}{dedup.NormalizeName(ent.Name): {}}
	out := make([]string, 0, len(ent.Aliases)+len(cand.Aliases)+1)

	add := func(name string) {
		norm := dedup.NormalizeName(name)
		if norm == "" {
			return
		}
		if _, dup := seen[norm]; dup {
			return
		}
		if len(out) >= constants.MaxAliasesPerEntity {
			return
		}
		seen[norm] = struct{}{}
		out = append(out, name)
	}

	for _, a := range ent.Aliases {
		add(a)
	}
	before := len(out)
	add(cand.Name)
	for _, a := range cand.Aliases {
		add(a)
	}
	return out, len(out) != before
}
