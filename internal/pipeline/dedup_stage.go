package processor

import (
	"context"
	"log/slog"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/dedup"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

// DedupStage screens a job's candidates once all chunks have finished: every
// pending candidate is compared against the collection corpus, and against
// candidates earlier in the same job. Corpus hits persist as duplicate
// matches; an intra-job hit flags the later candidate as a duplicate of the
// earlier one.
type DedupStage struct {
	Candidates repository.CandidateRepository
	Matches    repository.MatchRepository
	Entities   repository.EntityRepository
	Detector   *dedup.Detector
	Logger     *slog.Logger
}

func NewDedupStage(candidates repository.CandidateRepository, matches repository.MatchRepository, entities repository.EntityRepository, detector *dedup.Detector, logger *slog.Logger) *DedupStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &DedupStage{Candidates: candidates, Matches: matches, Entities: entities, Detector: detector, Logger: logger}
}

func (s *DedupStage) Run(ctx context.Context, job *entity.ExtractionJob) error {
	cands, err := s.Candidates.ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		return nil
	}

	corpus, err := s.Entities.ListByCollection(ctx, job.CollectionID)
	if err != nil {
		return err
	}

	var all []*entity.DuplicateMatch
	flagged := 0
	earlier := make([]*entity.EntityCandidate, 0, len(cands))
	for _, cand := range cands {
		if cand.Status != constants.CandidateStatusPending {
			earlier = append(earlier, cand)
			continue
		}

		all = append(all, s.Detector.FindMatches(ctx, cand, corpus)...)

		if dup, ok := s.Detector.FindIntraJob(cand, earlier); ok {
			if err := s.Candidates.MarkDuplicate(ctx, cand.ID, dup.Of.ID); err != nil {
				return err
			}
			cand.Status = constants.CandidateStatusDuplicate
			cand.DuplicateOfID = &dup.Of.ID
			flagged++
			s.Logger.Info("pipeline.dedup.intra_job",
				"job_id", job.ID, "candidate_id", cand.ID, "duplicate_of", dup.Of.ID,
				"method", dup.Method, "score", dup.Score)
		}
		earlier = append(earlier, cand)
	}

	if err := s.Matches.InsertMatches(ctx, all); err != nil {
		return err
	}
	s.Logger.Info("pipeline.dedup.ok",
		"job_id", job.ID, "candidates", len(cands),
		"corpus_matches", len(all), "intra_job_duplicates", flagged)
	return nil
}
