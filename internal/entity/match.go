package entity

import (
	"time"

	"github.com/lorekeep/entity-extractor/constants"
)

// DuplicateMatch is a candidate-to-existing-entity similarity hypothesis.
// The (CandidateID, EntityID) pair is unique; the score depends only on the
// matching method, never on reviewer disposition.
type DuplicateMatch struct {
	ID           int64                 `json:"id"`
	CandidateID  int64                 `json:"candidate_id"`
	EntityID     int64                 `json:"entity_id"`
	Score        int                   `json:"score"`
	Method       constants.MatchMethod `json:"method"`
	MatchedField string                `json:"matched_field"`
	Disposition  constants.Disposition `json:"disposition"`
	CreatedAt    time.Time             `json:"created_at"`
}
