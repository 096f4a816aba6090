package entity

import (
	"time"

	"github.com/lorekeep/entity-extractor/constants"
)

// EntityCandidate represents one entity proposal produced by extraction,
// pending review.
type EntityCandidate struct {
	ID             int64                     `json:"id"`
	JobID          int64                     `json:"job_id"`
	EntityType     constants.EntityType      `json:"entity_type"`
	Name           string                    `json:"name"`
	Aliases        []string                  `json:"aliases,omitempty"`
	Description    string                    `json:"description,omitempty"`
	Attributes     Attributes                `json:"attributes"`
	ContextSnippet string                    `json:"context_snippet,omitempty"`
	Confidence     int                       `json:"confidence"`
	ChunkIndex     int                       `json:"chunk_index"`
	CharOffset     int                       `json:"char_offset"`
	Status         constants.CandidateStatus `json:"status"`
	DuplicateOfID  *int64                    `json:"duplicate_of_id,omitempty"`
	EntityID       *int64                    `json:"entity_id,omitempty"`
	ReviewedBy     *int64                    `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time                `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// CandidateFilter narrows candidate listings.
type CandidateFilter struct {
	EntityType    *constants.EntityType
	Status        *constants.CandidateStatus
	MinConfidence *int
}

// CandidatePage is one page of a filtered listing.
type CandidatePage struct {
	Candidates []*EntityCandidate `json:"candidates"`
	TotalCount int                `json:"total_count"`
}
