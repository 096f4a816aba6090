package entity

import (
	"time"

	"github.com/lorekeep/entity-extractor/constants"
)

// CorpusEntity is a confirmed entity in the target collection. The corpus is
// read-only for this subsystem except during batch materialization.
type CorpusEntity struct {
	ID                int64                `json:"id"`
	CollectionID      int64                `json:"collection_id"`
	EntityType        constants.EntityType `json:"entity_type"`
	Name              string               `json:"name"`
	Slug              string               `json:"slug"`
	Aliases           []string             `json:"aliases,omitempty"`
	Description       string               `json:"description,omitempty"`
	Attributes        Attributes           `json:"attributes"`
	CreatedBy         int64                `json:"created_by"`
	SourceCandidateID *int64               `json:"source_candidate_id,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}
