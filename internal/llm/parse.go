package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

// entityPayload is the wire shape of one extracted entity after sanitizing.
type entityPayload struct {
	EntityType     string            `json:"entity_type"`
	Name           string            `json:"name"`
	Aliases        []string          `json:"aliases"`
	Description    string            `json:"description"`
	Attributes     entity.Attributes `json:"attributes"`
	ContextSnippet string            `json:"context_snippet"`
	Confidence     int               `json:"confidence"`
}

type extractionPayload struct {
	Entities []entityPayload `json:"entities"`
}

// DecodeCandidates runs the full response path shared by the provider
// clients: lenient sanitize, strict schema validation, then parsing into
// drafts. Any error here means the response is malformed.
func DecodeCandidates(schema map[string]any, content []byte, req ExtractRequest, logger *slog.Logger) ([]*entity.EntityCandidate, error) {
	sanitized, _, err := NormalizeAndSanitizeJSON(content, logger)
	if err != nil {
		return nil, err
	}
	if err := ValidateJSONAgainstSchema(schema, sanitized); err != nil {
		return nil, err
	}
	return ParseCandidates(sanitized, req)
}

// ParseCandidates turns a validated response document into candidate drafts
// attributed to their originating chunk. Drafts carry no ids or job linkage;
// the pipeline fills those in when it persists them.
func ParseCandidates(doc []byte, req ExtractRequest) ([]*entity.EntityCandidate, error) {
	var payload extractionPayload
	if err := json.Unmarshal(doc, &payload); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}

	out := make([]*entity.EntityCandidate, 0, len(payload.Entities))
	for _, p := range payload.Entities {
		et, ok := constants.CanonicalizeEntityType(p.EntityType)
		if !ok {
			// sanitize already filtered these; a miss here is a programming error
			return nil, fmt.Errorf("parse candidates: unknown entity type %q", p.EntityType)
		}
		out = append(out, &entity.EntityCandidate{
			EntityType:     et,
			Name:           p.Name,
			Aliases:        p.Aliases,
			Description:    p.Description,
			Attributes:     p.Attributes,
			ContextSnippet: p.ContextSnippet,
			Confidence:     clampConfidence(p.Confidence),
			ChunkIndex:     req.ChunkIndex,
			CharOffset:     req.CharOffset,
			Status:         constants.CandidateStatusPending,
		})
	}
	return out, nil
}
