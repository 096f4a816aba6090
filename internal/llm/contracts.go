package llm

import (
	"context"

	"github.com/lorekeep/entity-extractor/internal/entity"
)

// ExtractRequest carries one chunk of source text to a provider.
type ExtractRequest struct {
	Chunk      string
	ChunkIndex int
	CharOffset int

	// CollectionName gives the model a hint about the corpus the text
	// belongs to ("Westeros", "Case Files 2024"). Optional.
	CollectionName string
}

// Usage counts the tokens a provider reported for one or more calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ExtractResult is what one chunk extraction produced. Usage and CostUSD
// cover every attempt, including the failed ones; providers bill those too,
// so the pipeline must see them even when Extract returns an error.
type ExtractResult struct {
	Candidates []*entity.EntityCandidate
	Usage      Usage
	CostUSD    float64
	Attempts   int
}

// EntityExtractor is the interface the pipeline depends on. Implementations
// must return a non-nil result alongside any error so accumulated usage is
// never lost.
type EntityExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
}
