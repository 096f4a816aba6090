// Package estimate prices an extraction run before it starts. Estimates are
// deterministic for a given text, model, and chunk size; actual usage always
// comes from provider-reported numbers once the job runs.
package estimate

import (
	"encoding/json"

	"github.com/lorekeep/entity-extractor/internal/chunker"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/llm"
)

// userFrameTokens covers the fixed wrapper text around each chunk, and
// outputBaseTokens the response envelope the model always produces.
const (
	userFrameTokens  = 24
	outputBaseTokens = 64
)

type Estimator struct {
	model    string
	overhead int
}

// New builds an estimator priced against one model. The per-request overhead
// (system prompt plus embedded JSON schema) is approximated once up front.
func New(model string) *Estimator {
	schemaJSON, _ := json.Marshal(llm.BuildEntityJSONSchema())
	return &Estimator{
		model:    model,
		overhead: llm.ApproxTokens(llm.BuildSystemPrompt("")) + llm.ApproxTokens(string(schemaJSON)),
	}
}

// ForChunks projects token usage and cost for an already-split text. Output
// volume is modeled as a quarter of the chunk's own tokens plus a flat base,
// which tracks observed entity density closely enough for budgeting.
func (e *Estimator) ForChunks(chunks []chunker.Chunk) entity.Estimate {
	est := entity.Estimate{Chunks: len(chunks)}

	var usage llm.Usage
	for _, c := range chunks {
		chunkTokens := llm.ApproxTokens(c.Text)
		usage.Add(llm.Usage{
			InputTokens:  e.overhead + userFrameTokens + chunkTokens,
			OutputTokens: chunkTokens/4 + outputBaseTokens,
		})
	}

	est.Tokens = usage.Total()
	est.CostUSD = llm.CostUSD(e.model, usage)
	return est
}

// ForText splits and projects in one call, for callers that have not chunked
// yet (the estimate-only endpoint).
func (e *Estimator) ForText(text string, chunkSize int) entity.Estimate {
	return e.ForChunks(chunker.Split(text, chunkSize))
}
