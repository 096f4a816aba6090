package dedup

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// SemanticMatcher scores how close two descriptions are in meaning on a
// 0..100 scale.
type SemanticMatcher interface {
	Score(ctx context.Context, a, b string) (int, error)
}

// Embedder produces a vector embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingMatcher scores semantic similarity as the cosine between text
// embeddings. Vectors are cached per text so a corpus scan embeds each
// entity once.
type EmbeddingMatcher struct {
	embedder Embedder

	mu    sync.Mutex
	cache map[string][]float32
}

func NewEmbeddingMatcher(embedder Embedder) *EmbeddingMatcher {
	return &EmbeddingMatcher{
		embedder: embedder,
		cache:    make(map[string][]float32),
	}
}

// Score embeds both texts and maps their cosine similarity onto 0..100.
// Negative cosines clamp to zero.
func (m *EmbeddingMatcher) Score(ctx context.Context, a, b string) (int, error) {
	va, err := m.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := m.vector(ctx, b)
	if err != nil {
		return 0, err
	}

	cos, err := cosine(va, vb)
	if err != nil {
		return 0, err
	}
	return clampScore(int(math.Round(cos * 100))), nil
}

func (m *EmbeddingMatcher) vector(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	v, ok := m.cache[text]
	m.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("empty embedding for text (%d chars)", len(text))
	}

	m.mu.Lock()
	m.cache[text] = v
	m.mu.Unlock()
	return v, nil
}

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero-magnitude embedding")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
