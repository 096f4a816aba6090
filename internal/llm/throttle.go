package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedExtractor wraps an extractor with a shared token bucket so that
// concurrent chunk workers collectively respect the provider's request rate.
// Burst stays at 1: requests are spaced, never clustered.
type RateLimitedExtractor struct {
	inner  EntityExtractor
	bucket *rate.Limiter
}

func NewRateLimitedExtractor(inner EntityExtractor, requestsPerSec float64) *RateLimitedExtractor {
	if requestsPerSec <= 0 {
		requestsPerSec = 2
	}
	return &RateLimitedExtractor{
		inner:  inner,
		bucket: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

// Extract waits for a token, then delegates. A cancelled wait returns the
// context error with an empty (but non-nil) result.
func (r *RateLimitedExtractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if err := r.bucket.Wait(ctx); err != nil {
		return &ExtractResult{}, err
	}
	return r.inner.Extract(ctx, req)
}
