package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/llm"
)

const initialBackoff = 500 * time.Millisecond

// messagesResponse is the Anthropic /v1/messages response format.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Extract implements llm.EntityExtractor against /v1/messages. The JSON
// schema travels in the system prompt since the messages API has no
// response_format constraint. Retry semantics match the OpenAI client:
// exponential backoff for transient failures, one retry for a malformed
// body, usage accumulated across all attempts.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractResult, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"provider", "anthropic",
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"chunk_index", req.ChunkIndex,
		"chunk_len", len(req.Chunk),
	)

	schema := llm.BuildEntityJSONSchema()
	body := map[string]any{
		"model":       c.cfg.Model,
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
		"system":      llm.BuildSystemPrompt(req.CollectionName) + "\n\nJSON Schema:\n" + mustJSON(schema),
		"messages": []map[string]any{
			{"role": "user", "content": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	result := &llm.ExtractResult{}
	backoff := initialBackoff
	transientAttempts := 0
	malformedRetried := false

	for {
		result.Attempts++

		raw, status, httpErr := llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
		if httpErr != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if status != 0 && !llm.TransientStatus(status) {
				c.log.Error("llm.extract.permanent_error",
					"req_id", rid, "status", status, "error", httpErr,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return result, common.PermanentProviderError(fmt.Sprintf("anthropic status %d", status), httpErr)
			}

			transientAttempts++
			if transientAttempts >= c.cfg.MaxAttempts {
				c.log.Error("llm.extract.retries_exhausted",
					"req_id", rid, "attempts", result.Attempts, "error", httpErr,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return result, common.TransientProviderError("anthropic retries exhausted", httpErr)
			}
			c.log.Warn("llm.extract.transient_retry",
				"req_id", rid, "attempt", result.Attempts, "status", status, "backoff_ms", backoff.Milliseconds(),
			)
			if err := sleepCtx(ctx, backoff); err != nil {
				return result, err
			}
			backoff *= 2
			continue
		}

		var mr messagesResponse
		decodeErr := json.Unmarshal(raw, &mr)
		if decodeErr == nil {
			attemptUsage := llm.Usage{InputTokens: mr.Usage.InputTokens, OutputTokens: mr.Usage.OutputTokens}
			result.Usage.Add(attemptUsage)
			result.CostUSD += llm.CostUSD(c.cfg.Model, attemptUsage)
		}

		malformedErr := decodeErr
		if malformedErr == nil {
			if text, ok := firstText(mr); ok {
				candidates, err := llm.DecodeCandidates(schema, []byte(text), req, c.log)
				if err == nil {
					result.Candidates = candidates
					c.log.Info("llm.extract.ok",
						"req_id", rid,
						"chunk_index", req.ChunkIndex,
						"candidates", len(candidates),
						"attempts", result.Attempts,
						"input_tokens", result.Usage.InputTokens,
						"output_tokens", result.Usage.OutputTokens,
						"elapsed_ms", time.Since(start).Milliseconds(),
					)
					return result, nil
				}
				malformedErr = err
			} else {
				malformedErr = fmt.Errorf("no text block in anthropic response (stop_reason %q)", mr.StopReason)
			}
		}

		// the provider may simply have produced invalid structure; one more try
		if malformedRetried {
			c.log.Error("llm.extract.malformed",
				"req_id", rid, "error", malformedErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return result, common.PermanentProviderError("anthropic response malformed after retry", malformedErr)
		}
		malformedRetried = true
		c.log.Warn("llm.extract.malformed_retry", "req_id", rid, "error", malformedErr)
	}
}

func firstText(mr messagesResponse) (string, bool) {
	for _, block := range mr.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), true
		}
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
