package openai

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

// Extract implements llm.EntityExtractor using chat/completions with a JSON
// response format. Transient failures retry with exponential backoff up to
// the configured attempt budget; a malformed body is retried exactly once.
// Usage and cost accumulate across every attempt, successful or not.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractResult, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"provider", "openai",
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"chunk_index", req.ChunkIndex,
		"chunk_len", len(req.Chunk),
	)

	schema := llm.BuildEntityJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req.CollectionName)},
			{"role": "user", "content": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

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
				return result, common.PermanentProviderError(fmt.Sprintf("openai status %d", status), httpErr)
			}

			transientAttempts++
			if transientAttempts >= c.cfg.MaxAttempts {
				c.log.Error("llm.extract.retries_exhausted",
					"req_id", rid, "attempts", result.Attempts, "error", httpErr,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return result, common.TransientProviderError("openai retries exhausted", httpErr)
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

		var cc struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		decodeErr := json.Unmarshal(raw, &cc)
		if decodeErr == nil {
			attemptUsage := llm.Usage{InputTokens: cc.Usage.PromptTokens, OutputTokens: cc.Usage.CompletionTokens}
			result.Usage.Add(attemptUsage)
			result.CostUSD += llm.CostUSD(c.cfg.Model, attemptUsage)
		}

		malformedErr := decodeErr
		if malformedErr == nil && len(cc.Choices) == 0 {
			malformedErr = fmt.Errorf("no choices in openai response")
		}

		if malformedErr == nil {
			content := strings.TrimSpace(cc.Choices[0].Message.Content)
			candidates, err := llm.DecodeCandidates(schema, []byte(content), req, c.log)
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
		}

		// the provider may simply have produced invalid structure; one more try
		if malformedRetried {
			c.log.Error("llm.extract.malformed",
				"req_id", rid, "error", malformedErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return result, common.PermanentProviderError("openai response malformed after retry", malformedErr)
		}
		malformedRetried = true
		c.log.Warn("llm.extract.malformed_retry", "req_id", rid, "error", malformedErr)
	}
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
