package llm

import (
	"strings"
	"unicode/utf8"
)

// ModelPricing holds USD rates per 1K tokens.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Published per-model rates. Dated model ids resolve by prefix, so
// "gpt-4o-2024-08-06" picks up the "gpt-4o" row.
var modelPricing = map[string]ModelPricing{
	"gpt-5":                  {InputPer1K: 0.00125, OutputPer1K: 0.01},
	"gpt-5-mini":             {InputPer1K: 0.00025, OutputPer1K: 0.002},
	"gpt-4o":                 {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4.1":                {InputPer1K: 0.002, OutputPer1K: 0.008},
	"gpt-4.1-mini":           {InputPer1K: 0.0004, OutputPer1K: 0.0016},
	"claude-sonnet-4-5":      {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-haiku-4-5":       {InputPer1K: 0.001, OutputPer1K: 0.005},
	"claude-3-5-sonnet":      {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku":       {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"text-embedding-3-small": {InputPer1K: 0.00002},
	"text-embedding-3-large": {InputPer1K: 0.00013},
}

// fallbackPricing covers models we have no row for; estimates stay in a
// sane order of magnitude rather than silently reading zero.
var fallbackPricing = ModelPricing{InputPer1K: 0.002, OutputPer1K: 0.008}

// PricingFor resolves the rate card for a model id, longest prefix wins.
func PricingFor(model string) ModelPricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	var best string
	for id := range modelPricing {
		if strings.HasPrefix(model, id) && len(id) > len(best) {
			best = id
		}
	}
	if best != "" {
		return modelPricing[best]
	}
	return fallbackPricing
}

// CostUSD prices reported usage against a model's rate card.
func CostUSD(model string, u Usage) float64 {
	p := PricingFor(model)
	return float64(u.InputTokens)/1000*p.InputPer1K + float64(u.OutputTokens)/1000*p.OutputPer1K
}

// ApproxTokens estimates the token count of a text at the usual ~4 chars
// per token, rounding up. Good enough for pre-flight cost estimates; actual
// usage always comes from the provider's reported numbers.
func ApproxTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
