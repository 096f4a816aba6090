package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPricingForResolvesByPrefix(t *testing.T) {
	exact := PricingFor("gpt-4o")
	dated := PricingFor("gpt-4o-2024-08-06")
	assert.Equal(t, exact, dated)

	// longest prefix wins: gpt-4o-mini must not resolve to the gpt-4o row
	mini := PricingFor("gpt-4o-mini-2024-07-18")
	assert.Equal(t, PricingFor("gpt-4o-mini"), mini)
	assert.NotEqual(t, exact, mini)
}

func TestPricingForUnknownModelFallsBack(t *testing.T) {
	p := PricingFor("experimental-model-x")
	assert.Equal(t, fallbackPricing, p)
	assert.Greater(t, p.InputPer1K, 0.0)
}

func TestCostUSD(t *testing.T) {
	u := Usage{InputTokens: 2000, OutputTokens: 500}
	p := PricingFor("gpt-4o")
	want := 2.0*p.InputPer1K + 0.5*p.OutputPer1K
	assert.InDelta(t, want, CostUSD("gpt-4o", u), 1e-9)
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("abc"))
	assert.Equal(t, 1, ApproxTokens("abcd"))
	assert.Equal(t, 2, ApproxTokens("abcde"))
	assert.Equal(t, 250, ApproxTokens(strings.Repeat("a", 1000)))

	// runes, not bytes
	assert.Equal(t, 1, ApproxTokens("мир"))
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 20}
	u.Add(Usage{InputTokens: 50, OutputTokens: 5})
	assert.Equal(t, 150, u.InputTokens)
	assert.Equal(t, 25, u.OutputTokens)
	assert.Equal(t, 175, u.Total())
}
