package constants

import "strings"

// Provider identifies a generative-text backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

var allProviders = []Provider{ProviderOpenAI, ProviderAnthropic}

func ProviderStrings() []string {
	result := make([]string, len(allProviders))
	for i, p := range allProviders {
		result[i] = string(p)
	}
	return result
}

// CanonicalizeProvider maps a user-supplied provider label to the enum.
func CanonicalizeProvider(input string) (Provider, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	for _, p := range allProviders {
		if normalized == string(p) {
			return p, true
		}
	}
	return "", false
}
