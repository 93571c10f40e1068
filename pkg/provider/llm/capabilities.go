package llm

import "strings"

// defaultCapabilities applies to models no rule matches.
var defaultCapabilities = ModelCapabilities{
	ContextWindow:   128_000,
	MaxOutputTokens: 4_096,
}

// capabilityRule matches a lower-cased model name by prefix or, when
// contains is set, by substring. Rules are checked in order.
type capabilityRule struct {
	match    string
	contains bool
	caps     ModelCapabilities
}

var capabilityRules = []capabilityRule{
	// OpenAI
	{match: "gpt-4.1", caps: ModelCapabilities{1_047_576, 32_768, true}},
	{match: "gpt-4o", caps: ModelCapabilities{128_000, 16_384, true}},
	{match: "gpt-4-turbo", caps: ModelCapabilities{128_000, 4_096, true}},
	{match: "gpt-4", caps: ModelCapabilities{8_192, 4_096, false}},
	{match: "gpt-3.5-turbo", caps: ModelCapabilities{16_385, 4_096, true}},
	{match: "o1-mini", caps: ModelCapabilities{128_000, 65_536, false}},
	{match: "o1", caps: ModelCapabilities{200_000, 100_000, true}},
	{match: "o3", caps: ModelCapabilities{200_000, 100_000, true}},
	{match: "o4", caps: ModelCapabilities{200_000, 100_000, true}},

	// Anthropic
	{match: "claude-3-opus", contains: true, caps: ModelCapabilities{200_000, 4_096, false}},
	{match: "claude", caps: ModelCapabilities{200_000, 8_192, false}},

	// Google
	{match: "gemini-1.5-pro", contains: true, caps: ModelCapabilities{2_097_152, 8_192, true}},
	{match: "gemini-1.5-flash", contains: true, caps: ModelCapabilities{1_048_576, 8_192, true}},
	{match: "gemini-2", contains: true, caps: ModelCapabilities{1_048_576, 8_192, true}},
	{match: "gemini", caps: ModelCapabilities{128_000, 8_192, true}},

	// Local models
	{match: "llama", caps: ModelCapabilities{32_768, 4_096, false}},
	{match: "mistral", caps: ModelCapabilities{32_768, 4_096, false}},
	{match: "qwen", caps: ModelCapabilities{32_768, 4_096, false}},
}

// LookupCapabilities returns the limits of a known model family, or
// conservative defaults for unknown models.
func LookupCapabilities(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if r.contains && strings.Contains(lower, r.match) {
			return r.caps
		}
		if !r.contains && strings.HasPrefix(lower, r.match) {
			return r.caps
		}
	}
	return defaultCapabilities
}
