package resilience

import (
	"context"

	"github.com/MrWong99/meetscribe/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] failing over across several LLM backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an LLMFallback preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers p to be tried after the existing backends.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the capabilities shared by every backend: the
// smallest limits, and JSON mode only when all of them support it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var out llm.ModelCapabilities
	for i, e := range f.group.entries {
		c := e.value.Capabilities()
		if i == 0 {
			out = c
			continue
		}
		out.ContextWindow = minPositive(out.ContextWindow, c.ContextWindow)
		out.MaxOutputTokens = minPositive(out.MaxOutputTokens, c.MaxOutputTokens)
		out.SupportsJSONMode = out.SupportsJSONMode && c.SupportsJSONMode
	}
	return out
}

// minPositive treats zero as unknown.
func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	}
	return min(a, b)
}
