package llm_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/meetscribe/pkg/provider/llm"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	user := []llm.Message{{Role: llm.RoleUser, Content: "summarize"}}
	tests := []struct {
		name    string
		req     llm.CompletionRequest
		wantErr bool
	}{
		{"valid", llm.CompletionRequest{Messages: user, Temperature: 0.2}, false},
		{"system prompt only", llm.CompletionRequest{SystemPrompt: "be brief"}, true},
		{"unknown role", llm.CompletionRequest{Messages: []llm.Message{{Role: "tool", Content: "x"}}}, true},
		{"negative temperature", llm.CompletionRequest{Messages: user, Temperature: -0.1}, true},
		{"temperature too high", llm.CompletionRequest{Messages: user, Temperature: 2.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := llm.Validate(tt.req); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := llm.Validate(llm.CompletionRequest{}); !errors.Is(err, llm.ErrEmptyRequest) {
		t.Errorf("Validate(empty) = %v, want ErrEmptyRequest", err)
	}
}

func TestLookupCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model    string
		wantCtx  int
		wantOut  int
		wantJSON bool
	}{
		{"gpt-4.1-mini", 1_047_576, 32_768, true},
		{"GPT-4o-2024-08-06", 128_000, 16_384, true},
		{"gpt-4-0613", 8_192, 4_096, false},
		{"o1-mini", 128_000, 65_536, false},
		{"o3", 200_000, 100_000, true},
		{"claude-sonnet-4-5", 200_000, 8_192, false},
		{"anthropic/claude-3-opus", 200_000, 4_096, false},
		{"models/gemini-2.0-flash", 1_048_576, 8_192, true},
		{"llama3.1:8b", 32_768, 4_096, false},
		{"something-new", 128_000, 4_096, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			got := llm.LookupCapabilities(tt.model)
			if got.ContextWindow != tt.wantCtx {
				t.Errorf("ContextWindow = %d, want %d", got.ContextWindow, tt.wantCtx)
			}
			if got.MaxOutputTokens != tt.wantOut {
				t.Errorf("MaxOutputTokens = %d, want %d", got.MaxOutputTokens, tt.wantOut)
			}
			if got.SupportsJSONMode != tt.wantJSON {
				t.Errorf("SupportsJSONMode = %v, want %v", got.SupportsJSONMode, tt.wantJSON)
			}
		})
	}
}
