package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/meetscribe/pkg/provider/llm"
)

func newTestProvider(t *testing.T, model string) *Provider {
	t.Helper()
	p, err := New("ollama", model)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		model      string
		req        llm.CompletionRequest
		wantMsgs   int
		wantSystem string
		wantTemp   *float64
		wantMax    *int
	}{
		{
			name:  "system prompt and limits",
			model: "claude-sonnet-4-5",
			req: llm.CompletionRequest{
				SystemPrompt: "Summarize.",
				Messages:     []llm.Message{{Role: llm.RoleUser, Content: "transcript"}},
				Temperature:  0.2,
				MaxTokens:    512,
			},
			wantMsgs:   2,
			wantSystem: "Summarize.",
			wantTemp:   ptr(0.2),
			wantMax:    ptr(512),
		},
		{
			name:     "defaults left unset",
			model:    "llama3",
			req:      llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}},
			wantMsgs: 1,
		},
		{
			name:  "max tokens clamped",
			model: "llama3.1:8b",
			req: llm.CompletionRequest{
				Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "hello"}},
				MaxTokens: 100_000,
			},
			wantMsgs: 2,
			wantMax:  ptr(4_096),
		},
		{
			name:       "json mode adds instruction",
			model:      "llama3",
			req:        llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, JSONMode: true},
			wantMsgs:   2,
			wantSystem: jsonInstruction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := newTestProvider(t, tt.model).params(tt.req)

			if params.Model != tt.model {
				t.Errorf("Model = %q, want %q", params.Model, tt.model)
			}
			if len(params.Messages) != tt.wantMsgs {
				t.Fatalf("len(Messages) = %d, want %d", len(params.Messages), tt.wantMsgs)
			}
			if tt.wantSystem != "" {
				first := params.Messages[0]
				if first.Role != anyllmlib.RoleSystem || !strings.Contains(first.ContentString(), tt.wantSystem) {
					t.Errorf("system message = %q (%s), want it to contain %q", first.ContentString(), first.Role, tt.wantSystem)
				}
			}
			last := params.Messages[len(params.Messages)-1]
			if want := tt.req.Messages[len(tt.req.Messages)-1]; last.Role != want.Role || last.ContentString() != want.Content {
				t.Errorf("last message = %s/%q, want %s/%q", last.Role, last.ContentString(), want.Role, want.Content)
			}
			if !equalPtr(params.Temperature, tt.wantTemp) {
				t.Errorf("Temperature = %v, want %v", params.Temperature, tt.wantTemp)
			}
			if !equalPtr(params.MaxTokens, tt.wantMax) {
				t.Errorf("MaxTokens = %v, want %v", params.MaxTokens, tt.wantMax)
			}
		})
	}
}

func TestCapabilities_NoNativeJSON(t *testing.T) {
	t.Parallel()

	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	caps := p.Capabilities()
	if caps.SupportsJSONMode {
		t.Error("SupportsJSONMode = true, want false")
	}
	if want := llm.LookupCapabilities("gpt-4o"); caps.ContextWindow != want.ContextWindow || caps.MaxOutputTokens != want.MaxOutputTokens {
		t.Errorf("caps = %+v, want limits of %+v", caps, want)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty backend")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported backend")
	}
	if !strings.Contains(err.Error(), "anthropic") {
		t.Errorf("error %q does not list supported backends", err)
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		backend string
		model   string
		opts    []anyllmlib.Option
	}{
		{"openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", "claude-sonnet-4-5", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.backend, err)
			}
			if want := strings.ToLower(tt.backend); p.name != want {
				t.Errorf("name = %q, want %q", p.name, want)
			}
		})
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBackends_Sorted(t *testing.T) {
	t.Parallel()

	got := Backends()
	if len(got) != 9 {
		t.Errorf("len(Backends()) = %d, want 9", len(got))
	}
	if !slices.IsSorted(got) {
		t.Errorf("Backends() = %v, want sorted", got)
	}
}

func ptr[T any](v T) *T { return &v }

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
