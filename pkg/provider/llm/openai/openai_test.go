package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/meetscribe/pkg/provider/llm"
)

// chatServer answers every chat completion with content and finishReason and
// stores the last decoded request body.
func chatServer(t *testing.T, content, finishReason string, body *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(body); err != nil {
			t.Errorf("decode: %v", err)
		}
		reply := map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index": 0, "finish_reason": finishReason,
				"message": map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 900, "completion_tokens": 100, "total_tokens": 1000},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParams(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		req      llm.CompletionRequest
		wantMsgs int
		wantJSON bool
		wantMax  int64
	}{
		{
			name:     "json mode on capable model",
			model:    "gpt-4o-mini",
			req:      llm.CompletionRequest{SystemPrompt: "summarize", Messages: []llm.Message{{Role: llm.RoleUser, Content: "t"}}, JSONMode: true},
			wantMsgs: 2,
			wantJSON: true,
		},
		{
			name:     "json mode dropped for legacy model",
			model:    "gpt-4-0613",
			req:      llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "t"}}, JSONMode: true},
			wantMsgs: 1,
		},
		{
			name:  "max tokens clamped to model limit",
			model: "gpt-4o",
			req: llm.CompletionRequest{
				Messages:  []llm.Message{{Role: llm.RoleSystem, Content: "s"}, {Role: llm.RoleAssistant, Content: "a"}, {Role: llm.RoleUser, Content: "u"}},
				MaxTokens: 50_000,
			},
			wantMsgs: 3,
			wantMax:  16_384,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New("sk-test", tt.model)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			params := p.params(tt.req)
			if len(params.Messages) != tt.wantMsgs {
				t.Errorf("messages = %d, want %d", len(params.Messages), tt.wantMsgs)
			}
			if got := params.ResponseFormat.OfJSONObject != nil; got != tt.wantJSON {
				t.Errorf("json response format = %v, want %v", got, tt.wantJSON)
			}
			if got := params.MaxCompletionTokens.Value; got != tt.wantMax {
				t.Errorf("max completion tokens = %d, want %d", got, tt.wantMax)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name          string
		finishReason  string
		wantTruncated bool
	}{
		{"complete reply", "stop", false},
		{"hit token limit", "length", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := chatServer(t, `{"summary":"ok"}`, tt.finishReason, &body)

			p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithMaxRetries(0))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			resp, err := p.Complete(context.Background(), llm.CompletionRequest{
				SystemPrompt: "summarize",
				Messages:     []llm.Message{{Role: llm.RoleUser, Content: "transcript"}},
				Temperature:  0.2,
				JSONMode:     true,
			})
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != `{"summary":"ok"}` {
				t.Errorf("Content = %q", resp.Content)
			}
			if resp.Truncated != tt.wantTruncated {
				t.Errorf("Truncated = %v, want %v", resp.Truncated, tt.wantTruncated)
			}
			if resp.Usage.TotalTokens != 1000 {
				t.Errorf("TotalTokens = %d, want 1000", resp.Usage.TotalTokens)
			}
			rf, _ := body["response_format"].(map[string]any)
			if rf["type"] != "json_object" {
				t.Errorf("response_format = %v, want json_object", body["response_format"])
			}
			if body["temperature"] != 0.2 {
				t.Errorf("temperature = %v, want 0.2", body["temperature"])
			}
		})
	}
}

func TestComplete_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL), WithMaxRetries(0), WithOrganization("org-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "only system"}); err == nil {
		t.Error("Complete without messages: expected error")
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("server calls after invalid request = %d, want 0", got)
	}

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if err == nil {
		t.Fatal("Complete against failing server: expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 without retries", got)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := New("sk-test", "o1-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Capabilities().SupportsJSONMode {
		t.Error("o1-mini should not report JSON mode")
	}
}
