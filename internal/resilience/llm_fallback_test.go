package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/meetscribe/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		primary        *llmmock.Provider
		secondary      *llmmock.Provider
		want           string
		wantErr        error
		wantSecondCall int
	}{
		{
			name:      "primary answers",
			primary:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "primary"}},
			secondary: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}},
			want:      "primary",
		},
		{
			name:           "failover",
			primary:        &llmmock.Provider{CompleteErr: errors.New("primary down")},
			secondary:      &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}},
			want:           "secondary",
			wantSecondCall: 1,
		},
		{
			name:           "all fail",
			primary:        &llmmock.Provider{CompleteErr: errors.New("primary down")},
			secondary:      &llmmock.Provider{CompleteErr: errors.New("secondary down")},
			wantErr:        ErrAllFailed,
			wantSecondCall: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb := NewLLMFallback(tt.primary, "primary", FallbackConfig{})
			fb.AddFallback("secondary", tt.secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Complete error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Complete: %v", err)
			} else if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			if got := tt.secondary.CallCount(); got != tt.wantSecondCall {
				t.Errorf("secondary calls = %d, want %d", got, tt.wantSecondCall)
			}
		})
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CapabilitiesValue: llm.ModelCapabilities{ContextWindow: 128000, MaxOutputTokens: 4096, SupportsJSONMode: true}}
	local := &llmmock.Provider{CapabilitiesValue: llm.ModelCapabilities{ContextWindow: 8192}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	if got := fb.Capabilities(); got != primary.CapabilitiesValue {
		t.Errorf("single backend Capabilities = %+v, want %+v", got, primary.CapabilitiesValue)
	}

	fb.AddFallback("local", local)
	want := llm.ModelCapabilities{ContextWindow: 8192, MaxOutputTokens: 4096}
	if got := fb.Capabilities(); got != want {
		t.Errorf("Capabilities = %+v, want %+v", got, want)
	}
}
