package main

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/meetscribe/internal/config"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/resilience"
	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
	embmock "github.com/MrWong99/meetscribe/pkg/provider/embeddings/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/meetscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	recmock "github.com/MrWong99/meetscribe/pkg/provider/recognizer/mock"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, errors.New("no key") })
	reg.RegisterEmbeddings("mock", func(config.ProviderEntry) (embeddings.Provider, error) { return &embmock.Provider{}, nil })
	reg.RegisterRecognizer("mock", func(config.ProviderEntry) (recognizer.Provider, error) { return &recmock.Provider{}, nil })
	return reg
}

func mockConfig() *config.Config {
	return &config.Config{Providers: config.ProvidersConfig{
		LLM:        config.ProviderEntry{Name: "mock"},
		Embeddings: config.ProviderEntry{Name: "mock"},
		Recognizer: config.ProviderEntry{Name: "mock"},
	}}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	ps, err := buildProviders(mockConfig(), mockRegistry(), nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*llmmock.Provider); !ok {
		t.Errorf("LLM = %T, want *mock.Provider", ps.LLM)
	}
	if ps.Transcribe != nil {
		t.Errorf("Transcribe = %T, want nil", ps.Transcribe)
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()

	cfg := mockConfig()
	cfg.Providers.LLMFallback = config.ProviderEntry{Name: "mock"}
	cfg.Providers.EmbeddingsFallback = config.ProviderEntry{Name: "mock"}

	ps, err := buildProviders(cfg, mockRegistry(), nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if _, ok := ps.Embeddings.(*resilience.EmbeddingsFallback); !ok {
		t.Errorf("Embeddings = %T, want *resilience.EmbeddingsFallback", ps.Embeddings)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		notReg bool
	}{
		{"unknown llm", func(c *config.Config) { c.Providers.LLM.Name = "nope" }, true},
		{"factory failure", func(c *config.Config) { c.Providers.LLM.Name = "broken" }, false},
		{"unknown transcribe", func(c *config.Config) { c.Providers.Transcribe.Name = "nope" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := mockConfig()
			tt.mutate(cfg)
			_, err := buildProviders(cfg, mockRegistry(), nil)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, config.ErrProviderNotRegistered); got != tt.notReg {
				t.Errorf("errors.Is(ErrProviderNotRegistered) = %v, want %v", got, tt.notReg)
			}
		})
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language": "de",
		"count":    3,
		"float":    4.0,
		"timeout":  "90s",
		"bad":      "soon",
		"args":     []any{"-f", 7, "{input}"},
	}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q, want %q", got, "de")
	}
	if got := optString(opts, "count"); got != "" {
		t.Errorf("optString(non-string) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q, want empty", got)
	}
	if got := optInt(opts, "count"); got != 3 {
		t.Errorf("optInt = %d, want 3", got)
	}
	if got := optInt(opts, "float"); got != 4 {
		t.Errorf("optInt(float) = %d, want 4", got)
	}
	if got := optDuration(opts, "timeout"); got != 90*time.Second {
		t.Errorf("optDuration = %v, want 90s", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(invalid) = %v, want 0", got)
	}
	args := optStrings(opts, "args")
	if len(args) != 2 || args[0] != "-f" || args[1] != "{input}" {
		t.Errorf("optStrings = %v, want [-f {input}]", args)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[config.LogLevel]string{
		config.LogDebug: "DEBUG",
		config.LogInfo:  "INFO",
		config.LogWarn:  "WARN",
		config.LogError: "ERROR",
		"":              "INFO",
	} {
		if got := slogLevel(in).String(); got != want {
			t.Errorf("slogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFallbackConfig(t *testing.T) {
	t.Parallel()

	if fallbackConfig(nil).CircuitBreaker.OnStateChange != nil {
		t.Error("nil metrics should leave OnStateChange unset")
	}
	fc := fallbackConfig(observe.DefaultMetrics())
	if fc.CircuitBreaker.OnStateChange == nil {
		t.Fatal("OnStateChange not set")
	}
	fc.CircuitBreaker.OnStateChange("openai", resilience.StateClosed, resilience.StateOpen)
}
