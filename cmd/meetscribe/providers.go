package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/meetscribe/internal/app"
	"github.com/MrWong99/meetscribe/internal/config"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/resilience"
	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
	geminiembed "github.com/MrWong99/meetscribe/pkg/provider/embeddings/gemini"
	ollamaembed "github.com/MrWong99/meetscribe/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/meetscribe/pkg/provider/embeddings/openai"
	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	"github.com/MrWong99/meetscribe/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/meetscribe/pkg/provider/llm/openai"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer/google"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe/subprocess"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe/whisper"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe/whispernative"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp and llamafile share
	// the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		if ka := optDuration(entry.Options, "keep_alive"); ka > 0 {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("gemini", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []geminiembed.Option
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, geminiembed.WithDimensions(n))
		}
		if tt := optString(entry.Options, "task_type"); tt != "" {
			opts = append(opts, geminiembed.WithTaskType(tt))
		}
		return geminiembed.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	// ── Recognizer ────────────────────────────────────────────────────────────

	reg.RegisterRecognizer("google", func(entry config.ProviderEntry) (recognizer.Provider, error) {
		var opts []google.Option
		if entry.BaseURL != "" {
			opts = append(opts, google.WithEndpoint(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "poll_interval"); d > 0 {
			opts = append(opts, google.WithPollInterval(d))
		}
		return google.New(ctx, opts...)
	})

	// ── Secondary engine ──────────────────────────────────────────────────────

	reg.RegisterTranscribe("whisper", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscribe("whisper-native", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whispernative.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whispernative.WithLanguage(lang))
		}
		return whispernative.New(modelPath, opts...)
	})

	reg.RegisterTranscribe("subprocess", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []subprocess.Option
		if dir := optString(entry.Options, "temp_dir"); dir != "" {
			opts = append(opts, subprocess.WithTempDir(dir))
		}
		return subprocess.New(optString(entry.Options, "program"), optStrings(entry.Options, "args"), opts...)
	})

	for _, kind := range []string{"llm", "embeddings", "recognizer", "transcribe"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// A configured fallback wraps its primary behind per-backend circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	primaryLLM, err := create("llm", pc.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = primaryLLM
	if pc.LLMFallback.IsSet() {
		fb, err := create("llm", pc.LLMFallback, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		group := resilience.NewLLMFallback(primaryLLM, pc.LLM.Name, fallbackConfig(m))
		group.AddFallback(pc.LLMFallback.Name, fb)
		ps.LLM = group
	}

	primaryEmb, err := create("embeddings", pc.Embeddings, reg.CreateEmbeddings)
	if err != nil {
		return nil, err
	}
	ps.Embeddings = primaryEmb
	if pc.EmbeddingsFallback.IsSet() {
		fb, err := create("embeddings", pc.EmbeddingsFallback, reg.CreateEmbeddings)
		if err != nil {
			return nil, err
		}
		group := resilience.NewEmbeddingsFallback(primaryEmb, pc.Embeddings.Name, fallbackConfig(m))
		group.AddFallback(pc.EmbeddingsFallback.Name, fb)
		ps.Embeddings = group
	}

	if ps.Recognizer, err = create("recognizer", pc.Recognizer, reg.CreateRecognizer); err != nil {
		return nil, err
	}

	if pc.Transcribe.IsSet() {
		if ps.Transcribe, err = create("transcribe", pc.Transcribe, reg.CreateTranscribe); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// fallbackConfig reports breaker transitions of fallback groups to m. A nil
// m only logs them.
func fallbackConfig(m *observe.Metrics) resilience.FallbackConfig {
	if m == nil {
		return resilience.FallbackConfig{}
	}
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}
}

func create[T any](kind string, entry config.ProviderEntry, f func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := f(entry)
	if err != nil {
		var zero T
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return zero, fmt.Errorf("%s provider %q is not built in: %w", kind, entry.Name, err)
		}
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt accepts the integer forms a YAML decoder produces.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration string such as "30s". Invalid values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

func optStrings(opts map[string]any, key string) []string {
	raw, _ := opts[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
