package config

import "fmt"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DefaultPromptChanged bool
	NewDefaultPrompt     string

	// RestartRequired lists top-level sections that changed in ways the
	// running process cannot apply.
	RestartRequired []string
}

// IsEmpty reports whether nothing changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.DefaultPromptChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Summary.DefaultPrompt != new.Summary.DefaultPrompt {
		d.DefaultPromptChanged = true
		d.NewDefaultPrompt = new.Summary.DefaultPrompt
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldSummary, newSummary := old.Summary, new.Summary
	oldSummary.DefaultPrompt, newSummary.DefaultPrompt = "", ""

	if !equalServer(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !equalWorker(old.Worker, new.Worker) {
		d.RestartRequired = append(d.RestartRequired, "worker")
	}
	if !equalRecognition(old.Recognition, new.Recognition) {
		d.RestartRequired = append(d.RestartRequired, "recognition")
	}
	for _, s := range []struct {
		name    string
		changed bool
	}{
		{"chunker", old.Chunker != new.Chunker},
		{"summary", oldSummary != newSummary},
		{"storage", old.Storage != new.Storage},
		{"database", old.Database != new.Database},
		{"audio", old.Audio != new.Audio},
		{"telemetry", old.Telemetry != new.Telemetry},
	} {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

func equalServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.LogLevel != b.LogLevel || a.ShutdownTimeout != b.ShutdownTimeout {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	return a.TLS == nil || *a.TLS == *b.TLS
}

func equalProviders(a, b ProvidersConfig) bool {
	return equalEntry(a.LLM, b.LLM) &&
		equalEntry(a.LLMFallback, b.LLMFallback) &&
		equalEntry(a.Embeddings, b.Embeddings) &&
		equalEntry(a.EmbeddingsFallback, b.EmbeddingsFallback) &&
		equalEntry(a.Recognizer, b.Recognizer) &&
		equalEntry(a.Transcribe, b.Transcribe)
}

// equalEntry compares option values by their formatted form, which is
// enough for the scalars and nested maps YAML produces.
func equalEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmtValue(av) != fmtValue(bv) {
			return false
		}
	}
	return true
}

func equalWorker(a, b WorkerConfig) bool {
	return a.IsEnabled() == b.IsEnabled() &&
		a.PollInterval == b.PollInterval &&
		a.MaxConcurrency == b.MaxConcurrency &&
		a.MaxOperationAge == b.MaxOperationAge &&
		a.StaleAfter == b.StaleAfter &&
		a.SecondaryTimeout == b.SecondaryTimeout &&
		a.SummarizeTimeout == b.SummarizeTimeout
}

func equalRecognition(a, b RecognitionConfig) bool {
	return a.LanguageCode == b.LanguageCode &&
		a.MinSpeakerCount == b.MinSpeakerCount &&
		a.MaxSpeakerCount == b.MaxSpeakerCount &&
		(a.Diarization == nil || *a.Diarization) == (b.Diarization == nil || *b.Diarization)
}

func fmtValue(v any) string { return fmt.Sprintf("%v", v) }
