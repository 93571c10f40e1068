package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultStorageDir          = "./data"
	DefaultEmbeddingDimensions = 768
	DefaultFFmpegPath          = "ffmpeg"
	DefaultLanguageCode        = "en-US"
	DefaultMinSpeakerCount     = 2
	DefaultMaxSpeakerCount     = 6
	DefaultServiceName         = "meetscribe"
	DefaultMetricsPath         = "/metrics"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama", "gemini"},
	"recognizer": {"google"},
	"transcribe": {"whisper", "whisper-native", "subprocess"},
}

// Load reads, defaults and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, rejecting unknown keys, then applies
// defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a process-wide default. Fields
// owned by a single component (worker, chunker, summary limits) stay zero
// and take that component's default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
		if cfg.Database.DSN != "" {
			cfg.Database.Driver = DriverPostgres
		}
	}
	if cfg.Database.EmbeddingDimensions <= 0 {
		cfg.Database.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageFS
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = DefaultStorageDir
	}
	if cfg.Audio.FFmpegPath == "" {
		cfg.Audio.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.Recognition.LanguageCode == "" {
		cfg.Recognition.LanguageCode = DefaultLanguageCode
	}
	if cfg.Recognition.MinSpeakerCount <= 0 {
		cfg.Recognition.MinSpeakerCount = DefaultMinSpeakerCount
	}
	if cfg.Recognition.MaxSpeakerCount <= 0 {
		cfg.Recognition.MaxSpeakerCount = max(DefaultMaxSpeakerCount, cfg.Recognition.MinSpeakerCount)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks cfg for coherence and returns all problems joined. Soft
// issues are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	p := cfg.Providers
	for _, req := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"llm", p.LLM},
		{"embeddings", p.Embeddings},
		{"recognizer", p.Recognizer},
	} {
		if !req.entry.IsSet() {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", req.kind))
		}
	}
	if p.LLMFallback.IsSet() && !p.LLM.IsSet() {
		errs = append(errs, errors.New("providers.llm_fallback requires providers.llm"))
	}
	if p.EmbeddingsFallback.IsSet() && !p.Embeddings.IsSet() {
		errs = append(errs, errors.New("providers.embeddings_fallback requires providers.embeddings"))
	}
	validateProviderName("llm", p.LLM.Name)
	validateProviderName("llm", p.LLMFallback.Name)
	validateProviderName("embeddings", p.Embeddings.Name)
	validateProviderName("embeddings", p.EmbeddingsFallback.Name)
	validateProviderName("recognizer", p.Recognizer.Name)
	validateProviderName("transcribe", p.Transcribe.Name)

	w := cfg.Worker
	for name, d := range map[string]time.Duration{
		"poll_interval":     w.PollInterval,
		"max_operation_age": w.MaxOperationAge,
		"stale_after":       w.StaleAfter,
		"secondary_timeout": w.SecondaryTimeout,
		"summarize_timeout": w.SummarizeTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("worker.%s must not be negative", name))
		}
	}
	if w.MaxConcurrency < 0 {
		errs = append(errs, errors.New("worker.max_concurrency must not be negative"))
	}
	if w.StaleAfter > 0 && w.PollInterval > 0 && w.StaleAfter <= 2*w.PollInterval {
		slog.Warn("worker.stale_after is not above twice the poll interval; live sessions may be re-claimed",
			"stale_after", w.StaleAfter, "poll_interval", w.PollInterval)
	}

	if r := cfg.Recognition; r.MinSpeakerCount > r.MaxSpeakerCount {
		errs = append(errs, fmt.Errorf("recognition.min_speaker_count %d exceeds max_speaker_count %d", r.MinSpeakerCount, r.MaxSpeakerCount))
	}

	if c := cfg.Chunker; c.MaxWords < 0 || c.MinChars < 0 || c.TargetDuration < 0 {
		errs = append(errs, errors.New("chunker values must not be negative"))
	}
	if s := cfg.Summary; s.ChunkChars > 0 && s.ChunkOverlap >= s.ChunkChars {
		errs = append(errs, fmt.Errorf("summary.chunk_overlap %d must be below chunk_chars %d", s.ChunkOverlap, s.ChunkChars))
	}
	if t := cfg.Summary.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("summary.temperature %.2f is out of range [0, 2]", t))
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	case DriverMemory:
		slog.Warn("database.driver is memory; sessions are lost on restart and not shared between instances")
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is invalid; valid values: postgres, memory", cfg.Database.Driver))
	}
	if d := cfg.Database.EmbeddingDimensions; d != 0 && d != DefaultEmbeddingDimensions {
		slog.Warn("database.embedding_dimensions differs from the schema default; the vector columns must match",
			"embedding_dimensions", d, "default", DefaultEmbeddingDimensions)
	}

	if cfg.Storage.Driver != StorageFS {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: fs", cfg.Storage.Driver))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is set but not a known provider.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
