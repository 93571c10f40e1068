// Package summary produces the structured LLM summary of a session
// transcript.
//
// Summaries are cached in object storage at summaries/{org}/{session}.json;
// a cached summary is returned without calling the model unless the caller
// forces regeneration. Long transcripts are summarised map-reduce style:
// overlapping windows are condensed individually and the partial summaries
// combined in a final JSON-producing call.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	"github.com/MrWong99/meetscribe/pkg/session"
)

// Defaults for the summarisation limits.
const (
	DefaultMinTranscriptChars = 100
	DefaultChunkChars         = 8000
	DefaultChunkOverlap       = 800
	DefaultMaxPartialChars    = 120000
	DefaultTemperature        = 0.2
)

// Result is the structured summary persisted as JSON.
type Result struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
	Topics      []string `json:"topics"`
}

// IsEmpty reports whether r carries no summary text.
func (r Result) IsEmpty() bool { return r.Summary == "" }

func (r Result) normalize() Result {
	if r.ActionItems == nil {
		r.ActionItems = []string{}
	}
	if r.Topics == nil {
		r.Topics = []string{}
	}
	return r
}

func emptyResult() Result { return Result{}.normalize() }

// Options controls one Summarize call.
type Options struct {
	// Force regenerates the summary even when a cached one exists.
	Force bool

	// CustomPrompt replaces the session's own summary prompt.
	CustomPrompt string
}

// Store is the persistence the Summarizer needs.
type Store interface {
	SummaryPrefs(ctx context.Context, orgID uuid.UUID) (session.SummaryPrefs, error)
	UpdateSummary(ctx context.Context, id uuid.UUID, text string, data session.StructuredData, embedding []float32) error
}

// Embedder computes the summary embedding.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Config holds the tunable limits. Zero fields take the package defaults.
type Config struct {
	MinTranscriptChars int
	ChunkChars         int
	ChunkOverlap       int
	MaxPartialChars    int
	Temperature        float64
	DefaultPrompt      string
}

func (c Config) withDefaults() Config {
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = DefaultMinTranscriptChars
	}
	if c.ChunkChars <= 0 {
		c.ChunkChars = DefaultChunkChars
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.ChunkOverlap >= c.ChunkChars {
		c.ChunkOverlap = c.ChunkChars / 10
	}
	if c.MaxPartialChars <= 0 {
		c.MaxPartialChars = DefaultMaxPartialChars
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	return c
}

// Summarizer generates, caches and persists session summaries. It is safe
// for concurrent use.
type Summarizer struct {
	llm      llm.Provider
	objects  objstore.Store
	store    Store
	embedder Embedder
	metrics  *observe.Metrics

	mu  sync.RWMutex
	cfg Config
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithConfig overrides the summarisation limits.
func WithConfig(c Config) Option {
	return func(s *Summarizer) { s.cfg = c }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Summarizer) { s.metrics = m }
}

// New creates a Summarizer. embedder may be nil, in which case no summary
// embedding is stored.
func New(p llm.Provider, objects objstore.Store, store Store, embedder Embedder, opts ...Option) *Summarizer {
	s := &Summarizer{llm: p, objects: objects, store: store, embedder: embedder}
	for _, o := range opts {
		o(s)
	}
	s.cfg = s.cfg.withDefaults()
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetDefaultPrompt replaces the instructions used when no preference is set.
// It is called by the config watcher on hot reload.
func (s *Summarizer) SetDefaultPrompt(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DefaultPrompt = p
}

func (s *Summarizer) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Summarize returns the summary of sess, generating and persisting it unless
// a cached summary exists and opts.Force is false.
func (s *Summarizer) Summarize(ctx context.Context, sess *session.Session, opts Options) (res *Result, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordStage(ctx, observe.StageSummarize, start, err) }()

	key := session.SummaryPath(sess.OrganizationID, sess.ID)
	if !opts.Force {
		if cached, ok := s.cached(ctx, key); ok {
			slog.Debug("summary: cache hit", "session_id", sess.ID)
			return cached, nil
		}
	}

	cfg := s.config()
	prefs, err := s.store.SummaryPrefs(ctx, sess.OrganizationID)
	if err != nil {
		slog.Warn("summary: failed to load organization preferences", "org_id", sess.OrganizationID, "err", err)
		prefs = session.SummaryPrefs{}
	}
	instructions := BuildInstructions(prefs, sess.SummaryPrompt, opts.CustomPrompt, cfg.DefaultPrompt)

	transcript, err := s.transcript(ctx, sess)
	if err != nil {
		return nil, err
	}

	result := emptyResult()
	if len([]rune(transcript)) >= cfg.MinTranscriptChars {
		result, err = s.generate(ctx, cfg, transcript, instructions)
		if err != nil {
			return nil, err
		}
		result = clean(result)
	}

	if err := s.persist(ctx, sess, key, result); err != nil {
		return nil, err
	}
	slog.Info("summary: generated",
		"session_id", sess.ID,
		"summary_chars", len(result.Summary),
		"action_items", len(result.ActionItems),
		"topics", len(result.Topics),
	)
	return &result, nil
}

func (s *Summarizer) cached(ctx context.Context, key string) (*Result, bool) {
	data, err := s.objects.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, objstore.ErrNotFound) {
			slog.Warn("summary: failed to read cache", "key", key, "err", err)
		}
		return nil, false
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		slog.Warn("summary: ignoring corrupt cache entry", "key", key, "err", err)
		return nil, false
	}
	r = r.normalize()
	return &r, true
}

// transcript loads the plain transcript text. A missing transcript yields
// the empty string.
func (s *Summarizer) transcript(ctx context.Context, sess *session.Session) (string, error) {
	key := sess.TranscriptPath
	if key == "" {
		key = session.TranscriptPath(sess.OrganizationID, sess.ID)
	}
	data, err := s.objects.Get(ctx, key)
	if errors.Is(err, objstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("summary: read transcript: %w", err)
	}
	return session.PlainText(string(data)), nil
}

func (s *Summarizer) generate(ctx context.Context, cfg Config, transcript, instructions string) (Result, error) {
	material := transcript
	what := "Summarize this meeting transcript."
	if len([]rune(transcript)) > cfg.ChunkChars {
		partials, err := s.mapChunks(ctx, cfg, transcript, instructions)
		if err != nil {
			return Result{}, err
		}
		material = partials
		what = "Combine these chunk summaries into a final comprehensive summary."
	}

	content, err := s.complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(combinePrompt, what, instructions),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: material}},
		Temperature:  cfg.Temperature,
		JSONMode:     true,
	})
	if err != nil {
		return Result{}, err
	}
	return parseReply(content), nil
}

// mapChunks summarises each transcript window and joins the partial
// summaries, capped at cfg.MaxPartialChars.
func (s *Summarizer) mapChunks(ctx context.Context, cfg Config, transcript, instructions string) (string, error) {
	chunks := splitText(transcript, cfg.ChunkChars, cfg.ChunkOverlap)
	var (
		sb    strings.Builder
		total int
	)
	for i, chunk := range chunks {
		if total >= cfg.MaxPartialChars {
			slog.Warn("summary: partial summaries truncated", "chunks", len(chunks), "used", i)
			break
		}
		partial, err := s.complete(ctx, llm.CompletionRequest{
			SystemPrompt: fmt.Sprintf(mapPrompt, instructions),
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: chunk}},
			Temperature:  cfg.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("summary: chunk %d of %d: %w", i+1, len(chunks), err)
		}
		runes := []rune(strings.TrimSpace(partial))
		if len(runes) == 0 {
			continue
		}
		if remaining := cfg.MaxPartialChars - total; len(runes) > remaining {
			runes = runes[:remaining]
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(string(runes))
		total += len(runes)
	}
	return sb.String(), nil
}

func (s *Summarizer) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "llm")
		return "", fmt.Errorf("summary: complete: %w", err)
	}
	if resp == nil {
		s.metrics.RecordProviderError(ctx, "llm", "llm")
		return "", errors.New("summary: complete: empty response")
	}
	s.metrics.RecordProviderRequest(ctx, "llm", "llm", "ok")
	if resp.Truncated {
		observe.Logger(ctx).Warn("summary: reply hit the token limit", "json", req.JSONMode, "chars", len(resp.Content))
	}
	return resp.Content, nil
}

// persist stores r on the session row, then caches it. The cache is written
// last so that a cache hit implies the row already holds the summary.
func (s *Summarizer) persist(ctx context.Context, sess *session.Session, key string, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("summary: encode: %w", err)
	}

	var embedding []float32
	if !r.IsEmpty() && s.embedder != nil {
		embedding, err = s.embedder.EmbedText(ctx, r.Summary)
		if err != nil {
			slog.Warn("summary: embedding failed, storing summary without vector", "session_id", sess.ID, "err", err)
			embedding = nil
		}
	}

	structured := session.StructuredData{ActionItems: r.ActionItems, Topics: r.Topics}
	if err := s.store.UpdateSummary(ctx, sess.ID, r.Summary, structured, embedding); err != nil {
		return fmt.Errorf("summary: persist: %w", err)
	}
	if err := s.objects.Put(ctx, key, data, objstore.ContentTypeJSON); err != nil {
		return fmt.Errorf("summary: write cache: %w", err)
	}
	return nil
}
