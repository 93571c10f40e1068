// Package app wires all meetscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the background worker, Handler exposes the HTTP
// surface, and Shutdown tears everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithStore, WithObjectStore, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/meetscribe/internal/audio"
	"github.com/MrWong99/meetscribe/internal/chunker"
	"github.com/MrWong99/meetscribe/internal/config"
	"github.com/MrWong99/meetscribe/internal/embedding"
	"github.com/MrWong99/meetscribe/internal/events"
	"github.com/MrWong99/meetscribe/internal/health"
	"github.com/MrWong99/meetscribe/internal/liveappend"
	"github.com/MrWong99/meetscribe/internal/mcpserver"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/pipeline"
	"github.com/MrWong99/meetscribe/internal/resilience"
	"github.com/MrWong99/meetscribe/internal/scheduler"
	"github.com/MrWong99/meetscribe/internal/sessions"
	"github.com/MrWong99/meetscribe/internal/summary"
	"github.com/MrWong99/meetscribe/internal/transcription"
	"github.com/MrWong99/meetscribe/pkg/command"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/objstore/fs"
	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
	"github.com/MrWong99/meetscribe/pkg/store"
	"github.com/MrWong99/meetscribe/pkg/store/memory"
	"github.com/MrWong99/meetscribe/pkg/store/postgres"
)

// eventBuffer is the per-subscriber queue length of the status hub.
const eventBuffer = 64

// Providers holds one interface value per provider slot. Transcribe may be
// nil, which disables the secondary engine. Populated by main.go via the
// config registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
	Recognizer recognizer.Provider
	Transcribe transcribe.Provider
}

// App owns all subsystem lifetimes and orchestrates the transcription
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store      store.Store
	objects    objstore.Store
	metrics    *observe.Metrics
	runner     command.Runner
	hub        *events.Hub
	indexer    *embedding.Indexer
	summarizer *summary.Summarizer
	adapter    *transcription.Adapter
	scheduler  *scheduler.Scheduler
	sessions   *sessions.Service
	mcp        *mcpserver.Server
	health     *health.Handler

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for configuring an App.
type Option func(*App)

// WithStore overrides the session store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithObjectStore overrides the object store.
func WithObjectStore(s objstore.Store) Option {
	return func(a *App) { a.objects = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRunner overrides the command runner used for ffmpeg.
func WithRunner(r command.Runner) Option {
	return func(a *App) { a.runner = r }
}

// New creates a new App by wiring all subsystems together. Options override
// the default stores built from cfg.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.Embeddings == nil || providers.Recognizer == nil {
		return nil, fmt.Errorf("app: llm, embeddings and recognizer providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	a.initPipeline()
	a.initSurface()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStores(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Database.Driver {
		case config.DriverPostgres:
			st, err := postgres.NewStore(ctx, a.cfg.Database.DSN, a.dimensions())
			if err != nil {
				return fmt.Errorf("app: open database: %w", err)
			}
			a.store = st
			slog.Info("database connected", "driver", "postgres")
		default:
			a.store = memory.New()
			slog.Warn("using in-memory session store; data is lost on restart")
		}
		a.closers = append(a.closers, func() error {
			a.store.Close()
			return nil
		})
	}

	if a.objects == nil {
		objects, err := fs.New(a.cfg.Storage.Dir)
		if err != nil {
			return fmt.Errorf("app: open object store: %w", err)
		}
		a.objects = objects
	}
	return nil
}

func (a *App) initPipeline() {
	cfg := a.cfg
	a.hub = events.NewHub(eventBuffer)

	a.indexer = embedding.NewIndexer(a.providers.Embeddings, a.store,
		embedding.WithDimensions(a.dimensions()),
		embedding.WithChunkOptions(chunker.Options{
			MaxWords:       cfg.Chunker.MaxWords,
			TargetDuration: cfg.Chunker.TargetDuration,
			MinChars:       cfg.Chunker.MinChars,
		}),
		embedding.WithMetrics(a.metrics),
	)

	a.summarizer = summary.New(a.providers.LLM, a.objects, a.store, a.indexer,
		summary.WithConfig(summary.Config{
			MinTranscriptChars: cfg.Summary.MinTranscriptChars,
			ChunkChars:         cfg.Summary.ChunkChars,
			ChunkOverlap:       cfg.Summary.ChunkOverlap,
			Temperature:        cfg.Summary.Temperature,
			DefaultPrompt:      cfg.Summary.DefaultPrompt,
		}),
		summary.WithMetrics(a.metrics),
	)

	fin := transcription.NewFinalizer(a.objects, a.store, a.indexer, a.summarizer,
		transcription.WithEvents(a.hub),
		transcription.WithFinalizerMetrics(a.metrics),
	)

	rec := resilience.NewRecognizer(a.providers.Recognizer, resilience.CircuitBreakerConfig{
		Name: "recognizer",
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	adapterOpts := []transcription.Option{
		transcription.WithRecognitionConfig(a.recognitionConfig()),
		transcription.WithAdapterEvents(a.hub),
		transcription.WithMetrics(a.metrics),
	}
	if a.providers.Transcribe != nil {
		adapterOpts = append(adapterOpts, transcription.WithSecondary(a.providers.Transcribe, cfg.Worker.SecondaryTimeout))
	}
	a.adapter = transcription.NewAdapter(a.objects, a.store, rec, fin, adapterOpts...)

	audioOpts := []audio.Option{
		audio.WithTempDir(cfg.Audio.TempDir),
		audio.WithProgress(a.store),
		audio.WithMetrics(a.metrics),
	}
	if cfg.Audio.FFmpegPath != "" {
		audioOpts = append(audioOpts, audio.WithFFmpegPath(cfg.Audio.FFmpegPath))
	}
	if a.runner != nil {
		audioOpts = append(audioOpts, audio.WithRunner(a.runner))
	}
	assembler := audio.New(a.objects, audioOpts...)

	a.scheduler = scheduler.New(scheduler.Config{
		PollInterval:     cfg.Worker.PollInterval,
		MaxConcurrency:   cfg.Worker.MaxConcurrency,
		MaxOperationAge:  cfg.Worker.MaxOperationAge,
		StaleAfter:       cfg.Worker.StaleAfter,
		SummarizeTimeout: cfg.Worker.SummarizeTimeout,
	}, a.store, pipeline.New(assembler, a.adapter, a.metrics),
		scheduler.WithEvents(a.hub),
		scheduler.WithMetrics(a.metrics),
	)
}

func (a *App) initSurface() {
	appender := liveappend.New(a.objects, a.store, a.indexer)
	a.sessions = sessions.New(a.objects, a.store, a.summarizer, appender, sessions.WithEvents(a.hub))
	a.mcp = mcpserver.New(a.sessions, a.store, a.indexer)
	a.health = health.New(
		health.Database(a.store),
		health.ObjectStore(a.objects),
	)
}

func (a *App) dimensions() int {
	if n := a.cfg.Database.EmbeddingDimensions; n > 0 {
		return n
	}
	return embedding.DefaultDimensions
}

func (a *App) recognitionConfig() recognizer.Config {
	rc := recognizer.DefaultConfig()
	r := a.cfg.Recognition
	if r.LanguageCode != "" {
		rc.LanguageCode = r.LanguageCode
	}
	if r.MinSpeakerCount > 0 {
		rc.MinSpeakerCount = r.MinSpeakerCount
	}
	if r.MaxSpeakerCount > 0 {
		rc.MaxSpeakerCount = r.MaxSpeakerCount
	}
	if r.Diarization != nil {
		rc.EnableSpeakerDiarization = *r.Diarization
	}
	return rc
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the inbound session service.
func (a *App) Sessions() *sessions.Service { return a.sessions }

// Store returns the session store.
func (a *App) Store() store.Store { return a.store }

// Scheduler returns the background worker.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Handler returns the HTTP surface: health probes, the status event stream
// and the MCP endpoint, wrapped in request metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /v1/events", a.hub)
	mux.Handle("/mcp", a.mcp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// OnConfigChange applies hot-reloadable settings from a config diff.
func (a *App) OnConfigChange(d config.ConfigDiff) {
	if d.DefaultPromptChanged {
		a.summarizer.SetDefaultPrompt(d.NewDefaultPrompt)
		slog.Info("default summary prompt updated")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background worker and blocks until ctx is cancelled. When
// the worker is disabled Run only waits for ctx. It returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	if !a.cfg.Worker.IsEnabled() {
		slog.Info("app running", "worker", false)
		<-ctx.Done()
		return ctx.Err()
	}
	slog.Info("app running", "worker", true, "max_concurrency", a.scheduler.Pool().Size())
	if err := a.scheduler.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown waits for detached secondary transcriptions, then tears down all
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.adapter.Wait(ctx); err != nil {
			slog.Warn("secondary transcriptions still running", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
