// Package scheduler dispatches uploaded sessions to workers and recovers
// sessions abandoned mid-flight.
//
// Ownership of a session is decided only by the store's conditional status
// update, so any number of scheduler processes can share one database. Within
// a process the [Pool] keeps a session from being dispatched twice.
//
// Two loops run until the context is cancelled. The fast loop claims
// uploaded sessions up to the free pool capacity. The slow loop scans
// transcribing sessions: those with a recognition operation are polled (or
// failed once the operation is too old) and those without one are re-claimed
// once stale and processed from the beginning. It also completes sessions
// left in summarizing by a worker that died during enrichment.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetscribe/internal/events"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store"
)

// Defaults for [Config].
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultMaxConcurrency   = 10
	DefaultMaxOperationAge  = 6 * time.Hour
	DefaultStaleAfter       = 5 * time.Minute
	DefaultSummarizeTimeout = time.Hour
	DefaultScanLimit        = 100
)

// operationTimeoutMessage is recorded on sessions whose recognition
// operation exceeded MaxOperationAge.
const operationTimeoutMessage = "recognition operation timed out"

// Processor runs the pipeline for a session owned by this process.
type Processor interface {
	// Process runs a claimed session from audio assembly onwards.
	Process(ctx context.Context, sess *session.Session) error

	// Recover polls the session's pending recognition operation and
	// finalizes the session when it is done.
	Recover(ctx context.Context, sess *session.Session) error
}

// Store is the subset of the session store used by the scheduler.
type Store interface {
	ListByStatus(ctx context.Context, status session.Status, limit int) ([]*session.Session, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Reclaim(ctx context.Context, id uuid.UUID, seen time.Time) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to session.Status) error
	MarkError(ctx context.Context, id uuid.UUID, msg string) error
}

// Config holds the loop timing and capacity.
type Config struct {
	// PollInterval is the fast loop period. The slow loop runs at twice it.
	PollInterval time.Duration

	// MaxConcurrency bounds the sessions processed at once.
	MaxConcurrency int

	// MaxOperationAge fails a session whose recognition operation is older.
	MaxOperationAge time.Duration

	// StaleAfter is how long a transcribing session without an operation
	// may go without an update before it is re-claimed.
	StaleAfter time.Duration

	// SummarizeTimeout is how long a session may stay summarizing without
	// an update before the slow loop completes it as ready. The transcript
	// is already persisted at that point.
	SummarizeTimeout time.Duration

	// ScanLimit bounds the sessions of each status examined per slow tick.
	ScanLimit int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MaxOperationAge <= 0 {
		c.MaxOperationAge = DefaultMaxOperationAge
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = DefaultSummarizeTimeout
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = DefaultScanLimit
	}
	return c
}

// Scheduler owns the dispatch and recovery loops.
type Scheduler struct {
	cfg       Config
	store     Store
	processor Processor
	pool      *Pool
	events    events.Publisher
	metrics   *observe.Metrics
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEvents publishes the claim and timeout transitions made by the
// scheduler.
func WithEvents(p events.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides time.Now for age checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(cfg Config, st Store, p Processor, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		store:     st,
		processor: p,
		events:    events.Discard,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.pool = NewPool(s.cfg.MaxConcurrency, s.metrics)
	return s
}

// Pool returns the scheduler's worker pool.
func (s *Scheduler) Pool() *Pool { return s.pool }

// Run runs both loops until ctx is cancelled, then waits for in-flight
// tasks to return.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler: started",
		"poll_interval", s.cfg.PollInterval,
		"max_concurrency", s.cfg.MaxConcurrency,
		"max_operation_age", s.cfg.MaxOperationAge,
		"stale_after", s.cfg.StaleAfter,
		"summarize_timeout", s.cfg.SummarizeTimeout,
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, s.cfg.PollInterval, s.Dispatch)
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, 2*s.cfg.PollInterval, func(ctx context.Context) int {
			n := s.Recover(ctx)
			s.CompleteStale(ctx)
			return n
		})
		return nil
	})
	err := g.Wait()
	s.pool.Wait()
	slog.Info("scheduler: stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, tick func(context.Context) int) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// Dispatch claims uploaded sessions up to the free pool capacity and starts
// processing them. It returns the number of sessions dispatched.
func (s *Scheduler) Dispatch(ctx context.Context) int {
	capacity := s.pool.Size() - s.pool.InFlight()
	if capacity <= 0 {
		return 0
	}
	candidates, err := s.store.ListByStatus(ctx, session.StatusUploaded, capacity)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("scheduler: list uploaded sessions", "err", err)
		}
		return 0
	}

	n := 0
	for _, sess := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.pool.Has(sess.ID) {
			continue
		}
		won, err := s.store.Claim(ctx, sess.ID)
		if err != nil {
			slog.Warn("scheduler: claim", "session_id", sess.ID, "err", err)
			continue
		}
		s.metrics.RecordClaim(ctx, "claim", won)
		if !won {
			continue
		}
		sess.Status = session.StatusTranscribing
		sess.ErrorMessage = ""
		if s.start(ctx, sess) {
			n++
		}
	}
	return n
}

// Recover scans transcribing sessions once. Sessions with a recognition
// operation are polled, or failed when the operation exceeded
// MaxOperationAge. Stale sessions without one are re-claimed and processed
// again. It returns the number of tasks started.
func (s *Scheduler) Recover(ctx context.Context) int {
	candidates, err := s.store.ListByStatus(ctx, session.StatusTranscribing, s.cfg.ScanLimit)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("scheduler: list transcribing sessions", "err", err)
		}
		return 0
	}

	now := s.now()
	n := 0
	for _, sess := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.pool.Has(sess.ID) {
			continue
		}
		if sess.OperationName != "" {
			if now.Sub(sess.OperationStartedAt) > s.cfg.MaxOperationAge {
				s.timeout(ctx, sess)
				continue
			}
			if s.pool.TryGo(ctx, sess.ID, func(ctx context.Context) { s.poll(ctx, sess) }) {
				n++
			}
			continue
		}
		if now.Sub(sess.UpdatedAt) <= s.cfg.StaleAfter {
			continue
		}
		won, err := s.store.Reclaim(ctx, sess.ID, sess.UpdatedAt)
		if err != nil {
			slog.Warn("scheduler: reclaim", "session_id", sess.ID, "err", err)
			continue
		}
		s.metrics.RecordClaim(ctx, "reclaim", won)
		if !won {
			continue
		}
		slog.Info("scheduler: reclaimed stale session", "session_id", sess.ID, "idle", now.Sub(sess.UpdatedAt))
		if s.start(ctx, sess) {
			n++
		}
	}
	return n
}

// CompleteStale moves sessions stuck in summarizing past SummarizeTimeout to
// ready. Such a session lost its worker during enrichment; its transcript is
// complete, so only the chunks or the summary may be missing. It returns the
// number of sessions completed.
func (s *Scheduler) CompleteStale(ctx context.Context) int {
	candidates, err := s.store.ListByStatus(ctx, session.StatusSummarizing, s.cfg.ScanLimit)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("scheduler: list summarizing sessions", "err", err)
		}
		return 0
	}

	now := s.now()
	n := 0
	for _, sess := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.pool.Has(sess.ID) || now.Sub(sess.UpdatedAt) <= s.cfg.SummarizeTimeout {
			continue
		}
		err := s.store.Transition(ctx, sess.ID, session.StatusSummarizing, session.StatusReady)
		if errors.Is(err, store.ErrClaimLost) {
			continue
		}
		if err != nil {
			slog.Warn("scheduler: complete stale session", "session_id", sess.ID, "err", err)
			continue
		}
		slog.Warn("scheduler: completed session stuck in summarizing",
			"session_id", sess.ID, "idle", now.Sub(sess.UpdatedAt))
		s.publish(sess.ID, sess.OrganizationID, session.StatusReady)
		s.metrics.RecordSessionFinished(ctx, string(session.StatusReady))
		n++
	}
	return n
}

// start dispatches a claimed session. A session that cannot be started is
// left transcribing for the stale re-claim.
func (s *Scheduler) start(ctx context.Context, sess *session.Session) bool {
	s.publish(sess.ID, sess.OrganizationID, session.StatusTranscribing)
	err := s.pool.Go(ctx, sess.ID, func(ctx context.Context) { s.process(ctx, sess) })
	if err != nil {
		slog.Warn("scheduler: dispatch", "session_id", sess.ID, "err", err)
		return false
	}
	return true
}

func (s *Scheduler) process(ctx context.Context, sess *session.Session) {
	defer s.guard(sess)
	if err := s.processor.Process(ctx, sess); err != nil {
		observe.SessionLogger(ctx, sess.ID, sess.OrganizationID).
			Warn("scheduler: process", "err", err)
	}
}

func (s *Scheduler) poll(ctx context.Context, sess *session.Session) {
	defer s.guard(sess)
	if err := s.processor.Recover(ctx, sess); err != nil {
		observe.SessionLogger(ctx, sess.ID, sess.OrganizationID).
			Warn("scheduler: recover", "operation", sess.OperationName, "err", err)
	}
}

// guard keeps a panicking task from taking the process down. The session
// stays transcribing and is picked up again by the slow loop.
func (s *Scheduler) guard(sess *session.Session) {
	if r := recover(); r != nil {
		slog.Error("scheduler: task panicked", "session_id", sess.ID, "panic", fmt.Sprint(r))
	}
}

func (s *Scheduler) timeout(ctx context.Context, sess *session.Session) {
	if err := s.store.MarkError(ctx, sess.ID, operationTimeoutMessage); err != nil {
		slog.Warn("scheduler: fail timed out session", "session_id", sess.ID, "err", err)
		return
	}
	slog.Warn("scheduler: recognition operation timed out",
		"session_id", sess.ID, "operation", sess.OperationName, "started_at", sess.OperationStartedAt)
	s.publish(sess.ID, sess.OrganizationID, session.StatusError)
	s.metrics.RecordSessionFinished(ctx, string(session.StatusError))
}

func (s *Scheduler) publish(id, org uuid.UUID, status session.Status) {
	s.events.Publish(events.Event{SessionID: id, OrganizationID: org, Status: status, At: s.now().UTC()})
}
