package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetscribe/internal/events"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/summary"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store"
)

// Store is the session persistence used by the adapter and finalizer.
type Store interface {
	SetAudioURI(ctx context.Context, id uuid.UUID, uri string) error
	SetOperation(ctx context.Context, id uuid.UUID, name string) error
	SetResultPaths(ctx context.Context, id uuid.UUID, transcriptPath, rawPath string) error
	SetSecondaryPath(ctx context.Context, id uuid.UUID, path string) error
	Transition(ctx context.Context, id uuid.UUID, from, to session.Status) error
	MarkError(ctx context.Context, id uuid.UUID, msg string) error
}

// Indexer chunks and embeds recognised words.
type Indexer interface {
	IndexWords(ctx context.Context, sessionID uuid.UUID, words []session.Word) (int, error)
}

// Summarizer produces the session summary.
type Summarizer interface {
	Summarize(ctx context.Context, sess *session.Session, opts summary.Options) (*summary.Result, error)
}

// Finalizer persists a recognition result and drives the session through
// summarizing to ready. It is shared by the inline and the recovery path.
type Finalizer struct {
	objects    objstore.Store
	store      Store
	indexer    Indexer
	summarizer Summarizer
	events     events.Publisher
	metrics    *observe.Metrics
	now        func() time.Time
}

// FinalizerOption configures a Finalizer.
type FinalizerOption func(*Finalizer)

// WithEvents publishes status transitions to p.
func WithEvents(p events.Publisher) FinalizerOption {
	return func(f *Finalizer) { f.events = p }
}

// WithFinalizerMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithFinalizerMetrics(m *observe.Metrics) FinalizerOption {
	return func(f *Finalizer) { f.metrics = m }
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(objects objstore.Store, store Store, indexer Indexer, summarizer Summarizer, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		objects:    objects,
		store:      store,
		indexer:    indexer,
		summarizer: summarizer,
		events:     events.Discard,
		now:        time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// Finalize writes the transcript and raw results, records their paths,
// moves the session to summarizing, runs indexing and summarisation
// concurrently and finally marks the session ready.
//
// Indexing and summary failures are logged and do not affect the outcome.
// Any other failure moves the session to error, unless the claim was lost or
// ctx was cancelled, in which case the session is left for recovery.
func (f *Finalizer) Finalize(ctx context.Context, sess *session.Session, res *recognizer.Result) (err error) {
	start := time.Now()
	ctx, span, log := observe.StartSessionSpan(ctx, "transcription.finalize", sess.ID, sess.OrganizationID)
	defer func() {
		f.metrics.RecordStage(ctx, observe.StageFinalize, start, err)
		observe.EndSpan(span, err)
	}()

	if res == nil {
		res = &recognizer.Result{}
	}
	org, id := sess.OrganizationID, sess.ID
	transcriptKey := session.TranscriptPath(org, id)
	rawKey := session.RawResultsPath(org, id)

	doc := session.FormatLine(f.now(), res.Text)
	if err := f.objects.Put(ctx, transcriptKey, []byte(doc), objstore.ContentTypeText); err != nil {
		return f.fail(ctx, sess, fmt.Errorf("transcription: write transcript: %w", err))
	}
	raw := res.Raw
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage("[]")
	}
	if err := f.objects.Put(ctx, rawKey, raw, objstore.ContentTypeJSON); err != nil {
		return f.fail(ctx, sess, fmt.Errorf("transcription: write raw results: %w", err))
	}

	if err := f.store.SetResultPaths(ctx, id, transcriptKey, rawKey); err != nil {
		return f.fail(ctx, sess, fmt.Errorf("transcription: record result paths: %w", err))
	}
	sess.TranscriptPath, sess.RawResultsPath = transcriptKey, rawKey
	sess.OperationName, sess.OperationStartedAt = "", time.Time{}

	if err := f.store.Transition(ctx, id, session.StatusTranscribing, session.StatusSummarizing); err != nil {
		return f.fail(ctx, sess, fmt.Errorf("transcription: enter summarizing: %w", err))
	}
	sess.Status = session.StatusSummarizing
	f.publish(sess)

	var g errgroup.Group
	g.Go(func() error {
		n, err := f.indexer.IndexWords(ctx, id, res.Words)
		if err != nil {
			log.Warn("transcription: indexing failed", "err", err)
			return nil
		}
		log.Info("transcription: chunks indexed", "chunks", n, "words", len(res.Words))
		return nil
	})
	g.Go(func() error {
		// A new transcript always invalidates a summary cached by an earlier run.
		if _, err := f.summarizer.Summarize(ctx, sess, summary.Options{Force: true}); err != nil {
			log.Warn("transcription: summary failed", "err", err)
		}
		return nil
	})
	_ = g.Wait()

	if err := f.store.Transition(ctx, id, session.StatusSummarizing, session.StatusReady); err != nil {
		return f.fail(ctx, sess, fmt.Errorf("transcription: enter ready: %w", err))
	}
	sess.Status = session.StatusReady
	f.publish(sess)
	f.metrics.RecordSessionFinished(ctx, string(session.StatusReady))
	log.Info("transcription: session ready", "chars", len(res.Text), "elapsed", time.Since(start))
	return nil
}

// fail records err on the session and returns it.
func (f *Finalizer) fail(ctx context.Context, sess *session.Session, err error) error {
	return markFailed(ctx, f.store, f.events, f.metrics, sess, err)
}

func (f *Finalizer) publish(sess *session.Session) {
	f.events.Publish(events.Event{
		SessionID:      sess.ID,
		OrganizationID: sess.OrganizationID,
		Status:         sess.Status,
		At:             f.now().UTC(),
	})
}

// markFailed moves sess to error with err's message. A lost claim or a
// cancelled context leaves the session untouched: another worker owns it or
// recovery will pick it up.
func markFailed(ctx context.Context, st Store, pub events.Publisher, m *observe.Metrics, sess *session.Session, err error) error {
	log := observe.SessionLogger(ctx, sess.ID, sess.OrganizationID)
	if errors.Is(err, store.ErrClaimLost) || ctx.Err() != nil {
		log.Warn("transcription: abandoning session", "err", err)
		return err
	}
	if mErr := st.MarkError(ctx, sess.ID, err.Error()); mErr != nil {
		log.Error("transcription: failed to record error", "err", err, "mark_err", mErr)
		return errors.Join(err, mErr)
	}
	log.Error("transcription: session failed", "err", err)
	sess.Status, sess.ErrorMessage = session.StatusError, err.Error()
	pub.Publish(events.Event{SessionID: sess.ID, OrganizationID: sess.OrganizationID, Status: session.StatusError, At: time.Now().UTC()})
	m.RecordSessionFinished(ctx, string(session.StatusError))
	return err
}
