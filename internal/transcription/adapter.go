// Package transcription turns canonical session audio into a persisted
// transcript.
//
// The [Adapter] uploads the audio, submits it to the asynchronous recognizer
// and saves the operation handle so that a crash after submission is
// recovered by polling instead of resubmitting. When submission fails it
// falls back to synchronous recognition. Either way a detached secondary
// engine transcribes the same audio in the background. The [Finalizer]
// persists the recognised text and runs indexing and summarisation.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetscribe/internal/audio"
	"github.com/MrWong99/meetscribe/internal/events"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
	"github.com/MrWong99/meetscribe/pkg/session"
)

// Outcome is the result of [Adapter.Transcribe].
type Outcome int

const (
	// OutcomePending means the operation handle is persisted and the
	// recovery loop will poll it.
	OutcomePending Outcome = iota + 1

	// OutcomeFinalized means the inline fallback recognised and finalized
	// the session.
	OutcomeFinalized
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeFinalized:
		return "finalized"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// DefaultSecondaryTimeout bounds one detached secondary transcription.
const DefaultSecondaryTimeout = 30 * time.Minute

// Adapter submits canonical audio for recognition. It is safe for
// concurrent use.
type Adapter struct {
	objects    objstore.Store
	store      Store
	recognizer recognizer.Provider
	finalizer  *Finalizer
	config     recognizer.Config
	events     events.Publisher
	metrics    *observe.Metrics

	secondary        transcribe.Provider
	secondaryTimeout time.Duration
	detached         sync.WaitGroup
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSecondary enables the detached secondary engine. A non-positive
// timeout uses [DefaultSecondaryTimeout].
func WithSecondary(p transcribe.Provider, timeout time.Duration) Option {
	return func(a *Adapter) {
		a.secondary = p
		a.secondaryTimeout = timeout
	}
}

// WithRecognitionConfig overrides [recognizer.DefaultConfig].
func WithRecognitionConfig(c recognizer.Config) Option {
	return func(a *Adapter) { a.config = c }
}

// WithAdapterEvents publishes error transitions made by the adapter.
func WithAdapterEvents(p events.Publisher) Option {
	return func(a *Adapter) { a.events = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// NewAdapter creates an Adapter.
func NewAdapter(objects objstore.Store, store Store, rec recognizer.Provider, fin *Finalizer, opts ...Option) *Adapter {
	a := &Adapter{
		objects:    objects,
		store:      store,
		recognizer: rec,
		finalizer:  fin,
		config:     recognizer.DefaultConfig(),
		events:     events.Discard,
	}
	for _, o := range opts {
		o(a)
	}
	if a.secondaryTimeout <= 0 {
		a.secondaryTimeout = DefaultSecondaryTimeout
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Transcribe uploads c, submits it for recognition and persists the
// operation handle. If submission fails the audio is recognised inline and
// the session finalized immediately. Every returned error has already been
// recorded on the session, except a lost claim or a cancelled ctx.
func (a *Adapter) Transcribe(ctx context.Context, sess *session.Session, c *audio.Canonical) (Outcome, error) {
	ctx, span, log := observe.StartSessionSpan(ctx, "transcription.transcribe", sess.ID, sess.OrganizationID)
	defer span.End()

	key := session.CombinedAudioPath(sess.OrganizationID, sess.ID, "wav")
	if err := a.objects.Put(ctx, key, c.WAV, objstore.ContentTypeWAV); err != nil {
		return 0, a.Fail(ctx, sess, fmt.Errorf("transcription: upload canonical audio: %w", err))
	}
	uri := a.objects.URI(key)
	if err := a.store.SetAudioURI(ctx, sess.ID, uri); err != nil {
		return 0, a.Fail(ctx, sess, fmt.Errorf("transcription: record audio uri: %w", err))
	}
	sess.AudioURI = uri

	a.startSecondary(sess, c.WAV)

	start := time.Now()
	handle, err := a.recognizer.Submit(ctx, recognizer.Request{URI: uri, Content: c.WAV, Config: a.config})
	if err == nil {
		a.metrics.RecordProviderRequest(ctx, "recognizer", "recognizer", "ok")
		if err := a.store.SetOperation(ctx, sess.ID, handle); err != nil {
			return 0, a.Fail(ctx, sess, fmt.Errorf("transcription: persist operation %s: %w", handle, err))
		}
		sess.OperationName = handle
		log.Info("transcription: recognition submitted", "operation", handle, "duration", c.Duration())
		return OutcomePending, nil
	}
	a.metrics.RecordProviderError(ctx, "recognizer", "recognizer")
	if ctx.Err() != nil {
		return 0, fmt.Errorf("transcription: submit: %w", err)
	}

	log.Warn("transcription: submit failed, recognising inline", "err", err)
	res, err := a.recognizer.Recognize(ctx, recognizer.Request{Content: c.WAV, Config: a.config})
	a.metrics.RecordStage(ctx, observe.StageRecognize, start, err)
	if err != nil {
		return 0, a.Fail(ctx, sess, fmt.Errorf("transcription: inline recognition: %w", err))
	}
	if err := a.finalizer.Finalize(ctx, sess, res); err != nil {
		return 0, err
	}
	return OutcomeFinalized, nil
}

// Poll checks the session's recognition operation. It reports whether the
// session reached a terminal state. A poll error is returned for retry on
// the next tick; an operation that completed with an error marks the session
// failed.
func (a *Adapter) Poll(ctx context.Context, sess *session.Session) (bool, error) {
	if sess.OperationName == "" {
		return false, fmt.Errorf("transcription: poll %s: no operation handle", sess.ID)
	}
	ctx, span, _ := observe.StartSessionSpan(ctx, "transcription.poll", sess.ID, sess.OrganizationID)
	defer span.End()

	res, err := a.recognizer.Poll(ctx, sess.OperationName)
	switch {
	case errors.Is(err, recognizer.ErrOperationFailed):
		a.metrics.RecordProviderError(ctx, "recognizer", "recognizer")
		a.metrics.RecordStage(ctx, observe.StageRecognize, sess.OperationStartedAt, err)
		return true, a.Fail(ctx, sess, fmt.Errorf("transcription: %w", err))
	case err != nil:
		a.metrics.RecordProviderError(ctx, "recognizer", "recognizer")
		return false, fmt.Errorf("transcription: poll %s: %w", sess.OperationName, err)
	case !res.Done:
		return false, nil
	}
	a.metrics.RecordStage(ctx, observe.StageRecognize, sess.OperationStartedAt, nil)
	if err := a.finalizer.Finalize(ctx, sess, res.Result); err != nil {
		return true, err
	}
	return true, nil
}

// Fail moves sess to error with err's message and returns err. A lost claim
// or a cancelled ctx leaves the session for recovery.
func (a *Adapter) Fail(ctx context.Context, sess *session.Session, err error) error {
	return markFailed(ctx, a.store, a.events, a.metrics, sess, err)
}

// Wait blocks until all detached secondary transcriptions finish or ctx is
// done.
func (a *Adapter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) startSecondary(sess *session.Session, wav []byte) {
	if a.secondary == nil {
		return
	}
	org, id := sess.OrganizationID, sess.ID
	a.detached.Add(1)
	go func() {
		defer a.detached.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.secondaryTimeout)
		defer cancel()
		if err := a.runSecondary(ctx, org, id, wav); err != nil {
			slog.Warn("transcription: secondary engine failed", "session_id", id, "err", err)
		}
	}()
}
