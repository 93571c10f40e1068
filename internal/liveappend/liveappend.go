// Package liveappend appends live transcript fragments to a session while it
// is still recording.
//
// Capture clients resend overlapping windows of recognised speech. Each
// fragment is merged against the tail of the stored transcript with
// [delta.Merge], only the new suffix is appended, and the suffix is indexed
// as a chunk whose embedding carries a little context from the previous
// chunk.
package liveappend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/delta"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store"
)

// Defaults for [Appender].
const (
	DefaultTailChars    = 2000
	DefaultContextChars = 400
)

// Store is the session persistence used by the Appender.
type Store interface {
	SetTranscriptPath(ctx context.Context, id uuid.UUID, path string) error
	LastChunk(ctx context.Context, sessionID uuid.UUID) (*session.Chunk, error)
	InsertChunks(ctx context.Context, chunks []session.Chunk) error
}

// Embedder embeds a single text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Result describes one append.
type Result struct {
	// Delta is the text actually appended. Empty when the fragment was a
	// full duplicate.
	Delta string

	// Overlapped is the number of leading fragment tokens dropped.
	Overlapped int

	// ChunkID is the id of the indexed chunk, or uuid.Nil when none was
	// written.
	ChunkID uuid.UUID
}

// Appended reports whether anything was written.
func (r Result) Appended() bool { return r.Delta != "" }

// Appender appends live fragments. Appends to the same session are
// serialised; different sessions proceed in parallel.
type Appender struct {
	objects      objstore.Store
	store        Store
	embedder     Embedder
	merge        delta.Options
	tailChars    int
	contextChars int

	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// Option configures an Appender.
type Option func(*Appender)

// WithMergeOptions overrides the overlap detection bounds.
func WithMergeOptions(o delta.Options) Option {
	return func(a *Appender) { a.merge = o }
}

// WithTailChars sets how much of the stored transcript the fragment is
// compared against.
func WithTailChars(n int) Option {
	return func(a *Appender) { a.tailChars = n }
}

// WithContextChars sets how much of the previous chunk prefixes the text
// that is embedded.
func WithContextChars(n int) Option {
	return func(a *Appender) { a.contextChars = n }
}

// New creates an Appender.
func New(objects objstore.Store, st Store, e Embedder, opts ...Option) *Appender {
	a := &Appender{
		objects:      objects,
		store:        st,
		embedder:     e,
		tailChars:    DefaultTailChars,
		contextChars: DefaultContextChars,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Appender) lock(id uuid.UUID) func() {
	v, _ := a.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Append merges text into the session transcript at time ts. A fragment that
// only repeats what is already stored writes nothing. Indexing failures are
// logged and do not fail the append.
func (a *Appender) Append(ctx context.Context, sess *session.Session, text string, ts time.Time) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, nil
	}
	defer a.lock(sess.ID)()

	ctx, span, log := observe.StartSessionSpan(ctx, "liveappend.append", sess.ID, sess.OrganizationID)
	defer span.End()

	key := session.TranscriptPath(sess.OrganizationID, sess.ID)
	existing, err := a.objects.Get(ctx, key)
	if err != nil && !errors.Is(err, objstore.ErrNotFound) {
		return Result{}, fmt.Errorf("liveappend: read transcript: %w", err)
	}

	m := delta.Merge(tail(session.PlainText(string(existing)), a.tailChars), text, a.merge)
	if m.Delta == "" {
		log.Debug("liveappend: duplicate fragment skipped", "overlapped", m.Overlapped)
		return Result{Overlapped: m.Overlapped}, nil
	}

	doc := string(existing) + session.FormatLine(ts, m.Delta)
	if err := a.objects.Put(ctx, key, []byte(doc), objstore.ContentTypeText); err != nil {
		return Result{}, fmt.Errorf("liveappend: write transcript: %w", err)
	}
	if sess.TranscriptPath != key {
		if err := a.store.SetTranscriptPath(ctx, sess.ID, key); err != nil {
			return Result{}, fmt.Errorf("liveappend: record transcript path: %w", err)
		}
		sess.TranscriptPath = key
	}

	res := Result{Delta: m.Delta, Overlapped: m.Overlapped}
	id, err := a.index(ctx, sess.ID, m.Delta)
	if err != nil {
		log.Warn("liveappend: chunk not indexed", "err", err)
		return res, nil
	}
	res.ChunkID = id
	return res, nil
}

func (a *Appender) index(ctx context.Context, sessionID uuid.UUID, content string) (uuid.UUID, error) {
	embedText := content
	prev, err := a.store.LastChunk(ctx, sessionID)
	switch {
	case err == nil:
		embedText = tail(prev.Content, a.contextChars) + "\n" + content
	case !errors.Is(err, store.ErrNotFound):
		return uuid.Nil, fmt.Errorf("previous chunk: %w", err)
	}

	vec, err := a.embedder.EmbedText(ctx, embedText)
	if err != nil {
		return uuid.Nil, err
	}
	c := session.Chunk{
		ID:        uuid.New(),
		SessionID: sessionID,
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.InsertChunks(ctx, []session.Chunk{c}); err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
