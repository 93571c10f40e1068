// Package memory is a thread-safe, in-memory implementation of
// [store.Store]. Conditional updates are evaluated under a single mutex, so
// claim races resolve exactly as they do in PostgreSQL. It backs local
// development (database.driver: memory) and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps sessions, chunks and organization preferences in maps. The
// zero value is ready to use.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session.Session
	chunks   map[uuid.UUID][]session.Chunk
	prefs    map[uuid.UUID]session.SummaryPrefs

	// now is the clock used for timestamps. Tests may replace it.
	now func() time.Time
}

// New returns an initialised Store.
func New() *Store {
	return &Store{}
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) init() {
	if s.sessions == nil {
		s.sessions = make(map[uuid.UUID]*session.Session)
		s.chunks = make(map[uuid.UUID][]session.Chunk)
		s.prefs = make(map[uuid.UUID]session.SummaryPrefs)
	}
}

func clone(sess *session.Session) *session.Session {
	c := *sess
	c.StructuredData.ActionItems = slices.Clone(sess.StructuredData.ActionItems)
	c.StructuredData.Topics = slices.Clone(sess.StructuredData.Topics)
	c.SummaryEmbedding = slices.Clone(sess.SummaryEmbedding)
	return &c
}

// update applies fn to session id under the write lock. fn reports whether
// its precondition held; a false result leaves the session unchanged.
func (s *Store) update(id uuid.UUID, bump bool, fn func(*session.Session) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	next := clone(sess)
	if !fn(next) {
		return false, nil
	}
	if bump {
		next.UpdatedAt = s.clock()
	}
	s.sessions[id] = next
	return true, nil
}

func (s *Store) exists(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// mustUpdate is update for unconditional writes: a missing session yields
// [store.ErrNotFound].
func (s *Store) mustUpdate(op string, id uuid.UUID, fn func(*session.Session)) error {
	ok, _ := s.update(id, true, func(sess *session.Session) bool { fn(sess); return true })
	if !ok {
		return fmt.Errorf("memory: %s %s: %w", op, id, store.ErrNotFound)
	}
	return nil
}

// Create implements [store.Store].
func (s *Store) Create(_ context.Context, sess *session.Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.Status == "" {
		sess.Status = session.StatusRecording
	}
	if !sess.Status.IsValid() {
		return fmt.Errorf("memory: create session: invalid status %q", sess.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if _, dup := s.sessions[sess.ID]; dup {
		return fmt.Errorf("memory: create session: duplicate id %s", sess.ID)
	}
	now := s.clock()
	sess.CreatedAt, sess.UpdatedAt = now, now
	s.sessions[sess.ID] = clone(sess)
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("memory: get session %s: %w", id, store.ErrNotFound)
	}
	return clone(sess), nil
}

// ListByStatus implements [store.Store].
func (s *Store) ListByStatus(_ context.Context, status session.Status, limit int) ([]*session.Session, error) {
	out := []*session.Session{}
	if limit <= 0 {
		return out, nil
	}
	s.mu.RLock()
	for _, sess := range s.sessions {
		if sess.Status == status {
			out = append(out, clone(sess))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *session.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim implements [store.Store].
func (s *Store) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	return s.update(id, true, func(sess *session.Session) bool {
		if sess.Status != session.StatusUploaded {
			return false
		}
		sess.Status = session.StatusTranscribing
		sess.ErrorMessage = ""
		return true
	})
}

// Reclaim implements [store.Store].
func (s *Store) Reclaim(_ context.Context, id uuid.UUID, seen time.Time) (bool, error) {
	return s.update(id, true, func(sess *session.Session) bool {
		return sess.Status == session.StatusTranscribing && sess.OperationName == "" && sess.UpdatedAt.Equal(seen)
	})
}

// Transition implements [store.Store].
func (s *Store) Transition(_ context.Context, id uuid.UUID, from, to session.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("memory: transition %s: %s -> %s is not allowed", id, from, to)
	}
	ok, _ := s.update(id, true, func(sess *session.Session) bool {
		if sess.Status != from {
			return false
		}
		sess.Status = to
		return true
	})
	if !ok {
		return fmt.Errorf("memory: transition %s %s -> %s: %w", id, from, to, store.ErrClaimLost)
	}
	return nil
}

// MarkUploaded implements [store.Store].
func (s *Store) MarkUploaded(_ context.Context, id uuid.UUID, prompt string) error {
	ok, _ := s.update(id, true, func(sess *session.Session) bool {
		if sess.Status != session.StatusRecording {
			return false
		}
		sess.Status = session.StatusUploaded
		if prompt != "" {
			sess.SummaryPrompt = prompt
		}
		return true
	})
	if !ok {
		return fmt.Errorf("memory: mark uploaded %s: %w", id, store.ErrClaimLost)
	}
	return nil
}

// MarkError implements [store.Store].
func (s *Store) MarkError(_ context.Context, id uuid.UUID, msg string) error {
	_, err := s.update(id, true, func(sess *session.Session) bool {
		if sess.Status.IsTerminal() {
			return false
		}
		sess.Status = session.StatusError
		sess.ErrorMessage = msg
		return true
	})
	return err
}

// SetOperation implements [store.Store].
func (s *Store) SetOperation(_ context.Context, id uuid.UUID, name string) error {
	ok, _ := s.update(id, true, func(sess *session.Session) bool {
		if sess.Status != session.StatusTranscribing {
			return false
		}
		sess.OperationName = name
		sess.OperationStartedAt = s.clock()
		return true
	})
	if !ok {
		return fmt.Errorf("memory: set operation %s: %w", id, store.ErrClaimLost)
	}
	return nil
}

// SetResultPaths implements [store.Store].
func (s *Store) SetResultPaths(_ context.Context, id uuid.UUID, transcriptPath, rawPath string) error {
	return s.mustUpdate("set result paths", id, func(sess *session.Session) {
		sess.TranscriptPath, sess.RawResultsPath = transcriptPath, rawPath
		sess.OperationName, sess.OperationStartedAt = "", time.Time{}
	})
}

// SetAudioURI implements [store.Store].
func (s *Store) SetAudioURI(_ context.Context, id uuid.UUID, uri string) error {
	return s.mustUpdate("set audio uri", id, func(sess *session.Session) { sess.AudioURI = uri })
}

// SetTranscriptPath implements [store.Store].
func (s *Store) SetTranscriptPath(_ context.Context, id uuid.UUID, path string) error {
	return s.mustUpdate("set transcript path", id, func(sess *session.Session) { sess.TranscriptPath = path })
}

// SetSecondaryPath implements [store.Store]. It does not bump UpdatedAt.
func (s *Store) SetSecondaryPath(_ context.Context, id uuid.UUID, path string) error {
	ok, _ := s.update(id, false, func(sess *session.Session) bool {
		sess.SecondaryTranscriptPath = path
		return true
	})
	if !ok {
		return fmt.Errorf("memory: set secondary path %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// SetProcessedParts implements [store.Store].
func (s *Store) SetProcessedParts(_ context.Context, id uuid.UUID, n int) error {
	return s.mustUpdate("set processed parts", id, func(sess *session.Session) { sess.ProcessedParts = n })
}

// IncrementTotalParts implements [store.Store].
func (s *Store) IncrementTotalParts(_ context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.mustUpdate("increment parts", id, func(sess *session.Session) {
		sess.TotalParts++
		n = sess.TotalParts
	})
	return n, err
}

// UpdateSummary implements [store.Store].
func (s *Store) UpdateSummary(_ context.Context, id uuid.UUID, text string, data session.StructuredData, embedding []float32) error {
	return s.mustUpdate("update summary", id, func(sess *session.Session) {
		sess.SummaryText = text
		sess.StructuredData = session.StructuredData{
			ActionItems: slices.Clone(data.ActionItems),
			Topics:      slices.Clone(data.Topics),
		}
		sess.SummaryEmbedding = slices.Clone(embedding)
	})
}

// InsertChunks implements [store.Store]. All chunks are validated before any
// is stored.
func (s *Store) InsertChunks(_ context.Context, chunks []session.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	now := s.clock()
	prepared := make([]session.Chunk, len(chunks))
	for i, c := range chunks {
		if c.Content == "" {
			return fmt.Errorf("memory: insert chunk %d of %d: empty content", i+1, len(chunks))
		}
		if _, ok := s.sessions[c.SessionID]; !ok {
			return fmt.Errorf("memory: insert chunk %d of %d: session %s: %w", i+1, len(chunks), c.SessionID, store.ErrNotFound)
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.Embedding = slices.Clone(c.Embedding)
		prepared[i] = c
	}
	for _, c := range prepared {
		s.chunks[c.SessionID] = append(s.chunks[c.SessionID], c)
	}
	return nil
}

// Chunks returns a copy of all chunks stored for sessionID in insertion
// order.
func (s *Store) Chunks(sessionID uuid.UUID) []session.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks[sessionID])
}

// LastChunk implements [store.Store].
func (s *Store) LastChunk(_ context.Context, sessionID uuid.UUID) (*session.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs := s.chunks[sessionID]
	if len(cs) == 0 {
		return nil, fmt.Errorf("memory: last chunk %s: %w", sessionID, store.ErrNotFound)
	}
	c := cs[len(cs)-1]
	return &c, nil
}

// CountChunks implements [store.Store].
func (s *Store) CountChunks(_ context.Context, sessionID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[sessionID]), nil
}

// SearchChunks implements [store.Store] with a linear cosine-distance scan.
func (s *Store) SearchChunks(_ context.Context, orgID uuid.UUID, embedding []float32, limit int) ([]store.ChunkMatch, error) {
	out := []store.ChunkMatch{}
	if limit <= 0 {
		return out, nil
	}
	s.mu.RLock()
	for sid, cs := range s.chunks {
		if sess, ok := s.sessions[sid]; !ok || sess.OrganizationID != orgID {
			continue
		}
		for _, c := range cs {
			if c.Embedding == nil {
				continue
			}
			out = append(out, store.ChunkMatch{Chunk: c, Distance: cosineDistance(embedding, c.Embedding)})
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b store.ChunkMatch) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return a.Chunk.CreatedAt.Compare(b.Chunk.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cosineDistance matches pgvector's <=> operator: 1 - cosine similarity.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// SummaryPrefs implements [store.Store].
func (s *Store) SummaryPrefs(_ context.Context, orgID uuid.UUID) (session.SummaryPrefs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs[orgID], nil
}

// SetSummaryPrefs implements [store.Store].
func (s *Store) SetSummaryPrefs(_ context.Context, orgID uuid.UUID, prefs session.SummaryPrefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.prefs[orgID] = prefs
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store].
func (s *Store) Close() {}

// Touch sets the session's UpdatedAt, letting tests age a session.
func (s *Store) Touch(id uuid.UUID, at time.Time) error {
	ok, _ := s.update(id, false, func(sess *session.Session) bool {
		sess.UpdatedAt = at
		return true
	})
	if !ok {
		return fmt.Errorf("memory: touch %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// Put stores sess as-is, bypassing the state machine. It is intended for
// seeding tests and fixtures.
func (s *Store) Put(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.sessions[sess.ID] = clone(sess)
}
