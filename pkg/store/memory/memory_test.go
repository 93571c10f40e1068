package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store"
	"github.com/MrWong99/meetscribe/pkg/store/memory"
)

func uploaded(t *testing.T, s *memory.Store, org uuid.UUID) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess := &session.Session{OrganizationID: org}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.MarkUploaded(ctx, sess.ID, "prompt"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	return sess
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	t.Parallel()

	s := memory.New()
	sess := uploaded(t, s, uuid.New())

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if won, _ := s.Claim(context.Background(), sess.ID); won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want 1", got)
	}
	got, _ := s.Get(context.Background(), sess.ID)
	if got.Status != session.StatusTranscribing || got.SummaryPrompt != "prompt" {
		t.Errorf("session = %v prompt %q", got, got.SummaryPrompt)
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sess := uploaded(t, s, uuid.New())

	if err := s.Transition(ctx, sess.ID, session.StatusTranscribing, session.StatusSummarizing); !errors.Is(err, store.ErrClaimLost) {
		t.Errorf("Transition from wrong status error = %v, want ErrClaimLost", err)
	}
	if err := s.Transition(ctx, sess.ID, session.StatusUploaded, session.StatusReady); err == nil || errors.Is(err, store.ErrClaimLost) {
		t.Errorf("disallowed Transition error = %v", err)
	}
	if err := s.Transition(ctx, sess.ID, session.StatusUploaded, session.StatusTranscribing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.SetOperation(ctx, sess.ID, "op-1"); err != nil {
		t.Fatalf("SetOperation: %v", err)
	}
	if err := s.MarkError(ctx, sess.ID, "boom"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	if err := s.SetOperation(ctx, sess.ID, "op-2"); !errors.Is(err, store.ErrClaimLost) {
		t.Errorf("SetOperation on errored session = %v, want ErrClaimLost", err)
	}
	got, _ := s.Get(ctx, sess.ID)
	if got.Status != session.StatusError || got.ErrorMessage != "boom" {
		t.Errorf("session = %+v", got)
	}
}

func TestReclaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sess := uploaded(t, s, uuid.New())
	if won, _ := s.Claim(ctx, sess.ID); !won {
		t.Fatal("Claim lost")
	}
	stale := time.Now().Add(-time.Hour)
	if err := s.Touch(sess.ID, stale); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	if won, _ := s.Reclaim(ctx, sess.ID, stale.Add(time.Second)); won {
		t.Error("Reclaim with mismatched updated_at won")
	}
	if won, _ := s.Reclaim(ctx, sess.ID, stale); !won {
		t.Fatal("Reclaim lost")
	}
	if won, _ := s.Reclaim(ctx, sess.ID, stale); won {
		t.Error("second Reclaim with the same observation won")
	}

	cur, _ := s.Get(ctx, sess.ID)
	if err := s.SetOperation(ctx, sess.ID, "op"); err != nil {
		t.Fatalf("SetOperation: %v", err)
	}
	if won, _ := s.Reclaim(ctx, sess.ID, cur.UpdatedAt); won {
		t.Error("Reclaim of a session with an operation handle won")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sess := uploaded(t, s, uuid.New())

	got, _ := s.Get(ctx, sess.ID)
	got.Status = session.StatusReady
	again, _ := s.Get(ctx, sess.ID)
	if again.Status != session.StatusUploaded {
		t.Error("mutating a returned session changed the store")
	}
	if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestListByStatus_OldestFirst(t *testing.T) {
	t.Parallel()

	s := memory.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	s.SetClock(func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) })

	org := uuid.New()
	first := uploaded(t, s, org)
	second := uploaded(t, s, org)
	_ = uploaded(t, s, org)

	got, err := s.ListByStatus(context.Background(), session.StatusUploaded, 2)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("ListByStatus order wrong: %v", got)
	}
}

func TestChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	org := uuid.New()
	sess := uploaded(t, s, org)
	other := uploaded(t, s, uuid.New())

	if err := s.InsertChunks(ctx, []session.Chunk{{SessionID: sess.ID}}); err == nil {
		t.Error("empty content accepted")
	}
	if err := s.InsertChunks(ctx, []session.Chunk{
		{SessionID: sess.ID, Content: "budget", Embedding: []float32{1, 0}},
		{SessionID: sess.ID, Content: "hiring", Embedding: []float32{0, 1}},
		{SessionID: other.ID, Content: "elsewhere", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	if n, _ := s.CountChunks(ctx, sess.ID); n != 2 {
		t.Errorf("CountChunks = %d, want 2", n)
	}
	last, err := s.LastChunk(ctx, sess.ID)
	if err != nil || last.Content != "hiring" {
		t.Errorf("LastChunk = %v, %v", last, err)
	}
	matches, err := s.SearchChunks(ctx, org, []float32{1, 0.1}, 5)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(matches) != 2 || matches[0].Chunk.Content != "budget" {
		t.Errorf("SearchChunks = %+v", matches)
	}
	if matches[0].Distance >= matches[1].Distance {
		t.Errorf("distances not ascending: %v, %v", matches[0].Distance, matches[1].Distance)
	}
}

func TestCountersAndSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sess := uploaded(t, s, uuid.New())

	for want := 1; want <= 3; want++ {
		if n, err := s.IncrementTotalParts(ctx, sess.ID); err != nil || n != want {
			t.Fatalf("IncrementTotalParts = %d, %v; want %d", n, err, want)
		}
	}
	if _, err := s.IncrementTotalParts(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("IncrementTotalParts(unknown) error = %v", err)
	}
	if err := s.UpdateSummary(ctx, sess.ID, "text", session.StructuredData{Topics: []string{"t"}}, []float32{1}); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	got, _ := s.Get(ctx, sess.ID)
	if got.TotalParts != 3 || got.SummaryText != "text" || got.StructuredData.Topics[0] != "t" {
		t.Errorf("session = %+v", got)
	}
}
