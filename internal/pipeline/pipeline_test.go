package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/audio"
	"github.com/MrWong99/meetscribe/internal/embedding"
	"github.com/MrWong99/meetscribe/internal/pipeline"
	"github.com/MrWong99/meetscribe/internal/scheduler"
	"github.com/MrWong99/meetscribe/internal/summary"
	"github.com/MrWong99/meetscribe/internal/transcription"
	"github.com/MrWong99/meetscribe/pkg/command"
	objmock "github.com/MrWong99/meetscribe/pkg/objstore/mock"
	embmock "github.com/MrWong99/meetscribe/pkg/provider/embeddings/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/meetscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	recmock "github.com/MrWong99/meetscribe/pkg/provider/recognizer/mock"
	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store/memory"
)

// copyFFmpeg writes a fixed header to the output file, standing in for a
// real transcode.
var copyFFmpeg = command.Func(func(_ context.Context, _ string, args ...string) (command.Result, error) {
	return command.Result{}, os.WriteFile(args[len(args)-1], []byte("RIFF....WAVE"), 0o600)
})

type harness struct {
	objects *objmock.Store
	store   *memory.Store
	rec     *recmock.Provider
	llm     *llmmock.Provider
	emb     *embmock.Provider
	adapter *transcription.Adapter
	pipe    *pipeline.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		objects: &objmock.Store{},
		store:   memory.New(),
		rec:     &recmock.Provider{},
		llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: `{"summary":"The team agreed on the Q3 budget.","action_items":["send minutes"],"topics":["budget"]}`,
		}},
		emb: &embmock.Provider{DimensionsValue: 768},
	}
	ix := embedding.NewIndexer(h.emb, h.store)
	sum := summary.New(h.llm, h.objects, h.store, ix)
	fin := transcription.NewFinalizer(h.objects, h.store, ix, sum)
	h.adapter = transcription.NewAdapter(h.objects, h.store, h.rec, fin)
	asm := audio.New(h.objects, audio.WithRunner(copyFFmpeg), audio.WithTempDir(t.TempDir()), audio.WithProgress(h.store))
	h.pipe = pipeline.New(asm, h.adapter, nil)
	return h
}

// claimed creates a claimed session, optionally with one audio fragment.
func (h *harness) claimed(t *testing.T, withAudio bool) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess := &session.Session{OrganizationID: uuid.New()}
	if err := h.store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if withAudio {
		h.objects.Set(session.FragmentPath(sess.OrganizationID, sess.ID, 0, "webm"), []byte("frag"))
	}
	if err := h.store.MarkUploaded(ctx, sess.ID, ""); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if won, _ := h.store.Claim(ctx, sess.ID); !won {
		t.Fatal("Claim lost")
	}
	got, _ := h.store.Get(ctx, sess.ID)
	return got
}

func (h *harness) get(t *testing.T, id uuid.UUID) *session.Session {
	t.Helper()
	got, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func recognized(text string, words int) *recognizer.Result {
	res := &recognizer.Result{Text: text, Raw: json.RawMessage(`[]`)}
	for i := range words {
		res.Words = append(res.Words, session.Word{
			Text:       "word",
			Start:      time.Duration(i) * time.Second,
			End:        time.Duration(i+1) * time.Second,
			SpeakerTag: 1,
		})
	}
	return res
}

func TestProcess_InlineToReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.rec.SubmitErr = errors.New("unavailable")
	h.rec.RecognizeResult = recognized(strings.Repeat("we discussed the budget for next quarter ", 5), 120)
	sess := h.claimed(t, true)

	if err := h.pipe.Process(context.Background(), sess); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := h.get(t, sess.ID)
	if got.Status != session.StatusReady {
		t.Fatalf("status = %s (%s), want ready", got.Status, got.ErrorMessage)
	}
	if got.ProcessedParts != 1 {
		t.Errorf("processed parts = %d, want 1", got.ProcessedParts)
	}
	if got.SummaryText == "" || len(got.SummaryEmbedding) != embedding.DefaultDimensions {
		t.Errorf("summary not persisted: %q (%d dims)", got.SummaryText, len(got.SummaryEmbedding))
	}
	if n, _ := h.store.CountChunks(context.Background(), sess.ID); n == 0 {
		t.Error("no chunks indexed")
	}
}

func TestProcess_PendingThenRecover(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.rec.SubmitHandle = "operations/7"
	sess := h.claimed(t, true)

	if err := h.pipe.Process(context.Background(), sess); err != nil {
		t.Fatalf("Process: %v", err)
	}
	pending := h.get(t, sess.ID)
	if pending.Status != session.StatusTranscribing || pending.OperationName != "operations/7" {
		t.Fatalf("session = %s op %q", pending.Status, pending.OperationName)
	}

	if err := h.pipe.Recover(context.Background(), pending); err != nil {
		t.Fatalf("Recover (pending): %v", err)
	}
	if h.get(t, sess.ID).Status != session.StatusTranscribing {
		t.Fatal("session left transcribing before the operation finished")
	}

	h.rec.PollResult = &recognizer.PollResult{Done: true, Result: recognized("", 0)}
	if err := h.pipe.Recover(context.Background(), pending); err != nil {
		t.Fatalf("Recover (done): %v", err)
	}
	got := h.get(t, sess.ID)
	if got.Status != session.StatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if n, _ := h.store.CountChunks(context.Background(), sess.ID); n != 0 {
		t.Errorf("chunks = %d, want 0 for zero words", n)
	}
	if h.llm.CallCount() != 0 {
		t.Errorf("LLM calls = %d, want 0 for an empty transcript", h.llm.CallCount())
	}
}

func TestProcess_NoAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.claimed(t, false)

	err := h.pipe.Process(context.Background(), sess)
	var notFound *audio.AudioNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Process error = %v, want AudioNotFoundError", err)
	}
	got := h.get(t, sess.ID)
	if got.Status != session.StatusError || got.ErrorMessage == "" {
		t.Errorf("session = %s %q, want error", got.Status, got.ErrorMessage)
	}
	if submit, _, _ := h.rec.Counts(); submit != 0 {
		t.Error("recognition submitted without audio")
	}
}

func TestProcess_CancelledLeavesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.claimed(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.pipe.Process(ctx, sess); err == nil {
		t.Fatal("expected error from a cancelled context")
	}
	if got := h.get(t, sess.ID); got.Status != session.StatusTranscribing {
		t.Errorf("status = %s, want transcribing for recovery", got.Status)
	}
}

// Every session with audio reaches a terminal status, whichever recognition
// path it takes.
func TestScheduler_SessionsWithAudioReachTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.rec.SubmitHandle = "op"
	h.rec.PollResult = &recognizer.PollResult{Done: true, Result: recognized("short", 3)}

	var ids []uuid.UUID
	for range 4 {
		sess := &session.Session{OrganizationID: uuid.New()}
		if err := h.store.Create(context.Background(), sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
		h.objects.Set(session.FragmentPath(sess.OrganizationID, sess.ID, 0, "ogg"), []byte("a"))
		h.objects.Set(session.FragmentPath(sess.OrganizationID, sess.ID, 1, "ogg"), []byte("b"))
		if err := h.store.MarkUploaded(context.Background(), sess.ID, ""); err != nil {
			t.Fatalf("MarkUploaded: %v", err)
		}
		ids = append(ids, sess.ID)
	}

	s := scheduler.New(scheduler.Config{PollInterval: 5 * time.Millisecond}, h.store, h.pipe)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	deadline := time.After(10 * time.Second)
	for _, id := range ids {
		for !h.get(t, id).Status.IsTerminal() {
			select {
			case <-deadline:
				cancel()
				<-done
				t.Fatalf("session %s stuck in %s", id, h.get(t, id).Status)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
	cancel()
	<-done

	for _, id := range ids {
		if got := h.get(t, id); got.Status != session.StatusReady {
			t.Errorf("session %s = %s (%s), want ready", id, got.Status, got.ErrorMessage)
		}
	}
}
