package transcription_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/audio"
	"github.com/MrWong99/meetscribe/internal/events"
	"github.com/MrWong99/meetscribe/internal/summary"
	"github.com/MrWong99/meetscribe/internal/transcription"
	objmock "github.com/MrWong99/meetscribe/pkg/objstore/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/meetscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	recmock "github.com/MrWong99/meetscribe/pkg/provider/recognizer/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
	trmock "github.com/MrWong99/meetscribe/pkg/provider/transcribe/mock"
	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store/memory"
)

type fakeIndexer struct {
	mu    sync.Mutex
	calls int
	words int
	err   error
}

func (f *fakeIndexer) IndexWords(_ context.Context, _ uuid.UUID, words []session.Word) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.words += len(words)
	if f.err != nil {
		return 0, f.err
	}
	return (len(words) + 9) / 10, nil
}

type fakeSummarizer struct {
	mu       sync.Mutex
	calls    int
	statuses []session.Status
	err      error
}

func (f *fakeSummarizer) Summarize(_ context.Context, sess *session.Session, _ summary.Options) (*summary.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.statuses = append(f.statuses, sess.Status)
	if f.err != nil {
		return nil, f.err
	}
	return &summary.Result{Summary: "ok"}, nil
}

type env struct {
	objects *objmock.Store
	store   *memory.Store
	rec     *recmock.Provider
	idx     *fakeIndexer
	sum     *fakeSummarizer
	hub     *events.Hub
	fin     *transcription.Finalizer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		objects: &objmock.Store{},
		store:   memory.New(),
		rec:     &recmock.Provider{},
		idx:     &fakeIndexer{},
		sum:     &fakeSummarizer{},
		hub:     events.NewHub(16),
	}
	e.fin = transcription.NewFinalizer(e.objects, e.store, e.idx, e.sum, transcription.WithEvents(e.hub))
	return e
}

// claimed creates a session already claimed for transcription.
func (e *env) claimed(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess := &session.Session{OrganizationID: uuid.New()}
	if err := e.store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.store.MarkUploaded(ctx, sess.ID, ""); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if won, err := e.store.Claim(ctx, sess.ID); !won || err != nil {
		t.Fatalf("Claim = %v, %v", won, err)
	}
	got, _ := e.store.Get(ctx, sess.ID)
	return got
}

func (e *env) status(t *testing.T, id uuid.UUID) *session.Session {
	t.Helper()
	got, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func canonical() *audio.Canonical {
	return &audio.Canonical{WAV: make([]byte, audio.BytesPerSecond*2)}
}

func result(text string, n int) *recognizer.Result {
	words := make([]session.Word, n)
	for i := range words {
		words[i] = session.Word{Text: "w", Start: time.Duration(i) * time.Second, End: time.Duration(i+1) * time.Second, SpeakerTag: 1}
	}
	return &recognizer.Result{Text: text, Words: words, Raw: json.RawMessage(`[{"alternatives":[]}]`)}
}

func TestTranscribe_PersistsOperation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.rec.SubmitHandle = "operations/42"
	a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin)
	sess := e.claimed(t)

	out, err := a.Transcribe(context.Background(), sess, canonical())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out != transcription.OutcomePending {
		t.Errorf("outcome = %v, want pending", out)
	}

	got := e.status(t, sess.ID)
	if got.Status != session.StatusTranscribing || got.OperationName != "operations/42" {
		t.Errorf("session = %s op %q", got.Status, got.OperationName)
	}
	if got.OperationStartedAt.IsZero() {
		t.Error("operation start time not recorded")
	}
	wantKey := session.CombinedAudioPath(sess.OrganizationID, sess.ID, "wav")
	if got.AudioURI != "mem://"+wantKey {
		t.Errorf("audio uri = %q", got.AudioURI)
	}
	if _, ok := e.objects.Object(wantKey); !ok {
		t.Error("canonical audio not uploaded")
	}
	if e.rec.SubmitCalls[0].URI != got.AudioURI {
		t.Errorf("submitted uri = %q, want %q", e.rec.SubmitCalls[0].URI, got.AudioURI)
	}
	if _, _, rec := e.rec.Counts(); rec != 0 {
		t.Error("inline recognition ran after a successful submit")
	}
}

func TestTranscribe_InlineFallback(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.rec.SubmitErr = errors.New("quota exceeded")
	e.rec.RecognizeResult = result("hello there", 25)
	a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin)
	sess := e.claimed(t)

	updates, cancel := e.hub.Subscribe(uuid.Nil)
	defer cancel()

	out, err := a.Transcribe(context.Background(), sess, canonical())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out != transcription.OutcomeFinalized {
		t.Errorf("outcome = %v, want finalized", out)
	}

	got := e.status(t, sess.ID)
	if got.Status != session.StatusReady {
		t.Fatalf("status = %s, want ready", got.Status)
	}
	doc, ok := e.objects.Object(session.TranscriptPath(sess.OrganizationID, sess.ID))
	if !ok || session.PlainText(string(doc)) != "hello there" {
		t.Errorf("transcript = %q", doc)
	}
	if !strings.HasPrefix(string(doc), "_TIMESTAMP_") {
		t.Errorf("transcript line not timestamped: %q", doc)
	}
	if got.TranscriptPath == "" || got.RawResultsPath == "" {
		t.Errorf("result paths not recorded: %+v", got)
	}
	if e.idx.words != 25 || e.sum.calls != 1 {
		t.Errorf("indexer words = %d, summaries = %d", e.idx.words, e.sum.calls)
	}
	if e.sum.statuses[0] != session.StatusSummarizing {
		t.Errorf("summarizer saw status %s, want summarizing", e.sum.statuses[0])
	}

	var seen []session.Status
	for range 2 {
		select {
		case ev := <-updates:
			seen = append(seen, ev.Status)
		case <-time.After(time.Second):
			t.Fatal("missing status event")
		}
	}
	if seen[0] != session.StatusSummarizing || seen[1] != session.StatusReady {
		t.Errorf("events = %v", seen)
	}
}

func TestTranscribe_InlineFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.rec.SubmitErr = errors.New("down")
	e.rec.RecognizeErr = errors.New("still down")
	a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin)
	sess := e.claimed(t)

	if _, err := a.Transcribe(context.Background(), sess, canonical()); err == nil {
		t.Fatal("expected error")
	}
	got := e.status(t, sess.ID)
	if got.Status != session.StatusError || !strings.Contains(got.ErrorMessage, "still down") {
		t.Errorf("session = %s %q", got.Status, got.ErrorMessage)
	}
}

func TestTranscribe_UploadFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.objects.PutErr = errors.New("bucket gone")
	a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin)
	sess := e.claimed(t)

	if _, err := a.Transcribe(context.Background(), sess, canonical()); err == nil {
		t.Fatal("expected error")
	}
	if submit, _, _ := e.rec.Counts(); submit != 0 {
		t.Error("submitted without uploaded audio")
	}
	if got := e.status(t, sess.ID); got.Status != session.StatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
}

func TestTranscribe_Secondary(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.rec.SubmitHandle = "op"
	sec := &trmock.Provider{Result: &transcribe.Result{Segments: []transcribe.Segment{{Start: 0, End: 1, Text: "hi"}}}}
	a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin, transcription.WithSecondary(sec, time.Minute))
	sess := e.claimed(t)

	if _, err := a.Transcribe(context.Background(), sess, canonical()); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if sec.CallCount() != 1 {
		t.Errorf("secondary calls = %d, want 1", sec.CallCount())
	}
	jsonKey := session.SecondaryJSONPath(sess.OrganizationID, sess.ID)
	if _, ok := e.objects.Object(jsonKey); !ok {
		t.Error("secondary json not written")
	}
	if txt, ok := e.objects.Object(session.SecondaryTextPath(sess.OrganizationID, sess.ID)); !ok || !strings.Contains(string(txt), "hi") {
		t.Errorf("secondary text = %q", txt)
	}
	if got := e.status(t, sess.ID); got.SecondaryTranscriptPath != jsonKey {
		t.Errorf("secondary path = %q, want %q", got.SecondaryTranscriptPath, jsonKey)
	}
}

func TestTranscribe_SecondaryFailureIgnored(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.rec.SubmitHandle = "op"
	sec := &trmock.Provider{Err: errors.New("model missing")}
	a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin, transcription.WithSecondary(sec, time.Minute))
	sess := e.claimed(t)

	if _, err := a.Transcribe(context.Background(), sess, canonical()); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	_ = a.Wait(context.Background())
	if got := e.status(t, sess.ID); got.Status != session.StatusTranscribing || got.SecondaryTranscriptPath != "" {
		t.Errorf("session = %s secondary %q", got.Status, got.SecondaryTranscriptPath)
	}
}

func TestPoll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		result   *recognizer.PollResult
		err      error
		wantDone bool
		wantErr  bool
		want     session.Status
	}{
		{"pending", nil, nil, false, false, session.StatusTranscribing},
		{"transient error", nil, errors.New("503"), false, true, session.StatusTranscribing},
		{"operation failed", nil, recognizer.ErrOperationFailed, true, true, session.StatusError},
		{"done", &recognizer.PollResult{Done: true, Result: result("done", 3)}, nil, true, false, session.StatusReady},
		{"done without words", &recognizer.PollResult{Done: true, Result: &recognizer.Result{}}, nil, true, false, session.StatusReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			e.rec.SubmitHandle = "op-1"
			e.rec.PollResult = tt.result
			e.rec.PollErr = tt.err
			a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin)
			sess := e.claimed(t)
			if _, err := a.Transcribe(context.Background(), sess, canonical()); err != nil {
				t.Fatalf("Transcribe: %v", err)
			}

			done, err := a.Poll(context.Background(), sess)
			if done != tt.wantDone || (err != nil) != tt.wantErr {
				t.Fatalf("Poll = %v, %v; want done=%v err=%v", done, err, tt.wantDone, tt.wantErr)
			}
			got := e.status(t, sess.ID)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
			if tt.want == session.StatusReady && got.OperationName != "" {
				t.Errorf("operation handle not cleared: %q", got.OperationName)
			}
			if tt.want == session.StatusError && got.ErrorMessage == "" {
				t.Error("error message not recorded")
			}
		})
	}
}

func TestPoll_NoHandle(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	a := transcription.NewAdapter(e.objects, e.store, e.rec, e.fin)
	if _, err := a.Poll(context.Background(), e.claimed(t)); err == nil {
		t.Fatal("expected error for a session without an operation")
	}
}

func TestFinalize_EnrichmentFailuresTolerated(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.idx.err = errors.New("embeddings down")
	e.sum.err = errors.New("llm down")
	sess := e.claimed(t)

	if err := e.fin.Finalize(context.Background(), sess, result("text", 4)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got := e.status(t, sess.ID); got.Status != session.StatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
}

func TestFinalize_RegeneratesCachedSummary(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"summary":"Fresh summary of the rerun.","action_items":["Send notes"],"topics":["rerun"]}`,
	}}
	sum := summary.New(p, e.objects, e.store, nil)
	fin := transcription.NewFinalizer(e.objects, e.store, e.idx, sum)
	sess := e.claimed(t)

	key := session.SummaryPath(sess.OrganizationID, sess.ID)
	e.objects.Set(key, []byte(`{"summary":"left over from an earlier run","action_items":[],"topics":[]}`))

	text := strings.TrimSpace(strings.Repeat("we discussed the quarterly budget ", 10))
	if err := fin.Finalize(context.Background(), sess, result(text, 4)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if p.CallCount() == 0 {
		t.Fatal("LLM was not called; the cached summary was reused")
	}
	got := e.status(t, sess.ID)
	if got.Status != session.StatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if got.SummaryText != "Fresh summary of the rerun." {
		t.Errorf("SummaryText = %q, want %q", got.SummaryText, "Fresh summary of the rerun.")
	}
	cached, _ := e.objects.Object(key)
	if !strings.Contains(string(cached), "Fresh summary") {
		t.Errorf("cache = %s, want the regenerated summary", cached)
	}
}

func TestFinalize_RawFallback(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.claimed(t)
	res := result("text", 0)
	res.Raw = json.RawMessage("{not json")

	if err := e.fin.Finalize(context.Background(), sess, res); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	raw, _ := e.objects.Object(session.RawResultsPath(sess.OrganizationID, sess.ID))
	if string(raw) != "[]" {
		t.Errorf("raw results = %q, want []", raw)
	}
	if e.idx.words != 0 {
		t.Errorf("indexed %d words, want 0", e.idx.words)
	}
}

func TestFinalize_WriteFailureMarksError(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.objects.PutErr = errors.New("disk full")
	sess := e.claimed(t)

	if err := e.fin.Finalize(context.Background(), sess, result("text", 1)); err == nil {
		t.Fatal("expected error")
	}
	got := e.status(t, sess.ID)
	if got.Status != session.StatusError || !strings.Contains(got.ErrorMessage, "disk full") {
		t.Errorf("session = %s %q", got.Status, got.ErrorMessage)
	}
	if e.sum.calls != 0 {
		t.Error("summarizer ran after a failed write")
	}
}

func TestFinalize_ClaimLostLeavesSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.claimed(t)
	// Another worker finished the session first.
	if err := e.store.MarkError(context.Background(), sess.ID, "other worker"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	if err := e.fin.Finalize(context.Background(), sess, result("text", 1)); err == nil {
		t.Fatal("expected error")
	}
	if got := e.status(t, sess.ID); got.ErrorMessage != "other worker" {
		t.Errorf("error message overwritten: %q", got.ErrorMessage)
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	if transcription.OutcomePending.String() != "pending" || transcription.OutcomeFinalized.String() != "finalized" {
		t.Error("unexpected outcome names")
	}
	if got := transcription.Outcome(9).String(); got != "Outcome(9)" {
		t.Errorf("String = %q", got)
	}
}
