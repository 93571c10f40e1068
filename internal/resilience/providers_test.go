package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	embmock "github.com/MrWong99/meetscribe/pkg/provider/embeddings/mock"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	recmock "github.com/MrWong99/meetscribe/pkg/provider/recognizer/mock"
)

func TestEmbeddingsFallback(t *testing.T) {
	t.Parallel()

	primary := &embmock.Provider{EmbedBatchErr: errors.New("quota"), EmbedErr: errors.New("quota"), DimensionsValue: 768, ModelIDValue: "text-embedding-004"}
	secondary := &embmock.Provider{DimensionsValue: 1536}

	fb := NewEmbeddingsFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	vecs, err := fb.EmbedBatch(context.Background(), []string{"a", "bb"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 1536 {
		t.Errorf("EmbedBatch returned %d vectors of %d, want 2 of 1536", len(vecs), len(vecs[0]))
	}
	if _, err := fb.Embed(context.Background(), "q"); err != nil {
		t.Errorf("Embed: %v", err)
	}
	if _, batches := secondary.Calls(); batches != 1 {
		t.Errorf("secondary batches = %d, want 1", batches)
	}
	if fb.Dimensions() != 768 || fb.ModelID() != "text-embedding-004" {
		t.Errorf("metadata = %d/%s, want primary's", fb.Dimensions(), fb.ModelID())
	}
}

func TestRecognizer_OpensOnSubmitFailures(t *testing.T) {
	t.Parallel()

	next := &recmock.Provider{SubmitErr: errors.New("503"), RecognizeResult: &recognizer.Result{Text: "inline"}}
	r := NewRecognizer(next, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		if _, err := r.Submit(context.Background(), recognizer.Request{}); err == nil {
			t.Fatal("Submit succeeded, want error")
		}
	}
	if r.State() != StateOpen {
		t.Fatalf("state = %v, want open", r.State())
	}
	if _, err := r.Submit(context.Background(), recognizer.Request{}); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Submit while open = %v, want ErrCircuitOpen", err)
	}
	if submits, _, _ := next.Counts(); submits != 2 {
		t.Errorf("backend submits = %d, want 2", submits)
	}

	res, err := r.Recognize(context.Background(), recognizer.Request{})
	if err != nil || res.Text != "inline" {
		t.Errorf("Recognize while open = %v, %v; want inline result", res, err)
	}
}

func TestRecognizer_FailedOperationIsNeutral(t *testing.T) {
	t.Parallel()

	next := &recmock.Provider{PollErr: fmt.Errorf("op/1: %w", recognizer.ErrOperationFailed)}
	r := NewRecognizer(next, CircuitBreakerConfig{MaxFailures: 1})

	for range 3 {
		if _, err := r.Poll(context.Background(), "op/1"); !errors.Is(err, recognizer.ErrOperationFailed) {
			t.Fatalf("Poll = %v, want ErrOperationFailed", err)
		}
	}
	if r.State() != StateClosed {
		t.Errorf("state = %v, want closed", r.State())
	}
}
