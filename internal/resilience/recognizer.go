package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
)

// Recognizer puts a circuit breaker in front of Submit and Poll of a
// [recognizer.Provider]. While the breaker is open, Submit fails fast, which
// sends the caller straight to inline recognition, and Poll fails with a
// transient error so the operation is polled again on a later tick.
//
// Recognize is not guarded: it is the fallback path and must be attempted
// even while the asynchronous API is failing.
type Recognizer struct {
	next    recognizer.Provider
	breaker *CircuitBreaker
}

var _ recognizer.Provider = (*Recognizer)(nil)

// NewRecognizer wraps next. A failed operation is a definitive answer from
// the backend and never trips the breaker.
func NewRecognizer(next recognizer.Provider, cfg CircuitBreakerConfig) *Recognizer {
	neutral := cfg.Neutral
	cfg.Neutral = func(err error) bool {
		return errors.Is(err, recognizer.ErrOperationFailed) || (neutral != nil && neutral(err))
	}
	if cfg.Name == "" {
		cfg.Name = "recognizer"
	}
	return &Recognizer{next: next, breaker: NewCircuitBreaker(cfg)}
}

// State returns the breaker state.
func (r *Recognizer) State() State { return r.breaker.State() }

func (r *Recognizer) Submit(ctx context.Context, req recognizer.Request) (string, error) {
	var handle string
	err := r.breaker.Execute(func() error {
		var err error
		handle, err = r.next.Submit(ctx, req)
		return err
	})
	return handle, err
}

func (r *Recognizer) Poll(ctx context.Context, handle string) (*recognizer.PollResult, error) {
	var res *recognizer.PollResult
	err := r.breaker.Execute(func() error {
		var err error
		res, err = r.next.Poll(ctx, handle)
		return err
	})
	return res, err
}

func (r *Recognizer) Recognize(ctx context.Context, req recognizer.Request) (*recognizer.Result, error) {
	return r.next.Recognize(ctx, req)
}
