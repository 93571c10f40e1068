// Package mock provides a test double for the recognizer.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
)

var _ recognizer.Provider = (*Provider)(nil)

// Provider is a mock implementation of recognizer.Provider. Calls are
// recorded under a mutex and may be inspected after the test.
type Provider struct {
	mu sync.Mutex

	// SubmitHandle is returned by Submit.
	SubmitHandle string

	// SubmitErr, if non-nil, is returned as the error from Submit.
	SubmitErr error

	// PollResult is returned by Poll. When nil, Poll reports a pending
	// operation.
	PollResult *recognizer.PollResult

	// PollErr, if non-nil, is returned as the error from Poll.
	PollErr error

	// RecognizeResult is returned by Recognize.
	RecognizeResult *recognizer.Result

	// RecognizeErr, if non-nil, is returned as the error from Recognize.
	RecognizeErr error

	SubmitCalls    []recognizer.Request
	PollCalls      []string
	RecognizeCalls []recognizer.Request
}

// Submit records the request and returns SubmitHandle, SubmitErr.
func (p *Provider) Submit(_ context.Context, req recognizer.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubmitCalls = append(p.SubmitCalls, req)
	if p.SubmitErr != nil {
		return "", p.SubmitErr
	}
	return p.SubmitHandle, nil
}

// Poll records the handle and returns PollResult, PollErr.
func (p *Provider) Poll(_ context.Context, handle string) (*recognizer.PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PollCalls = append(p.PollCalls, handle)
	if p.PollErr != nil {
		return nil, p.PollErr
	}
	if p.PollResult == nil {
		return &recognizer.PollResult{}, nil
	}
	return p.PollResult, nil
}

// Recognize records the request and returns RecognizeResult, RecognizeErr.
func (p *Provider) Recognize(_ context.Context, req recognizer.Request) (*recognizer.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = append(p.RecognizeCalls, req)
	if p.RecognizeErr != nil {
		return nil, p.RecognizeErr
	}
	return p.RecognizeResult, nil
}

// Counts returns the number of Submit, Poll and Recognize calls made so far.
func (p *Provider) Counts() (submit, poll, recognize int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SubmitCalls), len(p.PollCalls), len(p.RecognizeCalls)
}
