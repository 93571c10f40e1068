// Package mock provides a test double for the transcribe.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
)

var _ transcribe.Provider = (*Provider)(nil)

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe.
	Result *transcribe.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls holds the audio passed to each Transcribe call.
	Calls [][]byte
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(_ context.Context, wav []byte) (*transcribe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, wav)
	return p.Result, p.Err
}

// CallCount returns the number of Transcribe calls made so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
