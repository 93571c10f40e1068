// Package mock provides a scriptable llm.Provider for tests.
//
//	p := &mock.Provider{Replies: []mock.Reply{
//	    {Err: errors.New("rate limited")},
//	    {Content: `{"summary":"..."}`},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetscribe/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Reply is one scripted answer. Err takes precedence over Content.
type Reply struct {
	Content   string
	Truncated bool
	Err       error
}

// Provider is a mock llm.Provider. The exported fields must not be changed
// while calls are in flight. Results are chosen in this order: CompleteFunc,
// the next queued Reply, then CompleteResponse and CompleteErr.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc computes the result of Complete. It is called without the
	// lock held.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Replies is consumed front to back, one entry per call.
	Replies []Reply

	// CompleteResponse and CompleteErr answer once Replies is exhausted.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	CapabilitiesValue llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var next *Reply
	if fn == nil && len(p.Replies) > 0 {
		next = &p.Replies[0]
		p.Replies = p.Replies[1:]
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case next != nil && next.Err != nil:
		return nil, next.Err
	case next != nil:
		return &llm.CompletionResponse{Content: next.Content, Truncated: next.Truncated}, nil
	}
	return resp, err
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapabilitiesValue
}

// CallCount returns the number of Complete calls made so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.CompleteCalls))
	for i, c := range p.CompleteCalls {
		out[i] = c.Req
	}
	return out
}

// Pending returns how many scripted replies have not been used.
func (p *Provider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Replies)
}
