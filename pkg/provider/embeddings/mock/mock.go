// Package mock provides a deterministic embeddings.Provider for tests.
//
// Without canned results every text maps to a vector of DimensionsValue
// length whose first component is the text's byte length, so distinct inputs
// are distinguishable without configuration.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a mock embeddings.Provider. Configure it before use.
type Provider struct {
	mu sync.Mutex

	// Vectors maps exact input texts to their vector for both Embed and
	// EmbedBatch. Unlisted texts fall back to EmbedResult or the generated
	// vector.
	Vectors map[string][]float32

	EmbedResult      []float32
	EmbedErr         error
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

// vector returns the configured or generated vector for text. p.mu is held.
func (p *Provider) vector(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return slices.Clone(v)
	}
	if p.EmbedResult != nil {
		return slices.Clone(p.EmbedResult)
	}
	v := make([]float32, max(p.DimensionsValue, 1))
	v[0] = float32(len(text))
	return v
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vector(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: slices.Clone(texts)})
	switch {
	case p.EmbedBatchErr != nil:
		return nil, p.EmbedBatchErr
	case p.EmbedBatchResult != nil:
		return p.EmbedBatchResult, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Calls returns how often Embed and EmbedBatch were called.
func (p *Provider) Calls() (embed, batch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls), len(p.EmbedBatchCalls)
}

// Texts returns every text received by either method, in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.EmbedCalls {
		out = append(out, c.Text)
	}
	for _, c := range p.EmbedBatchCalls {
		out = append(out, c.Texts...)
	}
	return out
}
