// Package ollama provides an embeddings provider backed by an Ollama server,
// using the official github.com/ollama/ollama/api client.
//
// Inputs longer than the model context are truncated server-side, so one long
// transcript chunk never fails a whole batch.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
)

// probeTimeout bounds the request Dimensions issues for unknown models.
const probeTimeout = 30 * time.Second

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider on an Ollama server.
//
// The vector width comes from WithDimensions, then from the table of known
// models, and finally from a single probe request.
type Provider struct {
	client    *api.Client
	model     string
	keepAlive *api.Duration

	mu   sync.Mutex
	dims int
}

type settings struct {
	timeout   time.Duration
	dims      int
	keepAlive time.Duration
}

// Option is a functional option for Provider.
type Option func(*settings)

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithDimensions pre-sets the embedding width and skips the probe request.
func WithDimensions(n int) Option {
	return func(s *settings) { s.dims = n }
}

// WithKeepAlive controls how long Ollama keeps the model loaded after a
// request. Zero leaves the server default.
func WithKeepAlive(d time.Duration) Option {
	return func(s *settings) { s.keepAlive = d }
}

// New constructs an Ollama Provider. An empty baseURL resolves the server
// from OLLAMA_HOST, defaulting to http://127.0.0.1:11434.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}

	var client *api.Client
	if baseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings: parse base URL: %w", err)
		}
		client = api.NewClient(u, &http.Client{Timeout: s.timeout})
	}

	p := &Provider{client: client, model: model, dims: s.dims}
	if s.keepAlive > 0 {
		p.keepAlive = &api.Duration{Duration: s.keepAlive}
	}
	if p.dims == 0 {
		p.dims = embeddings.KnownDimensions(model)
	}
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. An empty input issues no request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch of %d: %w", len(texts), err)
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. A failed probe returns 0 and is
// retried on the next call.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dims != 0 {
		return p.dims
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if vecs, err := p.embed(ctx, []string{"probe"}); err == nil {
		p.dims = len(vecs[0])
	}
	return p.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	truncate := true
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model:     p.model,
		Input:     texts,
		Truncate:  &truncate,
		KeepAlive: p.keepAlive,
	})
	if err != nil {
		return nil, err
	}
	if err := embeddings.CheckBatch(len(texts), resp.Embeddings); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
