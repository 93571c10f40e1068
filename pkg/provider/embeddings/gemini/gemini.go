// Package gemini provides an embeddings provider backed by the Google Gemini
// API through the google.golang.org/genai SDK.
//
// The default model, text-embedding-004, produces 768-dimensional vectors,
// the native width of the chunk table.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
)

// DefaultModel is the default Gemini embeddings model.
const DefaultModel = "text-embedding-004"

// DefaultDimensions is the native width of DefaultModel.
const DefaultDimensions = 768

// TaskRetrievalDocument marks inputs as documents to be indexed.
const TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"

var _ embeddings.Provider = (*Provider)(nil)

// embedder is the subset of the genai Models service used by Provider.
type embedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Provider implements embeddings.Provider using Gemini embedding models.
type Provider struct {
	models     embedder
	model      string
	dimensions int
	taskType   string
}

type config struct {
	dimensions int
	taskType   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithDimensions asks the model to emit n-dimensional vectors.
func WithDimensions(n int) Option {
	return func(c *config) {
		c.dimensions = n
	}
}

// WithTaskType sets the embedding task hint, for example "RETRIEVAL_QUERY".
// The default is TaskRetrievalDocument.
func WithTaskType(t string) Option {
	return func(c *config) {
		c.taskType = t
	}
}

// New constructs a Gemini embeddings Provider using the Gemini Developer API.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embeddings: apiKey must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: create client: %w", err)
	}
	return newProvider(client.Models, model, opts...), nil
}

func newProvider(models embedder, model string, opts ...Option) *Provider {
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{taskType: TaskRetrievalDocument}
	for _, o := range opts {
		o(cfg)
	}
	return &Provider{
		models:     models,
		model:      model,
		dimensions: cfg.dimensions,
		taskType:   cfg.taskType,
	}
}

func (p *Provider) embedConfig() *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{TaskType: p.taskType}
	if p.dimensions > 0 {
		d := int32(p.dimensions)
		cfg.OutputDimensionality = &d
	}
	return cfg
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := p.models.EmbedContent(ctx, p.model, contents, p.embedConfig())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", embeddings.ErrBatchMismatch)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e != nil {
			out[i] = e.Values
		}
	}
	if err := embeddings.CheckBatch(len(texts), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	if d := embeddings.KnownDimensions(p.model); d > 0 {
		return d
	}
	return DefaultDimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}
