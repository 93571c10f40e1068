package resilience

import (
	"context"

	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
)

// EmbeddingsFallback is an [embeddings.Provider] failing over across several
// embedding backends. Vectors from different backends may differ in width;
// the indexer fits every vector to the column width before storing it.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an EmbeddingsFallback preferring primary.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers p to be tried after the existing backends.
func (f *EmbeddingsFallback) AddFallback(name string, p embeddings.Provider) {
	f.group.AddFallback(name, p)
}

func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch sends the whole batch to a single backend so that all vectors
// of one batch share a model.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions reports the primary's width.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.entries[0].value.Dimensions() }

// ModelID reports the primary's model.
func (f *EmbeddingsFallback) ModelID() string { return f.group.entries[0].value.ModelID() }
