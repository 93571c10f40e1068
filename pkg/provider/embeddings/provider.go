// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to dense float32 vectors. meetscribe embeds
// every transcript chunk and every session summary so both can be searched by
// cosine similarity in pgvector.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// Vectors returned by one Provider share the same dimensionality. The indexer
// pads or truncates them to the store's column width, so a provider whose
// native width differs is still usable. Vectors from different models must
// not be mixed in one table.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in a single provider
	// call. The i-th result corresponds to texts[i]. On error no partial
	// results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of every vector produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, such as
	// "text-embedding-004".
	ModelID() string
}
