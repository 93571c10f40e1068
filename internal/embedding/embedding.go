// Package embedding turns recognised words into indexed transcript chunks.
//
// The [Indexer] chunks words with [chunker.Chunk], embeds every chunk in one
// provider call, fits each vector to the store's column width and writes all
// rows in a single batch.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/chunker"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
	"github.com/MrWong99/meetscribe/pkg/session"
)

// DefaultDimensions is the width of the vector columns.
const DefaultDimensions = 768

// Normalize fits vec to exactly dims elements, truncating longer vectors and
// zero-padding shorter ones. The input is never modified.
func Normalize(vec []float32, dims int) []float32 {
	out := make([]float32, dims)
	copy(out, vec)
	return out
}

// Clean removes NUL characters, which Postgres text columns reject, and
// trims surrounding whitespace.
func Clean(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\x00", ""))
}

// ChunkWriter persists transcript chunks.
type ChunkWriter interface {
	InsertChunks(ctx context.Context, chunks []session.Chunk) error
}

// Indexer embeds transcript chunks and writes them to a ChunkWriter.
type Indexer struct {
	provider embeddings.Provider
	store    ChunkWriter
	dims     int
	opts     chunker.Options
	metrics  *observe.Metrics
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithDimensions sets the stored vector width. Default: [DefaultDimensions].
func WithDimensions(n int) Option {
	return func(ix *Indexer) { ix.dims = n }
}

// WithChunkOptions overrides the chunking bounds.
func WithChunkOptions(o chunker.Options) Option {
	return func(ix *Indexer) { ix.opts = o }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// NewIndexer creates an Indexer.
func NewIndexer(p embeddings.Provider, store ChunkWriter, opts ...Option) *Indexer {
	ix := &Indexer{
		provider: p,
		store:    store,
		dims:     DefaultDimensions,
	}
	for _, o := range opts {
		o(ix)
	}
	if ix.metrics == nil {
		ix.metrics = observe.DefaultMetrics()
	}
	return ix
}

// Dimensions returns the width of vectors produced by the Indexer.
func (ix *Indexer) Dimensions() int { return ix.dims }

// IndexWords chunks words, embeds the chunks and inserts them for sessionID.
// It returns the number of chunks written. Zero words write nothing and make
// no provider call.
func (ix *Indexer) IndexWords(ctx context.Context, sessionID uuid.UUID, words []session.Word) (n int, err error) {
	start := time.Now()
	defer func() { ix.metrics.RecordStage(ctx, observe.StageIndex, start, err) }()

	groups := chunker.Chunk(words, ix.opts)
	texts := make([]string, 0, len(groups))
	kept := make([]chunker.Group, 0, len(groups))
	for _, g := range groups {
		if c := Clean(g.Content); c != "" {
			texts = append(texts, c)
			g.Content = c
			kept = append(kept, g)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}

	vecs, err := ix.provider.EmbedBatch(ctx, texts)
	if err != nil {
		ix.metrics.RecordProviderError(ctx, ix.provider.ModelID(), "embeddings")
		return 0, fmt.Errorf("embedding: embed %d chunks: %w", len(texts), err)
	}
	ix.metrics.RecordProviderRequest(ctx, ix.provider.ModelID(), "embeddings", "ok")
	if len(vecs) != len(kept) {
		return 0, fmt.Errorf("embedding: provider returned %d vectors for %d chunks", len(vecs), len(kept))
	}

	now := time.Now().UTC()
	chunks := make([]session.Chunk, len(kept))
	for i, g := range kept {
		end := g.EndSeconds
		chunks[i] = session.Chunk{
			ID:           uuid.New(),
			SessionID:    sessionID,
			Content:      g.Content,
			StartSeconds: g.StartSeconds,
			EndSeconds:   &end,
			SpeakerTag:   g.SpeakerTag,
			Embedding:    Normalize(vecs[i], ix.dims),
			CreatedAt:    now,
		}
	}
	if err := ix.store.InsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("embedding: insert chunks: %w", err)
	}
	ix.metrics.RecordChunksIndexed(ctx, len(chunks))
	slog.Debug("embedding: chunks indexed", "session_id", sessionID, "chunks", len(chunks))
	return len(chunks), nil
}

// EmbedText embeds a single cleaned text and fits the vector to the stored
// width. Empty text is rejected.
func (ix *Indexer) EmbedText(ctx context.Context, text string) ([]float32, error) {
	c := Clean(text)
	if c == "" {
		return nil, fmt.Errorf("embedding: empty text")
	}
	vec, err := ix.provider.Embed(ctx, c)
	if err != nil {
		ix.metrics.RecordProviderError(ctx, ix.provider.ModelID(), "embeddings")
		return nil, fmt.Errorf("embedding: embed text: %w", err)
	}
	ix.metrics.RecordProviderRequest(ctx, ix.provider.ModelID(), "embeddings", "ok")
	return Normalize(vec, ix.dims), nil
}
