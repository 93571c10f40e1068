package embeddings

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBatchMismatch is returned when a backend answers a batch with the wrong
// number of vectors or with vectors of differing width.
var ErrBatchMismatch = errors.New("embeddings: batch result does not match input")

// knownWidths lists native vector widths by model-name substring. Earlier
// entries win, so more specific names come first.
var knownWidths = []struct {
	match string
	dims  int
}{
	{"text-embedding-3-large", 3072},
	{"text-embedding-3-small", 1536},
	{"text-embedding-ada-002", 1536},
	{"text-embedding-004", 768},
	{"text-embedding-005", 768},
	{"gemini-embedding", 3072},
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
	{"snowflake-arctic-embed", 1024},
	{"bge-m3", 1024},
	{"all-minilm", 384},
}

// KnownDimensions returns the native vector width of model, or 0 when the
// model is not known.
func KnownDimensions(model string) int {
	lower := strings.ToLower(model)
	for _, w := range knownWidths {
		if strings.Contains(lower, w.match) {
			return w.dims
		}
	}
	return 0
}

// CheckBatch verifies that vecs holds one non-empty vector per input and that
// all vectors share one width.
func CheckBatch(inputs int, vecs [][]float32) error {
	if len(vecs) != inputs {
		return fmt.Errorf("%w: %d inputs, %d vectors", ErrBatchMismatch, inputs, len(vecs))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: vector %d is empty", ErrBatchMismatch, i)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("%w: vector %d has width %d, want %d", ErrBatchMismatch, i, len(v), len(vecs[0]))
		}
	}
	return nil
}
