// Package objstore defines the object-storage abstraction used by the
// pipeline for audio fragments, transcripts, raw recognition results and
// cached summaries.
//
// Keys are slash-separated paths such as "transcripts/{org}/{session}.txt".
// Implementations must be safe for concurrent use.
package objstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Get] when no object exists at the key.
var ErrNotFound = errors.New("objstore: object not found")

// Store is a minimal key/value blob store.
type Store interface {
	// Get returns the full contents of the object at key, or an error
	// wrapping [ErrNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// List returns the names of the objects directly under prefix, relative
	// to prefix and sorted lexically. A missing prefix yields an empty list.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns a stable reference to key suitable for handing to
	// external services.
	URI(key string) string
}

// Content types used by the pipeline.
const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json"
	ContentTypeWAV  = "audio/wav"
)
