// Package store defines the persistence contract for sessions, transcript
// chunks and organization settings, implemented by the postgres and memory
// subpackages.
//
// Session ownership is decided by conditional updates: [Store.Claim],
// [Store.Reclaim] and [Store.Transition] succeed for exactly one caller and
// report a lost race through their return values or [ErrClaimLost].
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/pkg/session"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrClaimLost is returned when a conditional status update matched no
	// row: another worker owns the session or it moved on.
	ErrClaimLost = errors.New("store: claim lost")
)

// ChunkMatch is a chunk returned by a similarity search with its cosine
// distance to the query.
type ChunkMatch struct {
	Chunk    session.Chunk
	Distance float64
}

// Store is the full persistence surface used by the service.
type Store interface {
	Create(ctx context.Context, sess *session.Session) error
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	ListByStatus(ctx context.Context, status session.Status, limit int) ([]*session.Session, error)

	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Reclaim(ctx context.Context, id uuid.UUID, seen time.Time) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to session.Status) error
	MarkUploaded(ctx context.Context, id uuid.UUID, prompt string) error
	MarkError(ctx context.Context, id uuid.UUID, msg string) error

	SetOperation(ctx context.Context, id uuid.UUID, name string) error
	SetResultPaths(ctx context.Context, id uuid.UUID, transcriptPath, rawPath string) error
	SetAudioURI(ctx context.Context, id uuid.UUID, uri string) error
	SetTranscriptPath(ctx context.Context, id uuid.UUID, path string) error
	SetSecondaryPath(ctx context.Context, id uuid.UUID, path string) error
	SetProcessedParts(ctx context.Context, id uuid.UUID, n int) error
	IncrementTotalParts(ctx context.Context, id uuid.UUID) (int, error)
	UpdateSummary(ctx context.Context, id uuid.UUID, text string, data session.StructuredData, embedding []float32) error

	InsertChunks(ctx context.Context, chunks []session.Chunk) error
	LastChunk(ctx context.Context, sessionID uuid.UUID) (*session.Chunk, error)
	CountChunks(ctx context.Context, sessionID uuid.UUID) (int, error)
	SearchChunks(ctx context.Context, orgID uuid.UUID, embedding []float32, limit int) ([]ChunkMatch, error)

	SummaryPrefs(ctx context.Context, orgID uuid.UUID) (session.SummaryPrefs, error)
	SetSummaryPrefs(ctx context.Context, orgID uuid.UUID, prefs session.SummaryPrefs) error

	Ping(ctx context.Context) error
	Close()
}
