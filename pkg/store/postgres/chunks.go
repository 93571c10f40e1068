package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/meetscribe/pkg/session"
	"github.com/MrWong99/meetscribe/pkg/store"
)

// ChunkMatch is a chunk returned by [Store.SearchChunks] with its cosine
// distance to the query.
type ChunkMatch = store.ChunkMatch

const insertChunk = `
	INSERT INTO session_chunks
	    (id, session_id, content, start_time_seconds, end_time_seconds, speaker_tag, embedding, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// InsertChunks writes all chunks in a single batch round trip. Chunks are
// append-only; a duplicate id fails the batch.
func (s *Store) InsertChunks(ctx context.Context, chunks []session.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		var vec *pgvector.Vector
		if c.Embedding != nil {
			v := pgvector.NewVector(c.Embedding)
			vec = &v
		}
		batch.Queue(insertChunk, c.ID, c.SessionID, c.Content, c.StartSeconds, c.EndSeconds, c.SpeakerTag, vec, c.CreatedAt)
	}

	br := s.db.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: insert chunks: %w", err)
	}
	return nil
}

const chunkColumns = `c.id, c.session_id, c.content, c.start_time_seconds, c.end_time_seconds, c.speaker_tag, c.embedding, c.created_at`

func scanChunk(row pgx.Row, extra ...any) (session.Chunk, error) {
	var (
		c   session.Chunk
		vec *pgvector.Vector
	)
	dest := append([]any{&c.ID, &c.SessionID, &c.Content, &c.StartSeconds, &c.EndSeconds, &c.SpeakerTag, &vec, &c.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return session.Chunk{}, err
	}
	if vec != nil {
		c.Embedding = vec.Slice()
	}
	return c, nil
}

// LastChunk returns the most recently created chunk of a session or
// [ErrNotFound].
func (s *Store) LastChunk(ctx context.Context, sessionID uuid.UUID) (*session.Chunk, error) {
	q := `SELECT ` + chunkColumns + `
		FROM   session_chunks c
		WHERE  c.session_id = $1
		ORDER  BY c.created_at DESC, c.start_time_seconds DESC
		LIMIT  1`
	c, err := scanChunk(s.db.QueryRow(ctx, q, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: last chunk %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: last chunk %s: %w", sessionID, err)
	}
	return &c, nil
}

// CountChunks returns the number of chunks stored for a session.
func (s *Store) CountChunks(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM session_chunks WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count chunks %s: %w", sessionID, err)
	}
	return n, nil
}

// SearchChunks finds the limit chunks closest (cosine distance) to embedding
// among the sessions of orgID. Results are ordered most similar first.
func (s *Store) SearchChunks(ctx context.Context, orgID uuid.UUID, embedding []float32, limit int) ([]ChunkMatch, error) {
	if limit <= 0 {
		return []ChunkMatch{}, nil
	}
	q := `SELECT ` + chunkColumns + `, c.embedding <=> $1 AS distance
		FROM   session_chunks c
		JOIN   sessions s ON s.id = c.session_id
		WHERE  s.organization_id = $2 AND c.embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`
	rows, err := s.db.Query(ctx, q, pgvector.NewVector(embedding), orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChunkMatch, error) {
		var m ChunkMatch
		c, err := scanChunk(row, &m.Distance)
		m.Chunk = c
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: scan: %w", err)
	}
	if out == nil {
		out = []ChunkMatch{}
	}
	return out, nil
}
