// Package postgres provides the PostgreSQL-backed store for sessions,
// transcript chunks and organization settings.
//
// Session ownership is enforced entirely in SQL: every status change is a
// conditional UPDATE whose row count decides whether the caller won. The
// pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 768)
//	if err != nil { … }
//	won, err := store.Claim(ctx, id)
package postgres

import (
	"context"
	"fmt"
)

// ─────────────────────────────────────────────────────────────────────────────
// Organizations
// ─────────────────────────────────────────────────────────────────────────────

const ddlOrganizations = `
CREATE TABLE IF NOT EXISTS organizations (
    id          UUID         PRIMARY KEY,
    name        TEXT         NOT NULL DEFAULT '',
    settings    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlSessions returns the sessions and chunks DDL with the embedding dimension
// substituted. The vector dimension is baked into the column types at schema
// creation time.
func ddlSessions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS sessions (
    id                         UUID         PRIMARY KEY,
    organization_id            UUID         NOT NULL,
    status                     TEXT         NOT NULL DEFAULT 'recording'
        CHECK (status IN ('recording', 'uploaded', 'transcribing', 'summarizing', 'ready', 'error')),
    audio_uri                  TEXT,
    operation_name             TEXT,
    operation_started_at       TIMESTAMPTZ,
    transcript_path            TEXT,
    raw_results_path           TEXT,
    secondary_transcript_path  TEXT,
    summary_prompt             TEXT,
    summary_text               TEXT,
    structured_data            JSONB        NOT NULL DEFAULT '{}',
    summary_embedding          vector(%[1]d),
    error_message              TEXT,
    processed_parts            INTEGER      NOT NULL DEFAULT 0,
    total_parts                INTEGER      NOT NULL DEFAULT 0,
    created_at                 TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at                 TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_status_created
    ON sessions (status, created_at);

CREATE INDEX IF NOT EXISTS idx_sessions_organization
    ON sessions (organization_id);

CREATE TABLE IF NOT EXISTS session_chunks (
    id                  UUID         PRIMARY KEY,
    session_id          UUID         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    content             TEXT         NOT NULL CHECK (content <> ''),
    start_time_seconds  INTEGER      NOT NULL DEFAULT 0,
    end_time_seconds    INTEGER,
    speaker_tag         TEXT,
    embedding           vector(%[1]d),
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_chunks_session_id
    ON session_chunks (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_session_chunks_embedding
    ON session_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the width the indexer normalises vectors to
// (768 by default). Changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, db DB, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlOrganizations, ddlSessions(embeddingDimensions)} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
