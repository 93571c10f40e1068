package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/meetscribe/pkg/session"
)

const sessionColumns = `
	id, organization_id, status,
	COALESCE(audio_uri, ''), COALESCE(operation_name, ''), operation_started_at,
	COALESCE(transcript_path, ''), COALESCE(raw_results_path, ''), COALESCE(secondary_transcript_path, ''),
	COALESCE(summary_prompt, ''), COALESCE(summary_text, ''), structured_data, summary_embedding,
	COALESCE(error_message, ''), processed_parts, total_parts, created_at, updated_at`

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		s         session.Session
		status    string
		started   *time.Time
		data      []byte
		embedding *pgvector.Vector
	)
	if err := row.Scan(
		&s.ID, &s.OrganizationID, &status,
		&s.AudioURI, &s.OperationName, &started,
		&s.TranscriptPath, &s.RawResultsPath, &s.SecondaryTranscriptPath,
		&s.SummaryPrompt, &s.SummaryText, &data, &embedding,
		&s.ErrorMessage, &s.ProcessedParts, &s.TotalParts, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = session.Status(status)
	if started != nil {
		s.OperationStartedAt = *started
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.StructuredData); err != nil {
			return nil, fmt.Errorf("decode structured_data: %w", err)
		}
	}
	if embedding != nil {
		s.SummaryEmbedding = embedding.Slice()
	}
	return &s, nil
}

// Create inserts a new session. Zero ID, status and timestamps are filled in
// and written back to sess.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.Status == "" {
		sess.Status = session.StatusRecording
	}
	if !sess.Status.IsValid() {
		return fmt.Errorf("postgres: create session: invalid status %q", sess.Status)
	}

	const q = `
		INSERT INTO sessions (id, organization_id, status, summary_prompt, total_parts)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, q,
		sess.ID, sess.OrganizationID, string(sess.Status), sess.SummaryPrompt, sess.TotalParts,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

// Get returns the session with the given id or [ErrNotFound].
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	sess, err := scanSession(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	return sess, nil
}

// ListByStatus returns up to limit sessions in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status session.Status, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		return []*session.Session{}, nil
	}
	q := `SELECT ` + sessionColumns + `
		FROM   sessions
		WHERE  status = $1
		ORDER  BY created_at ASC, id ASC
		LIMIT  $2`
	rows, err := s.db.Query(ctx, q, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s sessions: %w", status, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*session.Session, error) {
		return scanSession(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s sessions: scan: %w", status, err)
	}
	if out == nil {
		out = []*session.Session{}
	}
	return out, nil
}

// Claim atomically moves an uploaded session to transcribing. It reports
// whether this caller won; exactly one of several concurrent claimants does.
func (s *Store) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
		UPDATE sessions
		SET    status = 'transcribing', error_message = NULL, updated_at = now()
		WHERE  id = $1 AND status = 'uploaded'`
	tag, err := s.db.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim %s: %w", id, err)
	}
	return affectedOne(tag), nil
}

// Reclaim takes over an abandoned transcribing session that has no operation
// handle. The update only matches while updated_at still equals seen, so of
// several instances observing the same stale row exactly one wins.
func (s *Store) Reclaim(ctx context.Context, id uuid.UUID, seen time.Time) (bool, error) {
	const q = `
		UPDATE sessions
		SET    updated_at = now()
		WHERE  id = $1 AND status = 'transcribing' AND operation_name IS NULL AND updated_at = $2`
	tag, err := s.db.Exec(ctx, q, id, seen)
	if err != nil {
		return false, fmt.Errorf("postgres: reclaim %s: %w", id, err)
	}
	return affectedOne(tag), nil
}

// Transition moves a session from one status to the next with a conditional
// update. It returns [ErrClaimLost] when the session is no longer in from.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to session.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("postgres: transition %s: %s -> %s is not allowed", id, from, to)
	}
	const q = `UPDATE sessions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`
	tag, err := s.db.Exec(ctx, q, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition %s: %w", id, err)
	}
	if !affectedOne(tag) {
		return fmt.Errorf("postgres: transition %s %s -> %s: %w", id, from, to, ErrClaimLost)
	}
	return nil
}

// MarkUploaded hands a recording session to the pipeline. A non-empty prompt
// replaces the session's summary prompt.
func (s *Store) MarkUploaded(ctx context.Context, id uuid.UUID, prompt string) error {
	const q = `
		UPDATE sessions
		SET    status = 'uploaded', summary_prompt = COALESCE(NULLIF($2, ''), summary_prompt), updated_at = now()
		WHERE  id = $1 AND status = 'recording'`
	tag, err := s.db.Exec(ctx, q, id, prompt)
	if err != nil {
		return fmt.Errorf("postgres: mark uploaded %s: %w", id, err)
	}
	if !affectedOne(tag) {
		return fmt.Errorf("postgres: mark uploaded %s: %w", id, ErrClaimLost)
	}
	return nil
}

// MarkError moves a non-terminal session to error with msg. Terminal sessions
// are left untouched.
func (s *Store) MarkError(ctx context.Context, id uuid.UUID, msg string) error {
	const q = `
		UPDATE sessions
		SET    status = 'error', error_message = $2, updated_at = now()
		WHERE  id = $1 AND status NOT IN ('ready', 'error')`
	if _, err := s.db.Exec(ctx, q, id, msg); err != nil {
		return fmt.Errorf("postgres: mark error %s: %w", id, err)
	}
	return nil
}

// SetOperation persists the recognition handle of a transcribing session.
func (s *Store) SetOperation(ctx context.Context, id uuid.UUID, name string) error {
	const q = `
		UPDATE sessions
		SET    operation_name = $2, operation_started_at = now(), updated_at = now()
		WHERE  id = $1 AND status = 'transcribing'`
	tag, err := s.db.Exec(ctx, q, id, name)
	if err != nil {
		return fmt.Errorf("postgres: set operation %s: %w", id, err)
	}
	if !affectedOne(tag) {
		return fmt.Errorf("postgres: set operation %s: %w", id, ErrClaimLost)
	}
	return nil
}

// SetResultPaths records the transcript and raw result paths and clears the
// operation handle.
func (s *Store) SetResultPaths(ctx context.Context, id uuid.UUID, transcriptPath, rawPath string) error {
	const q = `
		UPDATE sessions
		SET    transcript_path = $2, raw_results_path = $3,
		       operation_name = NULL, operation_started_at = NULL, updated_at = now()
		WHERE  id = $1`
	return s.execOne(ctx, "set result paths", id, q, id, transcriptPath, rawPath)
}

// SetAudioURI records the canonical audio reference.
func (s *Store) SetAudioURI(ctx context.Context, id uuid.UUID, uri string) error {
	const q = `UPDATE sessions SET audio_uri = $2, updated_at = now() WHERE id = $1`
	return s.execOne(ctx, "set audio uri", id, q, id, uri)
}

// SetTranscriptPath records the transcript path.
func (s *Store) SetTranscriptPath(ctx context.Context, id uuid.UUID, path string) error {
	const q = `UPDATE sessions SET transcript_path = $2, updated_at = now() WHERE id = $1`
	return s.execOne(ctx, "set transcript path", id, q, id, path)
}

// SetSecondaryPath records the secondary transcript path. It does not bump
// updated_at because the secondary engine runs detached from the claim.
func (s *Store) SetSecondaryPath(ctx context.Context, id uuid.UUID, path string) error {
	const q = `UPDATE sessions SET secondary_transcript_path = $2 WHERE id = $1`
	return s.execOne(ctx, "set secondary path", id, q, id, path)
}

// SetProcessedParts records assembly progress.
func (s *Store) SetProcessedParts(ctx context.Context, id uuid.UUID, n int) error {
	const q = `UPDATE sessions SET processed_parts = $2, updated_at = now() WHERE id = $1`
	return s.execOne(ctx, "set processed parts", id, q, id, n)
}

// IncrementTotalParts counts one more uploaded fragment and returns the new
// total.
func (s *Store) IncrementTotalParts(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `
		UPDATE sessions
		SET    total_parts = total_parts + 1, updated_at = now()
		WHERE  id = $1
		RETURNING total_parts`
	var n int
	err := s.db.QueryRow(ctx, q, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: increment parts %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: increment parts %s: %w", id, err)
	}
	return n, nil
}

// UpdateSummary stores the summary text, structured data and, when non-nil,
// the summary embedding.
func (s *Store) UpdateSummary(ctx context.Context, id uuid.UUID, text string, data session.StructuredData, embedding []float32) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("postgres: update summary %s: encode: %w", id, err)
	}
	var vec *pgvector.Vector
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		vec = &v
	}
	const q = `
		UPDATE sessions
		SET    summary_text = $2, structured_data = $3, summary_embedding = $4, updated_at = now()
		WHERE  id = $1`
	return s.execOne(ctx, "update summary", id, q, id, text, raw, vec)
}

func (s *Store) execOne(ctx context.Context, op string, id uuid.UUID, q string, args ...any) error {
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s %s: %w", op, id, ErrNotFound)
	}
	return nil
}
