package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/meetscribe/pkg/session"
)

// SummaryPrefs loads the organization's summary preferences from
// settings->'summary_prefs'. An unknown organization or missing key yields
// empty preferences.
func (s *Store) SummaryPrefs(ctx context.Context, orgID uuid.UUID) (session.SummaryPrefs, error) {
	const q = `SELECT COALESCE(settings->'summary_prefs', '{}'::jsonb) FROM organizations WHERE id = $1`
	var (
		raw   []byte
		prefs session.SummaryPrefs
	)
	err := s.db.QueryRow(ctx, q, orgID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("postgres: summary prefs %s: %w", orgID, err)
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return prefs, fmt.Errorf("postgres: summary prefs %s: decode: %w", orgID, err)
	}
	return prefs, nil
}

// SetSummaryPrefs stores prefs under settings->'summary_prefs', creating the
// organization row when missing.
func (s *Store) SetSummaryPrefs(ctx context.Context, orgID uuid.UUID, prefs session.SummaryPrefs) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("postgres: set summary prefs %s: encode: %w", orgID, err)
	}
	const q = `
		INSERT INTO organizations (id, settings)
		VALUES ($1, jsonb_build_object('summary_prefs', $2::jsonb))
		ON CONFLICT (id) DO UPDATE
		SET settings = organizations.settings || jsonb_build_object('summary_prefs', $2::jsonb)`
	if _, err := s.db.Exec(ctx, q, orgID, raw); err != nil {
		return fmt.Errorf("postgres: set summary prefs %s: %w", orgID, err)
	}
	return nil
}
