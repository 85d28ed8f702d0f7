package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/BashkirovN/MiniStateAffairs/internal/models"
)

// UpsertTranscript writes or overwrites the single transcript row for an
// item. Re-transcription replaces the previous text.
func (s *Store) UpsertTranscript(ctx context.Context, t models.Transcript) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcripts (work_item_id, provider, language, body, raw)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (work_item_id) DO UPDATE
		SET provider = EXCLUDED.provider,
			language = EXCLUDED.language,
			body = EXCLUDED.body,
			raw = EXCLUDED.raw,
			updated_at = NOW()`,
		t.WorkItemID, t.Provider, t.Language, t.Body, []byte(t.Raw))
	if err != nil {
		return fmt.Errorf("upsert transcript for %s: %w", t.WorkItemID, err)
	}
	return nil
}

// GetTranscript returns the transcript for an item, or nil when none exists.
func (s *Store) GetTranscript(ctx context.Context, itemID string) (*models.Transcript, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT work_item_id, provider, language, body, COALESCE(raw, 'null'::jsonb), created_at, updated_at
		FROM transcripts WHERE work_item_id = $1`, itemID)

	var t models.Transcript
	var raw []byte
	err := row.Scan(&t.WorkItemID, &t.Provider, &t.Language, &t.Body, &raw, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript for %s: %w", itemID, err)
	}
	t.Raw = raw
	return &t, nil
}
