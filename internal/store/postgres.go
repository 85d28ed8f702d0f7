package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BashkirovN/MiniStateAffairs/internal/models"
)

// Store wraps pgxpool for Postgres persistence. Every stage transition goes
// through a single conditional UPDATE, so concurrent runs never need locks.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const itemColumns = `id, region, source_branch, external_id, slug, title, scheduled_at,
	page_url, media_url, status, storage_locator, retry_count, last_error, created_at, updated_at`

// UpsertDiscovered inserts a newly discovered item with status pending, or,
// when the identity tuple already exists, refreshes only the descriptive
// fields and leaves all pipeline fields untouched. Safe to call repeatedly.
func (s *Store) UpsertDiscovered(ctx context.Context, item models.WorkItem) (models.WorkItem, error) {
	id := item.ID
	if id == "" {
		id = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO work_items (id, region, source_branch, external_id, slug, title, scheduled_at, page_url, media_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (region, source_branch, external_id) DO UPDATE
		SET slug = EXCLUDED.slug,
			title = EXCLUDED.title,
			scheduled_at = EXCLUDED.scheduled_at,
			page_url = EXCLUDED.page_url,
			media_url = EXCLUDED.media_url,
			updated_at = NOW()
		RETURNING `+itemColumns,
		id, item.Region, item.SourceBranch, item.ExternalID, item.Slug,
		item.Title, item.ScheduledAt, item.PageURL, item.MediaURL, models.StatusPending)
	out, err := scanItem(row)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("upsert discovered item %s/%s/%s: %w",
			item.Region, item.SourceBranch, item.ExternalID, err)
	}
	return out, nil
}

// Claim conditionally transitions an item to target only if its current
// status is one of allowed and its retry count is under the ceiling. It
// returns nil when the condition fails: the item was claimed elsewhere, is
// already past this stage, or is retry-exhausted. Callers branch on nil
// rather than treating it as an error.
func (s *Store) Claim(ctx context.Context, id, target string, allowed []string, retryCeiling int) (*models.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE work_items
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3) AND retry_count < $4
		RETURNING `+itemColumns,
		id, target, allowed, retryCeiling)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim item %s -> %s: %w", id, target, err)
	}
	return &item, nil
}

// FinalizeFields carries the optional column changes applied by Finalize.
type FinalizeFields struct {
	StorageLocator *string
	LastError      *string
	ClearError     bool
	IncrementRetry bool
}

// Finalize completes a stage (or records its failure) with the same
// conditional-update primitive as Claim. Retry count moves by at most 1.
func (s *Store) Finalize(ctx context.Context, id, target string, fields FinalizeFields, allowed []string) (*models.WorkItem, error) {
	inc := 0
	if fields.IncrementRetry {
		inc = 1
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE work_items
		SET status = $2,
			storage_locator = COALESCE($3::text, storage_locator),
			last_error = CASE WHEN $4::boolean THEN NULL ELSE COALESCE($5::text, last_error) END,
			retry_count = retry_count + $6,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($7)
		RETURNING `+itemColumns,
		id, target, fields.StorageLocator, fields.ClearError, fields.LastError, inc, allowed)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finalize item %s -> %s: %w", id, target, err)
	}
	return &item, nil
}

// FindUnfinished returns the work queue: items not yet terminal and still
// under the retry ceiling, oldest scheduled first.
func (s *Store) FindUnfinished(ctx context.Context, region, branch string, retryCeiling, limit int) ([]models.WorkItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM work_items
		WHERE region = $1 AND source_branch = $2
			AND status NOT IN ($3, $4)
			AND retry_count < $5
		ORDER BY scheduled_at ASC
		LIMIT $6`,
		region, branch, models.StatusCompleted, models.StatusPermanentFailure, retryCeiling, limit)
	if err != nil {
		return nil, fmt.Errorf("query unfinished items: %w", err)
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unfinished item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResetStuck moves items abandoned mid-stage (downloading or transcribing
// with a stale updated_at) back to failed so the next run can reclaim them.
// Returns the number of items reset.
func (s *Store) ResetStuck(ctx context.Context, region, branch string, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_items
		SET status = $4,
			last_error = 'reset after being stuck in ' || status || ' since ' || to_char(updated_at, 'YYYY-MM-DD HH24:MI:SS TZ'),
			updated_at = NOW()
		WHERE region = $1 AND source_branch = $2
			AND status IN ($5, $6)
			AND updated_at < $3`,
		region, branch, cutoff, models.StatusFailed, models.StatusDownloading, models.StatusTranscribing)
	if err != nil {
		return 0, fmt.Errorf("reset stuck items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetRetryCount is a manual-intervention escape hatch; the automated
// pipeline never calls it.
func (s *Store) ResetRetryCount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_items SET retry_count = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset retry count for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not found", id)
	}
	return nil
}

// MarkPermanentFailure manually excludes an item from all future automated claims.
func (s *Store) MarkPermanentFailure(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_items SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`,
		id, models.StatusPermanentFailure, reason)
	if err != nil {
		return fmt.Errorf("mark permanent failure for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not found", id)
	}
	return nil
}

// GetItem fetches one work item by id.
func (s *Store) GetItem(ctx context.Context, id string) (models.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkItem{}, fmt.Errorf("item %s not found: %w", id, err)
	}
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

func scanItem(row pgx.Row) (models.WorkItem, error) {
	var item models.WorkItem
	var locator, lastErr pgtype.Text
	err := row.Scan(&item.ID, &item.Region, &item.SourceBranch, &item.ExternalID,
		&item.Slug, &item.Title, &item.ScheduledAt, &item.PageURL, &item.MediaURL,
		&item.Status, &locator, &item.RetryCount, &lastErr, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return models.WorkItem{}, err
	}
	item.StorageLocator = textPtr(locator)
	item.LastError = textPtr(lastErr)
	return item, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
