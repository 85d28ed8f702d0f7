package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/BashkirovN/MiniStateAffairs/internal/models"
)

// StartRun opens a JobRun record in status running.
func (s *Store) StartRun(ctx context.Context, region, branch string) (models.JobRun, error) {
	run := models.JobRun{
		ID:           uuid.New().String(),
		Region:       region,
		SourceBranch: branch,
		Status:       models.RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, region, source_branch, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Region, run.SourceBranch, run.Status, run.StartedAt)
	if err != nil {
		return models.JobRun{}, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// IncrementRunCounters bumps the per-run counters incrementally during a run.
func (s *Store) IncrementRunCounters(ctx context.Context, runID string, discovered, processed, failed int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET discovered = discovered + $2, processed = processed + $3, failed = failed + $4
		WHERE id = $1`,
		runID, discovered, processed, failed)
	if err != nil {
		return fmt.Errorf("increment run counters: %w", err)
	}
	return nil
}

// FinishRun finalizes the run status exactly once at the end of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, errorSummary *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET status = $2, error_summary = $3, finished_at = NOW()
		WHERE id = $1`,
		runID, status, errorSummary)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// AppendRunLog records one append-only log line for a run.
func (s *Store) AppendRunLog(ctx context.Context, runID, level, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_log_entries (job_run_id, level, message, ts)
		VALUES ($1, $2, $3, NOW())`,
		runID, level, message)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// GetRun fetches a single run by id.
func (s *Store) GetRun(ctx context.Context, id string) (models.JobRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, region, source_branch, status, discovered, processed, failed, error_summary, started_at, finished_at
		FROM job_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRun{}, fmt.Errorf("run %s not found: %w", id, err)
	}
	if err != nil {
		return models.JobRun{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.JobRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, region, source_branch, status, discovered, processed, failed, error_summary, started_at, finished_at
		FROM job_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []models.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunSummary aggregates work item counts by status for one source. The read
// side only; rendering is the caller's concern.
func (s *Store) RunSummary(ctx context.Context, region, branch string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM work_items
		WHERE region = $1 AND source_branch = $2
		GROUP BY status`, region, branch)
	if err != nil {
		return nil, fmt.Errorf("query run summary: %w", err)
	}
	defer rows.Close()

	summary := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		summary[status] = n
	}
	return summary, rows.Err()
}

func scanRun(row pgx.Row) (models.JobRun, error) {
	var run models.JobRun
	var summary pgtype.Text
	var finished pgtype.Timestamptz
	err := row.Scan(&run.ID, &run.Region, &run.SourceBranch, &run.Status,
		&run.Discovered, &run.Processed, &run.Failed, &summary, &run.StartedAt, &finished)
	if err != nil {
		return models.JobRun{}, err
	}
	run.ErrorSummary = textPtr(summary)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}
