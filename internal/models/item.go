package models

import (
	"encoding/json"
	"time"
)

// ItemStatus enumerates work item lifecycle states persisted in Postgres.
const (
	StatusPending          = "pending"
	StatusDownloading      = "downloading"
	StatusDownloaded       = "downloaded"
	StatusTranscribing     = "transcribing"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
	StatusPermanentFailure = "permanent_failure"
)

// ActiveStatuses are the non-terminal states a failure finalize may move from.
var ActiveStatuses = []string{
	StatusPending,
	StatusDownloading,
	StatusDownloaded,
	StatusTranscribing,
	StatusFailed,
}

// IsTerminal reports whether a status excludes the item from all future processing.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusPermanentFailure
}

// WorkItem represents one discovered media recording tracked through the pipeline.
type WorkItem struct {
	ID             string     `json:"id"`
	Region         string     `json:"region"`
	SourceBranch   string     `json:"source_branch"`
	ExternalID     string     `json:"external_id"`
	Slug           string     `json:"slug"`
	Title          string     `json:"title"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	PageURL        string     `json:"page_url"`
	MediaURL       string     `json:"media_url"`
	Status         string     `json:"status"`
	StorageLocator *string    `json:"storage_locator,omitempty"`
	RetryCount     int        `json:"retry_count"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Transcript holds the provider output for a work item. At most one per item.
type Transcript struct {
	WorkItemID string          `json:"work_item_id"`
	Provider   string          `json:"provider"`
	Language   string          `json:"language"`
	Body       string          `json:"body"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// JobRun status values.
const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// JobRun records one orchestrator execution for a (region, source branch) pair.
type JobRun struct {
	ID           string     `json:"id"`
	Region       string     `json:"region"`
	SourceBranch string     `json:"source_branch"`
	Status       string     `json:"status"`
	Discovered   int        `json:"discovered"`
	Processed    int        `json:"processed"`
	Failed       int        `json:"failed"`
	ErrorSummary *string    `json:"error_summary,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// JobLogEntry is an append-only log line attached to a run.
type JobLogEntry struct {
	ID       int64     `json:"id"`
	JobRunID string    `json:"job_run_id"`
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	Recorded time.Time `json:"recorded_at"`
}
