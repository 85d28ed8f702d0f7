// Package pipeline drives one scheduled ingestion run: recovery, discovery,
// queue selection, per-item execution, and run bookkeeping.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BashkirovN/MiniStateAffairs/internal/discovery"
	"github.com/BashkirovN/MiniStateAffairs/internal/models"
	"github.com/BashkirovN/MiniStateAffairs/internal/retry"
	"github.com/BashkirovN/MiniStateAffairs/internal/store"
	"github.com/BashkirovN/MiniStateAffairs/internal/telemetry"
	"github.com/BashkirovN/MiniStateAffairs/internal/transcribe"
)

// Store is the persistence surface the orchestrator depends on,
// implemented by *store.Store.
type Store interface {
	Ping(ctx context.Context) error
	UpsertDiscovered(ctx context.Context, item models.WorkItem) (models.WorkItem, error)
	Claim(ctx context.Context, id, target string, allowed []string, retryCeiling int) (*models.WorkItem, error)
	Finalize(ctx context.Context, id, target string, fields store.FinalizeFields, allowed []string) (*models.WorkItem, error)
	FindUnfinished(ctx context.Context, region, branch string, retryCeiling, limit int) ([]models.WorkItem, error)
	ResetStuck(ctx context.Context, region, branch string, olderThan time.Duration) (int64, error)
	GetItem(ctx context.Context, id string) (models.WorkItem, error)
	StartRun(ctx context.Context, region, branch string) (models.JobRun, error)
	FinishRun(ctx context.Context, runID, status string, errorSummary *string) error
	IncrementRunCounters(ctx context.Context, runID string, discovered, processed, failed int) error
	AppendRunLog(ctx context.Context, runID, level, message string) error
	UpsertTranscript(ctx context.Context, t models.Transcript) error
	GetTranscript(ctx context.Context, itemID string) (*models.Transcript, error)
}

// Transferer moves one source URL into blob storage.
type Transferer interface {
	Transfer(ctx context.Context, sourceURL, destKey string) (string, error)
}

// Signer exposes the blob-store pieces used outside the transfer stage.
type Signer interface {
	Ping(ctx context.Context) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ToolChecker probes the external fetch utility for the readiness check.
type ToolChecker interface {
	Version(ctx context.Context) (string, error)
}

// Options carries run tuning knobs.
type Options struct {
	RetryCeiling int
	StuckAfter   time.Duration
	QueueLimit   int
	PresignTTL   time.Duration
}

// Orchestrator executes runs. Items are processed sequentially within a
// run; concurrency across runs is arbitrated entirely by store claims.
type Orchestrator struct {
	store       Store
	registry    *discovery.Registry
	adapter     *discovery.Adapter
	transferer  Transferer
	signer      Signer
	transcriber transcribe.Provider
	tool        ToolChecker
	opts        Options
	log         *zap.Logger
}

func New(st Store, registry *discovery.Registry, transferer Transferer, signer Signer, transcriber transcribe.Provider, tool ToolChecker, opts Options, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = 5
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 6 * time.Hour
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = 100
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	return &Orchestrator{
		store:       st,
		registry:    registry,
		adapter:     discovery.NewAdapter(st, log),
		transferer:  transferer,
		signer:      signer,
		transcriber: transcriber,
		tool:        tool,
		opts:        opts,
		log:         log,
	}
}

// ObjectKey is the deterministic destination key for an item's media.
func ObjectKey(item models.WorkItem) string {
	return fmt.Sprintf("media/%s/%s/%s.mp4", item.Region, item.SourceBranch, item.Slug)
}

// Run executes one full pipeline pass for a region/branch pair.
func (o *Orchestrator) Run(ctx context.Context, region, branch string, daysBack int) error {
	log := o.log.With(zap.String("region", region), zap.String("branch", branch))

	if err := o.checkReadiness(ctx, log); err != nil {
		return err
	}

	run, err := o.store.StartRun(ctx, region, branch)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	rlog := telemetry.NewRunLogger(run.ID, o.store, log.With(zap.String("run_id", run.ID)))

	var itemsFailed int
	runErr := o.execute(ctx, rlog, run.ID, region, branch, daysBack, &itemsFailed)

	status := models.RunStatusCompleted
	var summary *string
	switch {
	case runErr != nil:
		status = models.RunStatusFailed
		s := runErr.Error()
		summary = &s
	case itemsFailed > 0:
		status = models.RunStatusCompletedWithErrors
	}
	if err := o.store.FinishRun(ctx, run.ID, status, summary); err != nil {
		log.Error("failed to finalize run record", zap.Error(err))
	}
	return runErr
}

// checkReadiness verifies downstream dependencies before any work starts.
// Store, blob storage, and the fetch utility are critical; the
// transcription provider only degrades the run.
func (o *Orchestrator) checkReadiness(ctx context.Context, log *zap.Logger) error {
	if err := o.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	if err := o.signer.Ping(ctx); err != nil {
		return fmt.Errorf("blob storage unreachable: %w", err)
	}
	if o.tool != nil {
		if _, err := o.tool.Version(ctx); err != nil {
			return fmt.Errorf("fetch utility unavailable: %w", err)
		}
	}
	if o.transcriber != nil {
		if err := o.transcriber.Ready(ctx); err != nil {
			log.Warn("transcription provider not ready, transfers will proceed and transcriptions will retry per item", zap.Error(err))
		}
	}
	return nil
}

// execute performs the body of a run. Errors it returns are run-fatal;
// per-item failures are contained and counted.
func (o *Orchestrator) execute(ctx context.Context, rlog *telemetry.RunLogger, runID, region, branch string, daysBack int, itemsFailed *int) error {
	reset, err := o.store.ResetStuck(ctx, region, branch, o.opts.StuckAfter)
	if err != nil {
		return fmt.Errorf("stuck-item recovery: %w", err)
	}
	if reset > 0 {
		telemetry.StuckResets.Add(float64(reset))
	}
	rlog.Info(ctx, fmt.Sprintf("recovery reset %d stuck items", reset))

	provider, err := o.registry.Resolve(region, branch)
	if err != nil {
		return err
	}
	records, err := provider.Discover(ctx, daysBack)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	discovered, err := o.adapter.Sync(ctx, region, branch, records)
	if err != nil {
		return fmt.Errorf("discovery upsert: %w", err)
	}
	telemetry.ItemsDiscovered.Add(float64(discovered))
	if err := o.store.IncrementRunCounters(ctx, runID, discovered, 0, 0); err != nil {
		return err
	}
	rlog.Info(ctx, fmt.Sprintf("discovered %d items in a %d day window", discovered, daysBack))

	queue, err := o.store.FindUnfinished(ctx, region, branch, o.opts.RetryCeiling, o.opts.QueueLimit)
	if err != nil {
		return fmt.Errorf("read work queue: %w", err)
	}
	telemetry.QueueDepthGauge.Set(float64(len(queue)))
	rlog.Info(ctx, fmt.Sprintf("queue holds %d unfinished items", len(queue)))

	for _, item := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.safeProcess(ctx, rlog, item); err != nil {
			*itemsFailed++
			rlog.Error(ctx, fmt.Sprintf("item %s failed: %v", item.Slug, err))
			_ = o.store.IncrementRunCounters(ctx, runID, 0, 0, 1)
			continue
		}
		_ = o.store.IncrementRunCounters(ctx, runID, 0, 1, 0)
	}
	return nil
}

// safeProcess contains any failure, including panics, at the per-item
// boundary so the loop continues.
func (o *Orchestrator) safeProcess(ctx context.Context, rlog *telemetry.RunLogger, item models.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing item %s: %v", item.ID, r)
		}
	}()
	return o.processItem(ctx, rlog, item)
}

func (o *Orchestrator) processItem(ctx context.Context, rlog *telemetry.RunLogger, item models.WorkItem) error {
	current, skip, err := o.transferStage(ctx, rlog, item)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	return o.transcriptionStage(ctx, rlog, current)
}

// transferStage claims the item into downloading and streams the media into
// blob storage. skip=true means the item cannot advance in this run
// (claimed elsewhere or retry-exhausted), which is not a failure.
func (o *Orchestrator) transferStage(ctx context.Context, rlog *telemetry.RunLogger, item models.WorkItem) (models.WorkItem, bool, error) {
	claimed, err := o.store.Claim(ctx, item.ID, models.StatusDownloading,
		[]string{models.StatusPending, models.StatusFailed}, o.opts.RetryCeiling)
	if err != nil {
		return item, false, err
	}
	if claimed == nil {
		latest, err := o.store.GetItem(ctx, item.ID)
		if err != nil {
			rlog.Warn(ctx, fmt.Sprintf("item %s referenced by queue but missing from store, skipping", item.ID))
			return item, true, nil
		}
		if latest.StorageLocator != nil && pastTransfer(latest.Status) {
			return latest, false, nil
		}
		rlog.Info(ctx, fmt.Sprintf("item %s not claimable in status %s, skipping", latest.Slug, latest.Status))
		return latest, true, nil
	}

	locator, err := o.transferer.Transfer(ctx, claimed.MediaURL, ObjectKey(*claimed))
	if err != nil {
		return *claimed, false, o.routeFailure(ctx, rlog, claimed.ID, "transfer", err)
	}
	finalized, err := o.store.Finalize(ctx, claimed.ID, models.StatusDownloaded,
		store.FinalizeFields{StorageLocator: &locator, ClearError: true},
		[]string{models.StatusDownloading})
	if err != nil {
		return *claimed, false, err
	}
	if finalized == nil {
		rlog.Warn(ctx, fmt.Sprintf("item %s changed state during transfer, leaving as-is", claimed.Slug))
		return *claimed, true, nil
	}
	telemetry.Transfers.Inc()
	rlog.Info(ctx, fmt.Sprintf("item %s transferred to %s", finalized.Slug, locator))
	return *finalized, false, nil
}

func (o *Orchestrator) transcriptionStage(ctx context.Context, rlog *telemetry.RunLogger, item models.WorkItem) error {
	claimed, err := o.store.Claim(ctx, item.ID, models.StatusTranscribing,
		[]string{models.StatusDownloaded, models.StatusFailed}, o.opts.RetryCeiling)
	if err != nil {
		return err
	}
	if claimed == nil {
		return nil
	}

	existing, err := o.store.GetTranscript(ctx, claimed.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Body != "" {
		// A previous attempt already produced the transcript but lost the
		// race on the completion update. Short-circuit.
		if _, err := o.finishTranscription(ctx, claimed.ID); err != nil {
			return err
		}
		rlog.Info(ctx, fmt.Sprintf("item %s already transcribed, fast-tracked to completed", claimed.Slug))
		return nil
	}

	mediaURL, err := o.signer.PresignGet(ctx, ObjectKey(*claimed), o.opts.PresignTTL)
	if err != nil {
		return o.routeFailure(ctx, rlog, claimed.ID, "transcription", err)
	}
	result, err := o.transcriber.Transcribe(ctx, mediaURL)
	if err != nil {
		return o.routeFailure(ctx, rlog, claimed.ID, "transcription", err)
	}
	if err := o.store.UpsertTranscript(ctx, models.Transcript{
		WorkItemID: claimed.ID,
		Provider:   o.transcriber.Name(),
		Language:   result.Language,
		Body:       result.Text,
		Raw:        result.Raw,
	}); err != nil {
		return o.routeFailure(ctx, rlog, claimed.ID, "transcription", err)
	}
	if _, err := o.finishTranscription(ctx, claimed.ID); err != nil {
		return err
	}
	telemetry.Transcriptions.Inc()
	rlog.Info(ctx, fmt.Sprintf("item %s completed", claimed.Slug))
	return nil
}

func (o *Orchestrator) finishTranscription(ctx context.Context, id string) (*models.WorkItem, error) {
	return o.store.Finalize(ctx, id, models.StatusCompleted,
		store.FinalizeFields{ClearError: true},
		[]string{models.StatusTranscribing})
}

// routeFailure classifies the stage error and finalizes the item: retryable
// failures rest in failed with the retry count bumped; fatal ones move to
// permanent_failure and are never auto-claimed again. The finalize is
// conditioned on an active status so a concurrent terminal transition is
// not clobbered.
func (o *Orchestrator) routeFailure(ctx context.Context, rlog *telemetry.RunLogger, id, stage string, cause error) error {
	stageErr := retry.WrapStage(stage, cause)
	telemetry.StageFailures.WithLabelValues(stage).Inc()

	msg := stageErr.Error()
	fields := store.FinalizeFields{LastError: &msg}
	target := models.StatusFailed
	if stageErr.Retryable {
		fields.IncrementRetry = true
	} else {
		target = models.StatusPermanentFailure
		telemetry.PermanentFailures.Inc()
	}
	if _, err := o.store.Finalize(ctx, id, target, fields, models.ActiveStatuses); err != nil {
		rlog.Error(ctx, fmt.Sprintf("failed to record %s failure for item %s: %v", stage, id, err))
	}
	return stageErr
}

func pastTransfer(status string) bool {
	switch status {
	case models.StatusDownloaded, models.StatusTranscribing, models.StatusCompleted:
		return true
	default:
		return false
	}
}
