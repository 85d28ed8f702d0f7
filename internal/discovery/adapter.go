package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BashkirovN/MiniStateAffairs/internal/models"
)

// ItemUpserter is the slice of the store the adapter needs.
type ItemUpserter interface {
	UpsertDiscovered(ctx context.Context, item models.WorkItem) (models.WorkItem, error)
}

// Adapter upserts normalized records as work items. Re-running discovery
// over the same window only refreshes descriptive fields.
type Adapter struct {
	store ItemUpserter
	log   *zap.Logger
}

func NewAdapter(store ItemUpserter, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{store: store, log: log}
}

// Sync writes records for one source and returns how many were upserted.
// Records without a media URL are not actionable and are skipped.
func (a *Adapter) Sync(ctx context.Context, region, branch string, records []Record) (int, error) {
	count := 0
	for _, rec := range records {
		if rec.ExternalID == "" {
			a.log.Warn("discovery record missing external id, skipping",
				zap.String("title", rec.Title))
			continue
		}
		if rec.MediaURL == "" {
			a.log.Warn("discovery record missing media url, skipping",
				zap.String("external_id", rec.ExternalID))
			continue
		}
		slug := rec.Slug
		if slug == "" {
			slug = Slugify(region, branch, rec.ExternalID, rec.Title)
		}
		_, err := a.store.UpsertDiscovered(ctx, models.WorkItem{
			Region:       region,
			SourceBranch: branch,
			ExternalID:   rec.ExternalID,
			Slug:         slug,
			Title:        rec.Title,
			ScheduledAt:  rec.ScheduledAt,
			PageURL:      rec.PageURL,
			MediaURL:     rec.MediaURL,
		})
		if err != nil {
			return count, fmt.Errorf("sync record %s: %w", rec.ExternalID, err)
		}
		count++
	}
	return count, nil
}
