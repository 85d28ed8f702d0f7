package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BashkirovN/MiniStateAffairs/internal/retry"
)

// ListingProvider reads a JSON listing endpoint publishing recent
// recordings, the common shape for government media portals that expose a
// machine-readable feed.
type ListingProvider struct {
	BaseURL string
	Client  *http.Client
	Limiter retry.Limiter
	Retry   retry.Options
}

type listingEntry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
	PageURL     string    `json:"page_url"`
	MediaURL    string    `json:"media_url"`
}

// Discover fetches the listing for the lookback window and normalizes it.
func (p *ListingProvider) Discover(ctx context.Context, daysBack int) ([]Record, error) {
	if daysBack <= 0 {
		daysBack = 7
	}
	resp, err := retry.Fetch(ctx, p.Client, p.Limiter, p.Retry, func() (*http.Request, error) {
		u, err := url.Parse(p.BaseURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("days", strconv.Itoa(daysBack))
		u.RawQuery = q.Encode()
		return http.NewRequest(http.MethodGet, u.String(), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()

	var entries []listingEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, Record{
			ExternalID:  e.ID,
			Title:       e.Title,
			ScheduledAt: e.ScheduledAt,
			PageURL:     e.PageURL,
			MediaURL:    e.MediaURL,
		})
	}
	return records, nil
}
