// Package discovery turns provider-specific listings of published
// recordings into pending work items.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Record is one normalized candidate recording from a provider listing.
type Record struct {
	ExternalID  string
	Slug        string
	Title       string
	ScheduledAt time.Time
	PageURL     string
	MediaURL    string
}

// Provider produces candidate records for one region/branch source.
// Scraping details live behind this interface.
type Provider interface {
	Discover(ctx context.Context, daysBack int) ([]Record, error)
}

// Key identifies a source in the registry.
type Key struct {
	Region string
	Branch string
}

// Registry maps (region, branch) to providers. Entries are registered at
// startup; a missing entry is a configuration error, not a runtime one.
type Registry struct {
	providers map[Key]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[Key]Provider{}}
}

func (r *Registry) Register(region, branch string, p Provider) {
	r.providers[Key{Region: region, Branch: branch}] = p
}

// Resolve returns the provider for a source. The error it returns for an
// unknown source is a configuration failure, distinct from scraping errors.
func (r *Registry) Resolve(region, branch string) (Provider, error) {
	p, ok := r.providers[Key{Region: region, Branch: branch}]
	if !ok {
		return nil, fmt.Errorf("no discovery provider registered for %s/%s", region, branch)
	}
	return p, nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives the human-readable unique slug for an item.
func Slugify(region, branch, externalID, title string) string {
	parts := []string{region, branch, externalID, title}
	for i, p := range parts {
		p = slugStrip.ReplaceAllString(strings.ToLower(p), "-")
		parts[i] = strings.Trim(p, "-")
	}
	slug := strings.Join(parts, "-")
	if len(slug) > 120 {
		slug = strings.Trim(slug[:120], "-")
	}
	return slug
}
