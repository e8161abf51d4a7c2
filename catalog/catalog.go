// Package catalog holds deduplicated product entries and the indexes the
// deduplicator reads: listing identity and title tokens.
package catalog

import (
	"context"
	"errors"
	"sort"

	"github.com/Techinsane-official/scrapper/models"
)

// ErrNotFound is returned when no entry matches a lookup.
var ErrNotFound = errors.New("catalog: entry not found")

// Reader is the read side used during a dedup pass.
type Reader interface {
	// FindByListing returns the entry a retailer listing is mapped to.
	FindByListing(ctx context.Context, key models.ListingKey) (*models.CatalogEntry, error)
	// FindByTokens returns entries sharing at least one title token, ordered
	// by catalog id.
	FindByTokens(ctx context.Context, tokens []string) ([]*models.CatalogEntry, error)
}

// Writer persists entries produced by a dedup pass.
type Writer interface {
	Upsert(ctx context.Context, entries ...*models.CatalogEntry) error
}

// ReadWriter is what one dedup pass plus its commit needs.
type ReadWriter interface {
	Reader
	Writer
}

// Store is a readable and writable catalog.
type Store interface {
	ReadWriter
	All(ctx context.Context) ([]*models.CatalogEntry, error)
	Close() error
}

// Apply writes the final state of every entry touched by decisions. When one
// entry was touched several times only its last snapshot is written.
func Apply(ctx context.Context, w Writer, decisions []models.MergeDecision) error {
	latest := make(map[string]*models.CatalogEntry)
	for _, d := range decisions {
		if d.Entry == nil {
			continue
		}
		latest[d.Entry.CatalogID] = d.Entry
	}
	if len(latest) == 0 {
		return nil
	}

	entries := make([]*models.CatalogEntry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CatalogID < entries[j].CatalogID })
	return w.Upsert(ctx, entries...)
}
