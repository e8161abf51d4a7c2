package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Techinsane-official/scrapper/models"
)

func sampleEntry(id, retailer, externalID, title string, tokens ...string) *models.CatalogEntry {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return &models.CatalogEntry{
		CatalogID: id,
		Product: &models.Product{
			CatalogID:    id,
			ExternalID:   externalID,
			Retailer:     retailer,
			SourceURL:    "https://" + retailer + ".example/" + externalID,
			Title:        title,
			CurrentPrice: models.Float(99.5),
			Availability: models.InStock,
			ScrapedAt:    at,
		},
		Listings: []models.Listing{{
			Retailer:     retailer,
			ExternalID:   externalID,
			CurrentPrice: models.Float(99.5),
			Availability: models.InStock,
			ScrapedAt:    at,
		}},
		TitleKey:    title,
		TitleTokens: tokens,
		UpdatedAt:   at,
	}
}

// stores runs the same behaviour against every Store implementation.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreFindByListing(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Upsert(ctx, sampleEntry("c-1", "amazon", "B0863TXGM3", "sony headphones", "sony", "headphon")))

			got, err := store.FindByListing(ctx, models.ListingKey{Retailer: "amazon", ExternalID: "B0863TXGM3"})
			require.NoError(t, err)
			assert.Equal(t, "c-1", got.CatalogID)
			assert.Equal(t, "c-1", got.Product.CatalogID)
			require.NotNil(t, got.Product.CurrentPrice)
			assert.Equal(t, 99.5, *got.Product.CurrentPrice)

			_, err = store.FindByListing(ctx, models.ListingKey{Retailer: "walmart", ExternalID: "B0863TXGM3"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreFindByTokens(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Upsert(ctx,
				sampleEntry("c-2", "walmart", "111111", "bose speaker", "bose", "speaker"),
				sampleEntry("c-1", "amazon", "B0863TXGM3", "sony headphones", "sony", "headphon"),
				sampleEntry("c-3", "target", "222222", "sony speaker", "sony", "speaker"),
			))

			got, err := store.FindByTokens(ctx, []string{"sony", "speaker"})
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, e := range got {
				ids[i] = e.CatalogID
			}
			assert.Equal(t, []string{"c-1", "c-2", "c-3"}, ids)

			none, err := store.FindByTokens(ctx, []string{"toaster"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreUpsertReplacesIndexes(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			entry := sampleEntry("c-1", "amazon", "B0863TXGM3", "sony headphones", "sony", "headphon")
			require.NoError(t, store.Upsert(ctx, entry))

			updated := entry.Clone()
			updated.TitleTokens = []string{"sony", "earbud"}
			updated.Listings = append(updated.Listings, models.Listing{Retailer: "walmart", ExternalID: "604342441"})
			require.NoError(t, store.Upsert(ctx, updated))

			stale, err := store.FindByTokens(ctx, []string{"headphon"})
			require.NoError(t, err)
			assert.Empty(t, stale)

			byWalmart, err := store.FindByListing(ctx, models.ListingKey{Retailer: "walmart", ExternalID: "604342441"})
			require.NoError(t, err)
			assert.Equal(t, "c-1", byWalmart.CatalogID)
			assert.Len(t, byWalmart.Listings, 2)

			all, err := store.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, sampleEntry("c-1", "amazon", "B0863TXGM3", "sony headphones", "sony")))

	got, err := store.FindByListing(ctx, models.ListingKey{Retailer: "amazon", ExternalID: "B0863TXGM3"})
	require.NoError(t, err)
	got.Product.Title = "mutated"
	*got.Product.CurrentPrice = 1

	again, err := store.FindByListing(ctx, models.ListingKey{Retailer: "amazon", ExternalID: "B0863TXGM3"})
	require.NoError(t, err)
	assert.Equal(t, "sony headphones", again.Product.Title)
	assert.Equal(t, 99.5, *again.Product.CurrentPrice)
}

func TestApplyKeepsLastSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := sampleEntry("c-1", "amazon", "B0863TXGM3", "sony headphones", "sony")
	second := first.Clone()
	second.Product.CurrentPrice = models.Float(80)

	decisions := []models.MergeDecision{
		{Outcome: models.OutcomeNew, CatalogID: "c-1", Entry: first},
		{Outcome: models.OutcomeHeldForReview},
		{Outcome: models.OutcomeMerged, CatalogID: "c-1", Entry: second},
	}
	require.NoError(t, Apply(ctx, store, decisions))

	got, err := store.FindByListing(ctx, models.ListingKey{Retailer: "amazon", ExternalID: "B0863TXGM3"})
	require.NoError(t, err)
	assert.Equal(t, 80.0, *got.Product.CurrentPrice)
	assert.Equal(t, 1, store.Len())
}
