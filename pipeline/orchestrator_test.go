package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/Techinsane-official/scrapper/catalog"
	"github.com/Techinsane-official/scrapper/dedup"
	"github.com/Techinsane-official/scrapper/models"
)

var batchTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func rawRecord(retailer, externalID, title string, price float64, at time.Time) models.RawRecord {
	return models.RawRecord{
		Retailer:  retailer,
		SourceURL: fmt.Sprintf("https://www.%s.com/item/%s", retailer, externalID),
		Fields: map[string]any{
			"external_id":  externalID,
			"title":        title,
			"price":        fmt.Sprintf("$%.2f", price),
			"availability": "In Stock",
		},
		ScrapedAt: at,
	}
}

func newOrchestrator(t testing.TB) *Orchestrator {
	t.Helper()
	d, err := dedup.New(dedup.DefaultOptions(), nil, nil)
	if err != nil {
		t.Fatalf("new deduplicator: %v", err)
	}
	return NewOrchestrator(nil, nil, d, NewMetrics(nil), nil)
}

// fakeBatch builds n records over a few retailers, with every fifth record
// re-scraping an earlier listing a day later.
func fakeBatch(faker *gofakeit.Faker, n int) []models.RawRecord {
	retailers := []string{"amazon", "walmart", "target", "bestbuy"}
	records := make([]models.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && i%5 == 0 {
			prev := records[i-5]
			again := rawRecord(prev.Retailer, prev.Fields["external_id"].(string), prev.Fields["title"].(string), faker.Price(5, 500), prev.ScrapedAt.Add(24*time.Hour))
			records = append(records, again)
			continue
		}
		retailer := retailers[faker.Number(0, len(retailers)-1)]
		records = append(records, rawRecord(retailer, fmt.Sprintf("SKU%05d", i), faker.ProductName(), faker.Price(5, 500), batchTime.Add(time.Duration(i)*time.Minute)))
	}
	return records
}

type decisionView struct {
	Listing   string
	Outcome   models.Outcome
	CatalogID string
	Matched   string
	Price     float64
}

func summarize(t *testing.T, result *models.BatchResult) string {
	t.Helper()
	var views []decisionView
	for _, d := range result.Decisions() {
		v := decisionView{Listing: d.Candidate.Key().String(), Outcome: d.Outcome, CatalogID: d.CatalogID, Matched: d.MatchedCatalogID}
		if d.Entry != nil && d.Entry.Product.CurrentPrice != nil {
			v.Price = *d.Entry.Product.CurrentPrice
		}
		views = append(views, v)
	}
	data, err := json.Marshal(views)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestOrchestratorBuckets(t *testing.T) {
	o := newOrchestrator(t)
	store := catalog.NewMemoryStore()

	raws := []models.RawRecord{
		rawRecord("amazon", "B0863TXGM3", "Sony WH-1000XM4 Wireless Headphones", 278, batchTime),
		{Retailer: "amazon", SourceURL: "https://www.amazon.com/dp/B000000001", Fields: map[string]any{"title": "   "}, ScrapedAt: batchTime},
		{Retailer: "amazon", Fields: map[string]any{"title": "No URL"}, ScrapedAt: batchTime},
		rawRecord("amazon", "B0863TXGM3", "Sony WH-1000XM4 Wireless Headphones", 248, batchTime.Add(time.Hour)),
	}

	result, err := o.Run(context.Background(), raws, store)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Status != models.BatchComplete {
		t.Fatalf("status = %s, want complete", result.Status)
	}
	if got := result.Total(); got != len(raws) {
		t.Fatalf("total = %d, want %d", got, len(raws))
	}
	if len(result.Rejected) != 2 || len(result.New) != 1 || len(result.Merged) != 1 || len(result.ReviewQueue) != 0 {
		t.Fatalf("buckets rejected=%d new=%d merged=%d review=%d", len(result.Rejected), len(result.New), len(result.Merged), len(result.ReviewQueue))
	}
	if result.Rejected[0].Index != 1 || result.Rejected[0].Field != "title" {
		t.Fatalf("first reject = %+v, want index 1 field title", result.Rejected[0])
	}
	if result.Rejected[1].Index != 2 || result.Rejected[1].Field != "source_url" {
		t.Fatalf("second reject = %+v, want index 2 field source_url", result.Rejected[1])
	}
	for _, r := range result.Rejected {
		if r.Reason != models.RejectMissingRequiredField {
			t.Fatalf("reject reason = %s", r.Reason)
		}
	}
	merged := result.Merged[0]
	if merged.PriceChange == nil || merged.PriceChange.New != 248 {
		t.Fatalf("price change = %+v, want new price 248", merged.PriceChange)
	}
	if merged.Entry.Product.QualityScore != 0.7 {
		t.Fatalf("quality = %v, want 0.7", merged.Entry.Product.QualityScore)
	}
}

func TestOrchestratorDeterministicUnderShuffle(t *testing.T) {
	faker := gofakeit.New(42)
	raws := fakeBatch(faker, 60)

	shuffled := make([]models.RawRecord, len(raws))
	copy(shuffled, raws)
	faker.ShuffleAnySlice(shuffled)

	first, err := newOrchestrator(t).Run(context.Background(), raws, catalog.NewMemoryStore())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	second, err := newOrchestrator(t).Run(context.Background(), shuffled, catalog.NewMemoryStore())
	if err != nil {
		t.Fatalf("run shuffled: %v", err)
	}

	if a, b := summarize(t, first), summarize(t, second); a != b {
		t.Fatalf("decisions differ under reordering:\n%s\n%s", a, b)
	}
	if first.Total() != len(raws) {
		t.Fatalf("total = %d, want %d", first.Total(), len(raws))
	}
}

func TestOrchestratorUnstampedRecordsIgnoreInputOrder(t *testing.T) {
	faker := gofakeit.New(3)
	raws := fakeBatch(faker, 30)
	for i := range raws {
		raws[i].ScrapedAt = time.Time{}
	}
	raws = append(raws,
		rawRecord("amazon", "B000000001", "Anker PowerCore 10000 Portable Charger", 100, time.Time{}),
		rawRecord("amazon", "B000000001", "Anker PowerCore 10000 Portable Charger", 200, time.Time{}),
	)

	shuffled := make([]models.RawRecord, len(raws))
	copy(shuffled, raws)
	faker.ShuffleAnySlice(shuffled)
	reversed := make([]models.RawRecord, len(raws))
	for i, raw := range raws {
		reversed[len(raws)-1-i] = raw
	}

	run := func(records []models.RawRecord, partitioned bool) string {
		o := newOrchestrator(t)
		o.now = func() time.Time { return batchTime }
		exec := o.Run
		if partitioned {
			exec = o.RunPartitioned
		}
		result, err := exec(context.Background(), records, catalog.NewMemoryStore())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		for _, d := range result.Decisions() {
			if !d.Candidate.ScrapedAt.Equal(batchTime) {
				t.Fatalf("candidate %s scraped at %v, want batch time", d.Candidate.Key(), d.Candidate.ScrapedAt)
			}
		}
		return summarize(t, result)
	}

	want := run(raws, false)
	for name, records := range map[string][]models.RawRecord{"shuffled": shuffled, "reversed": reversed} {
		if got := run(records, false); got != want {
			t.Fatalf("%s run differs:\n%s\n%s", name, want, got)
		}
		if got := run(records, true); got != want {
			t.Fatalf("%s partitioned run differs:\n%s\n%s", name, want, got)
		}
	}
	if !raws[0].ScrapedAt.IsZero() {
		t.Fatalf("input record was modified")
	}
}

func TestOrchestratorWithoutDeduplicator(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, NewMetrics(nil), nil)
	raws := []models.RawRecord{rawRecord("amazon", "B0863TXGM3", "Sony WH-1000XM4 Wireless Headphones", 278, batchTime)}

	if _, err := o.Run(context.Background(), raws, catalog.NewMemoryStore()); !errors.Is(err, ErrNoDeduplicator) {
		t.Fatalf("run = %v, want ErrNoDeduplicator", err)
	}
	if _, err := o.RunPartitioned(context.Background(), raws, catalog.NewMemoryStore()); !errors.Is(err, ErrNoDeduplicator) {
		t.Fatalf("run partitioned = %v, want ErrNoDeduplicator", err)
	}
}

func TestOrchestratorPartitionedMatchesSequential(t *testing.T) {
	raws := fakeBatch(gofakeit.New(7), 40)

	sequential, err := newOrchestrator(t).Run(context.Background(), raws, catalog.NewMemoryStore())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	partitioned, err := newOrchestrator(t).RunPartitioned(context.Background(), raws, catalog.NewMemoryStore())
	if err != nil {
		t.Fatalf("run partitioned: %v", err)
	}

	if a, b := summarize(t, sequential), summarize(t, partitioned); a != b {
		t.Fatalf("partitioned run differs:\n%s\n%s", a, b)
	}
}

func TestOrchestratorIdempotentReplay(t *testing.T) {
	raws := fakeBatch(gofakeit.New(11), 30)
	o := newOrchestrator(t)
	store := catalog.NewMemoryStore()

	first, err := o.Run(context.Background(), raws, store)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := catalog.Apply(context.Background(), store, first.Decisions()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	entries := store.Len()

	second, err := o.Run(context.Background(), raws, store)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(second.New) != 0 {
		t.Fatalf("replay created %d new entries", len(second.New))
	}
	if err := catalog.Apply(context.Background(), store, second.Decisions()); err != nil {
		t.Fatalf("apply replay: %v", err)
	}
	if store.Len() != entries {
		t.Fatalf("catalog size = %d after replay, want %d", store.Len(), entries)
	}
}

type brokenCatalog struct {
	*catalog.MemoryStore
}

func (brokenCatalog) FindByListing(context.Context, models.ListingKey) (*models.CatalogEntry, error) {
	return nil, errors.New("database is locked")
}

func TestOrchestratorPartialFailure(t *testing.T) {
	raws := []models.RawRecord{
		rawRecord("amazon", "A1", "Anker PowerCore 10000", 25, batchTime),
		rawRecord("walmart", "W1", "Anker PowerCore Slim", 27, batchTime),
		{Retailer: "target", Fields: map[string]any{"title": "missing url"}},
	}

	result, err := newOrchestrator(t).Run(context.Background(), raws, brokenCatalog{catalog.NewMemoryStore()})
	if !errors.Is(err, dedup.ErrCatalogUnavailable) {
		t.Fatalf("err = %v, want ErrCatalogUnavailable", err)
	}
	if result.Status != models.BatchPartialFailure || !result.Retryable || !result.Provisional {
		t.Fatalf("result flags = %s retryable=%v provisional=%v", result.Status, result.Retryable, result.Provisional)
	}
	if len(result.Failed) != 2 || len(result.Rejected) != 1 {
		t.Fatalf("failed=%d rejected=%d, want 2 and 1", len(result.Failed), len(result.Rejected))
	}
	if result.Total() != len(raws) {
		t.Fatalf("total = %d, want %d", result.Total(), len(raws))
	}
}
