package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Techinsane-official/scrapper/catalog"
	"github.com/Techinsane-official/scrapper/config"
	"github.com/Techinsane-official/scrapper/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Product
	reviews     []models.MergeDecision
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(products []*models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.Product, len(products))
	copy(copyBatch, products)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) WriteReview(decisions []models.MergeDecision) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.reviews = append(mw.reviews, decisions...)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(products []*models.Product) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

func distinctRecords(n, offset int) []models.RawRecord {
	records := make([]models.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("B%09d", i+offset)
		records = append(records, rawRecord("amazon", id, "Kindle Paperwhite "+id, 139.99, batchTime))
	}
	return records
}

func TestPipelineCommitsAndReportsBatches(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 4
	writer := &mockWriter{}
	store := catalog.NewMemoryStore()

	var mu sync.Mutex
	var results []*models.BatchResult
	p := NewPipeline(context.Background(), newOrchestrator(t), store, writer, cfg)
	p.SetSink(func(r *models.BatchResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	p.Start()

	records := []models.RawRecord{
		rawRecord("amazon", "B0863TXGM3", "Sony Wireless Noise Cancelling Overear Headphones Black Bluetooth Microphone Alexa 30hr Battery", 278, batchTime),
		rawRecord("walmart", "604342441", "Sony Wireless Noise Cancelling Overear Headphones Black Bluetooth Microphone Alexa 30hr Battery Silver", 265, batchTime),
		rawRecord("amazon", "B07QXV6N1B", "Anker Portable Charger PowerCore", 39.99, batchTime),
		{Retailer: "amazon", Fields: map[string]any{"title": "no url"}},
		rawRecord("target", "54191097", "Anker Portable Charger PowerCore Slim", 41.50, batchTime),
	}
	if err := p.Process(records...); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	stats := p.Stats()
	if stats.Batches != 2 || stats.Records != 5 {
		t.Fatalf("stats = %+v, want 2 batches of 5 records", stats)
	}
	if stats.Rejected != 1 || stats.RejectsByField["source_url"] != 1 {
		t.Fatalf("rejects = %d %v", stats.Rejected, stats.RejectsByField)
	}
	if len(results) != 2 {
		t.Fatalf("sink received %d results, want 2", len(results))
	}
	if stats.Merged != 1 || stats.Review != 1 || stats.New != 2 {
		t.Fatalf("stats = %+v, want new=2 merged=1 review=1", stats)
	}
	if store.Len() != 2 {
		t.Fatalf("catalog entries = %d, want 2", store.Len())
	}
	if got := writer.totalWritten(); got != 3 {
		t.Fatalf("written products = %d, want 3", got)
	}
	if len(writer.reviews) != 1 || writer.reviews[0].Candidate.Retailer != "target" {
		t.Fatalf("review queue = %+v", writer.reviews)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), newOrchestrator(t), catalog.NewMemoryStore(), writer, cfg)
	p.Start()

	for _, record := range distinctRecords(65, 0) {
		if err := p.Process(record); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 7
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), newOrchestrator(t), catalog.NewMemoryStore(), writer, cfg)
	p.Start()

	if err := p.Process(distinctRecords(100, 200)...); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written products = %d, want 100", got)
	}
	if err := p.Process(distinctRecords(1, 0)...); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelinePartialFailureIsNotFatal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 2
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), newOrchestrator(t), brokenCatalog{catalog.NewMemoryStore()}, writer, cfg)
	p.Start()

	if err := p.Process(distinctRecords(4, 0)...); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	stats := p.Stats()
	if stats.PartialBatches != 2 || stats.Failed != 4 {
		t.Fatalf("stats = %+v, want 2 partial batches and 4 failed", stats)
	}
	if got := writer.totalWritten(); got != 0 {
		t.Fatalf("written products = %d, want 0", got)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), newOrchestrator(t), catalog.NewMemoryStore(), writer, cfg)
	p.Start()

	if err := p.Process(distinctRecords(1, 0)...); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
