package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Techinsane-official/scrapper/catalog"
	"github.com/Techinsane-official/scrapper/config"
	"github.com/Techinsane-official/scrapper/dedup"
	"github.com/Techinsane-official/scrapper/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when Close gives up waiting for the
	// worker to drain.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for queued batches.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Pipeline batches raw records, runs each batch through the orchestrator,
// commits the decisions to the catalog and writes admitted products. A
// single worker runs batches one at a time so dedup passes never overlap.
type Pipeline struct {
	ctx          context.Context
	orchestrator *Orchestrator
	catalog      catalog.ReadWriter
	writer       OutputWriter
	recordCh     chan models.RawRecord
	batchSize    int
	partitioned  bool
	logger       *slog.Logger

	sink func(*models.BatchResult)

	wg    sync.WaitGroup
	stats stats

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	startOnce    sync.Once
	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, orchestrator *Orchestrator, cat catalog.ReadWriter, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	buffer := cfg.PipelineBufferSize
	if buffer < 0 {
		buffer = 0
	}
	return &Pipeline{
		ctx:          ctx,
		orchestrator: orchestrator,
		catalog:      cat,
		writer:       writer,
		recordCh:     make(chan models.RawRecord, buffer),
		batchSize:    batchSize,
		partitioned:  cfg.PartitionByRetailer,
		logger:       orchestrator.logger,
		stats:        newStats(),
		shutdown:     make(chan struct{}),
	}
}

// SetSink registers a callback that receives every batch result. It must be
// called before Start.
func (p *Pipeline) SetSink(sink func(*models.BatchResult)) {
	p.sink = sink
}

// Start launches the batch worker. Calling it more than once has no effect.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.worker()
	})
}

// Process enqueues raw records for batching.
func (p *Pipeline) Process(records ...models.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting records, flushes the final partial batch and waits
// for the worker, giving up after the drain timeout.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.Err()
	case <-time.After(drainTimeout):
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
}

// Err returns the first fatal error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the batch counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				p.logger.Info("pipeline progress",
					slog.Int("batches", s.Batches),
					slog.Int("records", s.Records),
					slog.Int("new", s.New),
					slog.Int("merged", s.Merged),
					slog.Int("review", s.Review),
					slog.Int("rejected", s.Rejected),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.RawRecord, 0, p.batchSize)
	for record := range p.recordCh {
		batch = append(batch, record)
		if len(batch) >= p.batchSize {
			if err := p.runBatch(batch); err != nil {
				p.setErr(err)
				return
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := p.runBatch(batch); err != nil {
			p.setErr(err)
		}
	}
}

// runBatch processes one batch. A catalog read failure is not fatal: the
// batch is reported as a partial failure and nothing from it is committed.
// Commit and output failures stop the pipeline.
func (p *Pipeline) runBatch(batch []models.RawRecord) error {
	records := make([]models.RawRecord, len(batch))
	copy(records, batch)

	run := p.orchestrator.Run
	if p.partitioned {
		run = p.orchestrator.RunPartitioned
	}
	result, err := run(p.ctx, records, p.catalog)

	var failure *dedup.PartialBatchFailure
	switch {
	case err == nil:
		if err := catalog.Apply(p.ctx, p.catalog, result.Decisions()); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		if admitted := Admitted(result); len(admitted) > 0 {
			if err := p.writer.Write(admitted); err != nil {
				return fmt.Errorf("write batch: %w", err)
			}
		}
		if rw, ok := p.writer.(ReviewWriter); ok && len(result.ReviewQueue) > 0 {
			if err := rw.WriteReview(result.ReviewQueue); err != nil {
				return fmt.Errorf("write review queue: %w", err)
			}
		}
	case result != nil && errors.As(err, &failure):
		p.logger.Warn("batch not committed",
			slog.Int("records", len(records)),
			slog.Int("failed", len(result.Failed)),
			slog.Any("error", err),
		)
	default:
		return fmt.Errorf("run batch: %w", err)
	}

	p.stats.add(result)
	if p.sink != nil {
		p.sink(result)
	}
	return nil
}

func (p *Pipeline) enqueue(record models.RawRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.logger.Error("pipeline stopped", slog.Any("error", err))
	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

// Stats summarises what the pipeline has processed so far.
type Stats struct {
	Batches        int
	PartialBatches int
	Records        int
	New            int
	Merged         int
	Review         int
	Rejected       int
	Failed         int
	RejectsByField map[string]int
	PriceChanges   int
}

type stats struct {
	mu sync.Mutex
	s  Stats
}

func newStats() stats {
	return stats{s: Stats{RejectsByField: make(map[string]int)}}
}

func (st *stats) add(result *models.BatchResult) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.Batches++
	if result.Status == models.BatchPartialFailure {
		st.s.PartialBatches++
	}
	st.s.Records += result.Total()
	st.s.New += len(result.New)
	st.s.Merged += len(result.Merged)
	st.s.Review += len(result.ReviewQueue)
	st.s.Rejected += len(result.Rejected)
	st.s.Failed += len(result.Failed)
	for _, r := range result.Rejected {
		st.s.RejectsByField[r.Field]++
	}
	for _, d := range result.Merged {
		if d.PriceChange != nil {
			st.s.PriceChanges++
		}
	}
}

func (st *stats) snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.s
	out.RejectsByField = make(map[string]int, len(st.s.RejectsByField))
	for k, v := range st.s.RejectsByField {
		out.RejectsByField[k] = v
	}
	return out
}
