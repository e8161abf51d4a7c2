package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Techinsane-official/scrapper/catalog"
	"github.com/Techinsane-official/scrapper/dedup"
	"github.com/Techinsane-official/scrapper/models"
	"github.com/Techinsane-official/scrapper/parser"
	"github.com/Techinsane-official/scrapper/quality"
)

// Outcome labels used for the records counter.
const (
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Orchestrator runs one batch through normalize, score and dedup.
type Orchestrator struct {
	normalizer *parser.Normalizer
	scorer     *quality.Scorer
	dedup      *dedup.Deduplicator
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// ErrNoDeduplicator is returned by Run when the orchestrator was built
// without a deduplicator.
var ErrNoDeduplicator = errors.New("pipeline: no deduplicator configured")

// NewOrchestrator wires the stages together. A nil scorer uses the default
// weights, a nil logger uses slog.Default and metrics may be nil. d is
// required; without it Run fails with ErrNoDeduplicator.
func NewOrchestrator(normalizer *parser.Normalizer, scorer *quality.Scorer, d *dedup.Deduplicator, metrics *Metrics, logger *slog.Logger) *Orchestrator {
	if scorer == nil {
		scorer = quality.DefaultScorer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if normalizer == nil {
		normalizer = parser.NewNormalizer(logger)
	}
	if metrics != nil && d != nil && d.Observe == nil {
		d.Observe = metrics.ObserveSimilarity
	}
	return &Orchestrator{
		normalizer: normalizer,
		scorer:     scorer,
		dedup:      d,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Run normalizes and scores every record in order and then runs a single
// dedup pass against cat. Every input lands in exactly one bucket of the
// result. On a catalog failure the result is returned together with the
// *dedup.PartialBatchFailure: decided buckets are provisional and the
// undecided candidates are listed in Failed.
func (o *Orchestrator) Run(ctx context.Context, raws []models.RawRecord, cat catalog.Reader) (*models.BatchResult, error) {
	if o.dedup == nil {
		return nil, ErrNoDeduplicator
	}
	start := o.now()
	candidates, rejected := o.normalizeSequential(stampBatch(raws, start))
	return o.reconcile(ctx, start, candidates, rejected, cat)
}

// RunPartitioned is Run with normalization fanned out across retailer
// partitions. Dedup still runs as one pass, so the result matches Run.
func (o *Orchestrator) RunPartitioned(ctx context.Context, raws []models.RawRecord, cat catalog.Reader) (*models.BatchResult, error) {
	if o.dedup == nil {
		return nil, ErrNoDeduplicator
	}
	start := o.now()
	raws = stampBatch(raws, start)

	partitions := make(map[string][]int)
	for i, raw := range raws {
		key := strings.ToLower(strings.TrimSpace(raw.Retailer))
		if key == "" {
			key = parser.RetailerFromURL(raw.SourceURL)
		}
		partitions[key] = append(partitions[key], i)
	}

	products := make([]*models.Product, len(raws))
	rejects := make([]*models.Reject, len(raws))
	var wg sync.WaitGroup
	for _, indexes := range partitions {
		wg.Add(1)
		go func(indexes []int) {
			defer wg.Done()
			for _, i := range indexes {
				products[i], rejects[i] = o.normalizeOne(i, raws[i])
			}
		}(indexes)
	}
	wg.Wait()

	var candidates []*models.Product
	var rejected []models.Reject
	for i := range raws {
		if rejects[i] != nil {
			rejected = append(rejected, *rejects[i])
			continue
		}
		candidates = append(candidates, products[i])
	}
	return o.reconcile(ctx, start, candidates, rejected, cat)
}

// stampBatch gives records without a scrape time the batch start time, so
// every such record in a batch carries the same stamp. raws is not modified.
func stampBatch(raws []models.RawRecord, at time.Time) []models.RawRecord {
	out := make([]models.RawRecord, len(raws))
	copy(out, raws)
	at = at.UTC()
	for i := range out {
		if out[i].ScrapedAt.IsZero() {
			out[i].ScrapedAt = at
		}
	}
	return out
}

func (o *Orchestrator) normalizeSequential(raws []models.RawRecord) ([]*models.Product, []models.Reject) {
	var candidates []*models.Product
	var rejected []models.Reject
	for i, raw := range raws {
		p, reject := o.normalizeOne(i, raw)
		if reject != nil {
			rejected = append(rejected, *reject)
			continue
		}
		candidates = append(candidates, p)
	}
	return candidates, rejected
}

func (o *Orchestrator) normalizeOne(index int, raw models.RawRecord) (*models.Product, *models.Reject) {
	p, err := o.normalizer.Normalize(raw)
	if err != nil {
		reject := &models.Reject{
			Index:     index,
			Retailer:  raw.Retailer,
			SourceURL: raw.SourceURL,
			Reason:    models.RejectMissingRequiredField,
		}
		var rejectErr *parser.RejectError
		if errors.As(err, &rejectErr) {
			reject.Field = rejectErr.Field
			reject.Reason = rejectErr.Reason()
		}
		o.logger.Warn("record rejected",
			slog.Int("index", index),
			slog.String("retailer", raw.Retailer),
			slog.String("source_url", raw.SourceURL),
			slog.Any("error", err),
		)
		return nil, reject
	}
	o.scorer.Apply(p)
	return p, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, start time.Time, candidates []*models.Product, rejected []models.Reject, cat catalog.Reader) (*models.BatchResult, error) {
	result := &models.BatchResult{
		Status:    models.BatchComplete,
		Accepted:  candidates,
		Rejected:  rejected,
		StartedAt: start,
	}
	dedup.SortCandidates(result.Accepted)

	decisions, err := o.dedup.Reconcile(ctx, candidates, cat)
	for _, d := range decisions {
		switch d.Outcome {
		case models.OutcomeNew:
			result.New = append(result.New, d)
		case models.OutcomeMerged:
			result.Merged = append(result.Merged, d)
		case models.OutcomeHeldForReview:
			result.ReviewQueue = append(result.ReviewQueue, d)
		}
	}

	var failure *dedup.PartialBatchFailure
	if errors.As(err, &failure) {
		result.Status = models.BatchPartialFailure
		result.Retryable = true
		result.Provisional = true
		result.Failed = failure.Pending
	} else if err != nil {
		result.Status = models.BatchPartialFailure
		result.Retryable = true
		result.Provisional = true
		result.Failed = candidates[len(decisions):]
	}
	result.FinishedAt = o.now()

	o.record(result)
	o.logger.Info("batch processed",
		slog.String("status", string(result.Status)),
		slog.Int("records", result.Total()),
		slog.Int("rejected", len(result.Rejected)),
		slog.Int("new", len(result.New)),
		slog.Int("merged", len(result.Merged)),
		slog.Int("review", len(result.ReviewQueue)),
		slog.Int("failed", len(result.Failed)),
		slog.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, err
}

func (o *Orchestrator) record(result *models.BatchResult) {
	o.metrics.AddRecords(outcomeRejected, len(result.Rejected))
	o.metrics.AddRecords(string(models.OutcomeNew), len(result.New))
	o.metrics.AddRecords(string(models.OutcomeMerged), len(result.Merged))
	o.metrics.AddRecords(string(models.OutcomeHeldForReview), len(result.ReviewQueue))
	o.metrics.AddRecords(outcomeFailed, len(result.Failed))
	o.metrics.ObserveBatch(result.FinishedAt.Sub(result.StartedAt))
}

// Admitted returns the products of a batch that were mapped to a catalog
// entry, with catalog ids filled in, ordered by catalog id and listing key.
// Candidates held for review are not included.
func Admitted(result *models.BatchResult) []*models.Product {
	out := make([]*models.Product, 0, len(result.New)+len(result.Merged))
	for _, group := range [][]models.MergeDecision{result.New, result.Merged} {
		for _, d := range group {
			if d.Candidate != nil {
				out = append(out, d.Candidate)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CatalogID != out[j].CatalogID {
			return out[i].CatalogID < out[j].CatalogID
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}
