package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for batch processing.
type Metrics struct {
	RecordsTotal    *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
	MatchSimilarity prometheus.Histogram
}

// NewMetrics builds the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_records_total",
			Help: "Records processed by outcome.",
		},
		[]string{"outcome"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_batch_duration_seconds",
			Help:    "Time spent normalizing and deduplicating one batch.",
			Buckets: prometheus.DefBuckets,
		},
	)
	similarity := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_match_similarity",
			Help:    "Best fuzzy title similarity per candidate with index neighbours.",
			Buckets: []float64{0.25, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		},
	)

	if reg != nil {
		reg.MustRegister(records, duration, similarity)
	}

	return &Metrics{
		RecordsTotal:    records,
		BatchDuration:   duration,
		MatchSimilarity: similarity,
	}
}

// AddRecords adds n to the counter for outcome.
func (m *Metrics) AddRecords(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveBatch records how long a batch took.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

// ObserveSimilarity records a fuzzy match score.
func (m *Metrics) ObserveSimilarity(v float64) {
	if m == nil {
		return
	}
	m.MatchSimilarity.Observe(v)
}
