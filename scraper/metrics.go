package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the crawler collectors. Registry is shared with the rest of
// the process so one endpoint serves crawl and pipeline metrics.
type Metrics struct {
	Registry        *prometheus.Registry
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	LimiterWait     prometheus.Histogram
	Records         *prometheus.CounterVec
	Retries         prometheus.Counter
	Errors          *prometheus.CounterVec
}

// NewMetrics registers the crawler collectors on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "HTTP requests issued by the crawler, by phase.",
		}, []string{"phase"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "Latency of crawler requests.",
			Buckets: prometheus.DefBuckets,
		}),
		LimiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_wait_seconds",
			Help:    "Time requests spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_records_extracted_total",
			Help: "Raw records extracted from product pages, by retailer.",
		}, []string{"retailer"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Retry attempts scheduled.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Crawler errors by type.",
		}, []string{"error_type"}),
	}
	m.Registry.MustRegister(m.Requests, m.RequestDuration, m.LimiterWait, m.Records, m.Retries, m.Errors)
	return m
}

func (m *Metrics) incRequest(phase string) {
	if m != nil {
		m.Requests.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) observeDuration(d time.Duration) {
	if m != nil {
		m.RequestDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeWait(d time.Duration) {
	if m != nil {
		m.LimiterWait.Observe(d.Seconds())
	}
}

func (m *Metrics) incRecords(retailer string) {
	if m != nil {
		m.Records.WithLabelValues(retailer).Inc()
	}
}

func (m *Metrics) incRetries() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) incError(errorType string) {
	if m != nil {
		m.Errors.WithLabelValues(errorType).Inc()
	}
}
