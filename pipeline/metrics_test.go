package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AddRecords("new", 3)
	m.AddRecords("new", 2)
	m.AddRecords("rejected", 1)
	m.AddRecords("merged", 0)
	m.ObserveBatch(20 * time.Millisecond)
	m.ObserveSimilarity(0.8)

	if got := testutil.ToFloat64(m.RecordsTotal.WithLabelValues("new")); got != 5 {
		t.Fatalf("new records = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.RecordsTotal.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("rejected records = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.BatchDuration); got != 1 {
		t.Fatalf("batch duration series = %d, want 1", got)
	}
	if got, err := testutil.GatherAndCount(reg, "catalog_records_total"); err != nil || got != 2 {
		t.Fatalf("gathered record series = %d (%v), want 2", got, err)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.AddRecords("new", 1)
	m.ObserveBatch(time.Second)
	m.ObserveSimilarity(0.5)
}
