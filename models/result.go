package models

import "time"

// Outcome is the final classification of a candidate in a dedup pass.
type Outcome string

const (
	OutcomeNew           Outcome = "new"
	OutcomeMerged        Outcome = "merged"
	OutcomeHeldForReview Outcome = "held_for_review"
)

// MatchKind records how a candidate was matched to a catalog entry.
type MatchKind string

const (
	MatchNone  MatchKind = "none"
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
)

// Field provenance values used in MergeDecision.FieldSources.
const (
	SourceExisting  = "existing"
	SourceCandidate = "candidate"
)

// PriceChange describes a price movement detected while merging.
type PriceChange struct {
	Old     float64 `json:"old"`
	New     float64 `json:"new"`
	Percent float64 `json:"percent"`
}

// MergeDecision is the dedup verdict for one candidate.
type MergeDecision struct {
	Candidate        *Product          `json:"candidate"`
	Outcome          Outcome           `json:"outcome"`
	MatchKind        MatchKind         `json:"match_kind"`
	CatalogID        string            `json:"catalog_id,omitempty"`
	MatchedCatalogID string            `json:"matched_catalog_id,omitempty"`
	Similarity       float64           `json:"similarity,omitempty"`
	FieldSources     map[string]string `json:"field_sources,omitempty"`
	PriceChange      *PriceChange      `json:"price_change,omitempty"`
	Reason           string            `json:"reason,omitempty"`

	// Entry is the catalog entry as it stands after this decision. It is nil
	// for candidates held for review.
	Entry *CatalogEntry `json:"-"`
}

// Resolution is how a duplicate group was settled.
type Resolution string

const (
	ResolutionAutoMerged    Resolution = "auto_merged"
	ResolutionHeldForReview Resolution = "held_for_review"
)

// DuplicateGroup is a transient set of listings believed to describe the same
// product.
type DuplicateGroup struct {
	CatalogID  string       `json:"catalog_id"`
	Members    []ListingKey `json:"members"`
	Confidence float64      `json:"confidence"`
	Resolution Resolution   `json:"resolution"`
}

// RejectReason explains why a raw record was not admitted.
type RejectReason string

const (
	RejectMissingRequiredField RejectReason = "missing_required_field"
)

// Reject is a raw record that failed normalization.
type Reject struct {
	Index     int          `json:"index"`
	Retailer  string       `json:"retailer"`
	SourceURL string       `json:"source_url"`
	Reason    RejectReason `json:"reason"`
	Field     string       `json:"field"`
}

// BatchStatus reports whether a batch ran to completion.
type BatchStatus string

const (
	BatchComplete       BatchStatus = "complete"
	BatchPartialFailure BatchStatus = "partial_failure"
)

// BatchResult is the per-batch summary returned by the orchestrator. Every
// input record appears in exactly one of Rejected, Merged, New, ReviewQueue
// or Failed.
type BatchResult struct {
	Status      BatchStatus     `json:"status"`
	Accepted    []*Product      `json:"-"`
	Rejected    []Reject        `json:"rejected"`
	Merged      []MergeDecision `json:"merged"`
	New         []MergeDecision `json:"new"`
	ReviewQueue []MergeDecision `json:"review_queue"`
	Failed      []*Product      `json:"failed,omitempty"`
	Retryable   bool            `json:"retryable"`
	Provisional bool            `json:"provisional"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Decisions returns every decision in processing order buckets: new, merged,
// then review.
func (r *BatchResult) Decisions() []MergeDecision {
	out := make([]MergeDecision, 0, len(r.New)+len(r.Merged)+len(r.ReviewQueue))
	out = append(out, r.New...)
	out = append(out, r.Merged...)
	out = append(out, r.ReviewQueue...)
	return out
}

// Total is the number of input records accounted for.
func (r *BatchResult) Total() int {
	return len(r.Rejected) + len(r.Merged) + len(r.New) + len(r.ReviewQueue) + len(r.Failed)
}

// ScraperResult holds the overall result of a crawl.
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	RecordCount  int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}
