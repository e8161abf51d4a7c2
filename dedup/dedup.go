// Package dedup reconciles normalized candidates against the catalog: exact
// listing matches, cross-retailer fuzzy matches and new entries.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/Techinsane-official/scrapper/catalog"
	"github.com/Techinsane-official/scrapper/models"
	"github.com/Techinsane-official/scrapper/quality"
)

// Defaults for Options.
const (
	DefaultAutoThreshold   = 0.90
	DefaultReviewThreshold = 0.75
	DefaultPriceTolerance  = 0.15
	DefaultStemCacheSize   = 4096
)

// catalogNamespace seeds deterministic catalog ids.
var catalogNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Techinsane-official/scrapper/catalog"))

// Options tunes matching.
type Options struct {
	AutoThreshold   float64 `mapstructure:"fuzzy_match_threshold_auto"`
	ReviewThreshold float64 `mapstructure:"fuzzy_match_threshold_review"`
	PriceTolerance  float64 `mapstructure:"price_tolerance_ratio"`
	StemCacheSize   int     `mapstructure:"stem_cache_size"`
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		AutoThreshold:   DefaultAutoThreshold,
		ReviewThreshold: DefaultReviewThreshold,
		PriceTolerance:  DefaultPriceTolerance,
		StemCacheSize:   DefaultStemCacheSize,
	}
}

// Validate checks thresholds are ordered and within range.
func (o Options) Validate() error {
	if o.AutoThreshold <= 0 || o.AutoThreshold > 1 {
		return fmt.Errorf("auto merge threshold must be in (0, 1], got %v", o.AutoThreshold)
	}
	if o.ReviewThreshold <= 0 || o.ReviewThreshold > o.AutoThreshold {
		return fmt.Errorf("review threshold must be in (0, %v], got %v", o.AutoThreshold, o.ReviewThreshold)
	}
	if o.PriceTolerance < 0 {
		return fmt.Errorf("price tolerance cannot be negative")
	}
	if o.StemCacheSize < 0 {
		return fmt.Errorf("stem cache size cannot be negative")
	}
	return nil
}

// Deduplicator assigns catalog ids. Passes against the same catalog must not
// run concurrently; callers serialize them.
type Deduplicator struct {
	opts    Options
	matcher *Matcher
	scorer  *quality.Scorer
	logger  *slog.Logger

	// Observe, when set, receives the best fuzzy similarity of every
	// candidate that had at least one title-index neighbour.
	Observe func(similarity float64)
}

// New builds a deduplicator. A nil scorer uses the default weights and a nil
// logger uses slog.Default.
func New(opts Options, scorer *quality.Scorer, logger *slog.Logger) (*Deduplicator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	matcher, err := NewMatcher(opts.StemCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create matcher: %w", err)
	}
	if scorer == nil {
		scorer = quality.DefaultScorer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{opts: opts, matcher: matcher, scorer: scorer, logger: logger}, nil
}

// Matcher exposes the tokenizer used for the title index.
func (d *Deduplicator) Matcher() *Matcher {
	return d.matcher
}

// CatalogID is the deterministic id given to the first listing of a product.
func CatalogID(key models.ListingKey) string {
	return uuid.NewSHA1(catalogNamespace, []byte(key.Retailer+"\x00"+key.ExternalID)).String()
}

// SortCandidates orders candidates by external id, retailer, scrape time,
// source URL, title, price and finally a digest of the whole product, so that
// a pass is independent of input order even when records share a scrape time.
func SortCandidates(candidates []*models.Product) {
	digests := make(map[*models.Product]string, len(candidates))
	for _, c := range candidates {
		digests[c] = contentDigest(c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ExternalID != b.ExternalID {
			return a.ExternalID < b.ExternalID
		}
		if a.Retailer != b.Retailer {
			return a.Retailer < b.Retailer
		}
		if !a.ScrapedAt.Equal(b.ScrapedAt) {
			return a.ScrapedAt.Before(b.ScrapedAt)
		}
		if a.SourceURL != b.SourceURL {
			return a.SourceURL < b.SourceURL
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if pa, pb := priceKey(a.CurrentPrice), priceKey(b.CurrentPrice); pa != pb {
			return pa < pb
		}
		return digests[a] < digests[b]
	})
}

// contentDigest hashes the JSON form of p. Map keys are marshalled in sorted
// order, so equal products always give equal digests.
func contentDigest(p *models.Product) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func priceKey(p *float64) float64 {
	if p == nil {
		return -1
	}
	return *p
}

// Reconcile decides, for every candidate, whether it merges into an existing
// entry, becomes a new entry or is held for review. The catalog is only read;
// the resulting entries are carried on the decisions for the caller to
// persist. Candidates are not modified.
//
// When the catalog fails, Reconcile returns the decisions made so far along
// with a *PartialBatchFailure naming the undecided candidates.
func (d *Deduplicator) Reconcile(ctx context.Context, candidates []*models.Product, cat catalog.Reader) ([]models.MergeDecision, error) {
	ordered := make([]*models.Product, 0, len(candidates))
	for _, c := range candidates {
		if c != nil {
			ordered = append(ordered, c)
		}
	}
	SortCandidates(ordered)

	view := newBatchView(cat)
	decisions := make([]models.MergeDecision, 0, len(ordered))
	for i, c := range ordered {
		if err := ctx.Err(); err != nil {
			return decisions, d.partial(decisions, ordered[i:], err)
		}
		decision, err := d.decide(ctx, c, view)
		if err != nil {
			return decisions, d.partial(decisions, ordered[i:], err)
		}
		d.logger.Debug("dedup decision",
			slog.String("retailer", c.Retailer),
			slog.String("external_id", c.ExternalID),
			slog.String("outcome", string(decision.Outcome)),
			slog.String("match", string(decision.MatchKind)),
			slog.String("catalog_id", decision.CatalogID),
			slog.Float64("similarity", decision.Similarity),
		)
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

func (d *Deduplicator) partial(decided []models.MergeDecision, pending []*models.Product, err error) error {
	failure := &PartialBatchFailure{
		Decided: len(decided),
		Pending: append([]*models.Product(nil), pending...),
		Err:     err,
	}
	d.logger.Warn("dedup pass interrupted",
		slog.Int("decided", failure.Decided),
		slog.Int("pending", len(failure.Pending)),
		slog.Any("error", err),
	)
	return failure
}

func (d *Deduplicator) decide(ctx context.Context, c *models.Product, view *batchView) (models.MergeDecision, error) {
	existing, err := view.byListing(ctx, c.Key())
	if err != nil {
		return models.MergeDecision{}, err
	}
	if existing != nil {
		return d.merge(c, existing, models.MatchExact, 1, view), nil
	}

	tokens := d.matcher.Tokens(c.Title)
	pool, err := view.byTokens(ctx, tokens)
	if err != nil {
		return models.MergeDecision{}, err
	}

	var auto, review *scored
	best := 0.0
	for _, e := range pool {
		if e.Product == nil || e.HasRetailer(c.Retailer) {
			continue
		}
		entryTokens := e.TitleTokens
		if len(entryTokens) == 0 && e.Product != nil {
			entryTokens = d.matcher.Tokens(e.Product.Title)
		}
		s := &scored{entry: e, similarity: Similarity(tokens, entryTokens)}
		best = max(best, s.similarity)
		if s.similarity >= d.opts.AutoThreshold && PriceWithin(c.CurrentPrice, e.Product.CurrentPrice, d.opts.PriceTolerance) {
			if auto.less(s) {
				auto = s
			}
		}
		if s.similarity >= d.opts.ReviewThreshold && review.less(s) {
			review = s
		}
	}
	if d.Observe != nil && len(pool) > 0 {
		d.Observe(best)
	}

	switch {
	case auto != nil:
		return d.merge(c, auto.entry, models.MatchFuzzy, auto.similarity, view), nil
	case review != nil:
		reason := ErrAmbiguousMatch.Error()
		if review.similarity >= d.opts.AutoThreshold {
			reason += ": price outside tolerance"
		}
		return models.MergeDecision{
			Candidate:        c.Clone(),
			Outcome:          models.OutcomeHeldForReview,
			MatchKind:        models.MatchFuzzy,
			MatchedCatalogID: review.entry.CatalogID,
			Similarity:       review.similarity,
			Reason:           reason,
		}, nil
	default:
		return d.create(c, tokens, view), nil
	}
}

// scored is a fuzzy match candidate.
type scored struct {
	entry      *models.CatalogEntry
	similarity float64
}

// less reports whether other should replace s: higher similarity wins and
// ties go to the smaller catalog id.
func (s *scored) less(other *scored) bool {
	if s == nil {
		return true
	}
	if other.similarity != s.similarity {
		return other.similarity > s.similarity
	}
	return other.entry.CatalogID < s.entry.CatalogID
}

func (d *Deduplicator) create(c *models.Product, tokens []string, view *batchView) models.MergeDecision {
	id := CatalogID(c.Key())
	product := c.Clone()
	product.CatalogID = id
	d.scorer.Apply(product)

	entry := &models.CatalogEntry{
		CatalogID:   id,
		Product:     product,
		Listings:    []models.Listing{listingFor(c)},
		TitleKey:    TitleKey(product.Title),
		TitleTokens: tokens,
		UpdatedAt:   c.ScrapedAt,
	}
	view.put(entry)

	candidate := c.Clone()
	candidate.CatalogID = id
	return models.MergeDecision{
		Candidate: candidate,
		Outcome:   models.OutcomeNew,
		MatchKind: models.MatchNone,
		CatalogID: id,
		Entry:     entry.Clone(),
	}
}

func (d *Deduplicator) merge(c *models.Product, existing *models.CatalogEntry, kind models.MatchKind, similarity float64, view *batchView) models.MergeDecision {
	base := existing.Product
	if base == nil {
		base = &models.Product{}
	}
	merged, sources, change := mergeProducts(base, c)
	merged.CatalogID = existing.CatalogID
	d.scorer.Apply(merged)

	entry := existing.Clone()
	entry.Product = merged
	entry.Listings = upsertListing(entry.Listings, listingFor(c))
	entry.TitleKey = TitleKey(merged.Title)
	entry.TitleTokens = d.matcher.Tokens(merged.Title)
	if c.ScrapedAt.After(entry.UpdatedAt) {
		entry.UpdatedAt = c.ScrapedAt
	}
	view.put(entry)

	candidate := c.Clone()
	candidate.CatalogID = existing.CatalogID
	return models.MergeDecision{
		Candidate:        candidate,
		Outcome:          models.OutcomeMerged,
		MatchKind:        kind,
		CatalogID:        existing.CatalogID,
		MatchedCatalogID: existing.CatalogID,
		Similarity:       similarity,
		FieldSources:     sources,
		PriceChange:      change,
		Entry:            entry.Clone(),
	}
}

func listingFor(p *models.Product) models.Listing {
	return models.Listing{
		Retailer:     p.Retailer,
		ExternalID:   p.ExternalID,
		SourceURL:    p.SourceURL,
		CurrentPrice: cloneFloat(p.CurrentPrice),
		Availability: p.Availability,
		ScrapedAt:    p.ScrapedAt,
	}
}

// upsertListing replaces the listing with the same key unless the stored one
// is newer, and keeps listings ordered by key.
func upsertListing(listings []models.Listing, l models.Listing) []models.Listing {
	out := make([]models.Listing, 0, len(listings)+1)
	replaced := false
	for _, cur := range listings {
		if cur.Key() == l.Key() {
			replaced = true
			if cur.ScrapedAt.After(l.ScrapedAt) {
				out = append(out, cur)
			} else {
				out = append(out, l)
			}
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// batchView overlays entries created or updated during the current pass on
// top of the catalog, so later candidates see earlier decisions.
type batchView struct {
	cat      catalog.Reader
	entries  map[string]*models.CatalogEntry
	listings map[models.ListingKey]string
}

func newBatchView(cat catalog.Reader) *batchView {
	return &batchView{
		cat:      cat,
		entries:  make(map[string]*models.CatalogEntry),
		listings: make(map[models.ListingKey]string),
	}
}

func (v *batchView) put(e *models.CatalogEntry) {
	v.entries[e.CatalogID] = e
	for _, l := range e.Listings {
		v.listings[l.Key()] = e.CatalogID
	}
}

func (v *batchView) byListing(ctx context.Context, key models.ListingKey) (*models.CatalogEntry, error) {
	if id, ok := v.listings[key]; ok {
		return v.entries[id], nil
	}
	e, err := v.cat.FindByListing(ctx, key)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", key, err)
	}
	if overlay, ok := v.entries[e.CatalogID]; ok {
		return overlay, nil
	}
	return e, nil
}

func (v *batchView) byTokens(ctx context.Context, tokens []string) ([]*models.CatalogEntry, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	found, err := v.cat.FindByTokens(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("find by title tokens: %w", err)
	}

	byID := make(map[string]*models.CatalogEntry, len(found))
	for _, e := range found {
		byID[e.CatalogID] = e
	}
	want := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		want[t] = struct{}{}
	}
	for id, e := range v.entries {
		if _, ok := byID[id]; ok {
			byID[id] = e
			continue
		}
		for _, t := range e.TitleTokens {
			if _, ok := want[t]; ok {
				byID[id] = e
				break
			}
		}
	}

	out := make([]*models.CatalogEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CatalogID < out[j].CatalogID })
	return out, nil
}

// GroupDecisions collects the transient duplicate groups of a pass: every
// catalog entry that received more than one listing and every review hold.
func GroupDecisions(decisions []models.MergeDecision) []models.DuplicateGroup {
	merged := make(map[string]*models.DuplicateGroup)
	var groups []models.DuplicateGroup
	for _, d := range decisions {
		switch d.Outcome {
		case models.OutcomeHeldForReview:
			groups = append(groups, models.DuplicateGroup{
				CatalogID:  d.MatchedCatalogID,
				Members:    []models.ListingKey{d.Candidate.Key()},
				Confidence: d.Similarity,
				Resolution: models.ResolutionHeldForReview,
			})
		case models.OutcomeMerged:
			if d.Entry == nil {
				continue
			}
			g, ok := merged[d.CatalogID]
			if !ok {
				g = &models.DuplicateGroup{CatalogID: d.CatalogID, Confidence: 1, Resolution: models.ResolutionAutoMerged}
				merged[d.CatalogID] = g
			}
			g.Members = g.Members[:0]
			for _, l := range d.Entry.Listings {
				g.Members = append(g.Members, l.Key())
			}
			if d.Similarity < g.Confidence {
				g.Confidence = d.Similarity
			}
		}
	}
	for _, g := range merged {
		if len(g.Members) > 1 {
			groups = append(groups, *g)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].CatalogID != groups[j].CatalogID {
			return groups[i].CatalogID < groups[j].CatalogID
		}
		return groups[i].Resolution < groups[j].Resolution
	})
	return groups
}
