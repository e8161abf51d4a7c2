// Package scraper fetches retailer product pages with colly and hands the
// records extracted by the adapters registry to a sink.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/Techinsane-official/scrapper/adapters"
	"github.com/Techinsane-official/scrapper/config"
	"github.com/Techinsane-official/scrapper/models"
	"github.com/Techinsane-official/scrapper/pipeline"
)

// ErrNoStartURLs is returned by Run when neither URLs nor a URL file is set.
var ErrNoStartURLs = errors.New("scraper: no start urls")

// retryPoll is how often Run checks for retries still waiting on a timer
// once the collector is idle.
var retryPoll = 50 * time.Millisecond

// RecordSink receives raw records as pages are extracted.
// *pipeline.Pipeline implements it.
type RecordSink interface {
	Process(records ...models.RawRecord) error
}

// Scraper wraps the colly collector, the per-host limiter and retry logic.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	registry  *adapters.Registry
	limiter   *hostLimiter
	retry     *retryManager
	Metrics   *Metrics
	now       func() time.Time

	requestCount int64
	pageCount    int64
	recordCount  int64
	errorCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper configured from cfg. A nil registry uses
// adapters.Default().
func NewScraper(cfg *config.Config, registry *adapters.Registry) (*Scraper, error) {
	if registry == nil {
		registry = adapters.Default()
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Parallelism,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		registry:     registry,
		limiter:      newHostLimiter(cfg.RequestsPerSecond),
		Metrics:      NewMetrics(),
		now:          time.Now,
		errorsByType: make(map[string]int),
	}
	s.retry = newRetryManager(cfg.MaxRetries, cfg.RetryBackoff, cfg.RetryBackoffMax, s.Metrics)
	return s, nil
}

// Run crawls the configured start URLs and streams records into sink. It
// returns once every request, retry included, has finished or ctx is done.
func (s *Scraper) Run(ctx context.Context, sink RecordSink) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	urls, err := startURLs(s.cfg.URLs, s.cfg.URLsFile)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, ErrNoStartURLs
	}

	s.retry.SetContext(ctx)
	s.configureHandlers(ctx, sink)

	start := s.now()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.retry.Stop()
		case <-done:
		}
	}()

	for _, u := range urls {
		if err := s.collector.Visit(u); err != nil {
			s.recordError(u, err)
		}
	}

	s.wait(ctx)
	s.retry.Stop()
	s.collector.Wait()

	return &models.ScraperResult{
		StartTime:    start,
		EndTime:      s.now(),
		RecordCount:  int(atomic.LoadInt64(&s.recordCount)),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
		RetryCount:   s.retry.TotalRetries(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		PageCount:    int(atomic.LoadInt64(&s.pageCount)),
	}, nil
}

// wait blocks until the collector is idle with no retry timers left.
func (s *Scraper) wait(ctx context.Context) {
	for {
		s.collector.Wait()
		if s.retry.Pending() == 0 || ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryPoll):
		}
	}
}

func (s *Scraper) configureHandlers(ctx context.Context, sink RecordSink) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			waitStart := time.Now()
			if err := s.limiter.Wait(ctx, r.URL.Host); err != nil {
				r.Abort()
				return
			}
			s.Metrics.observeWait(time.Since(waitStart))

			r.Ctx.Put("start", time.Now())
			current := atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.incRequest("started")
			if current%50 == 0 {
				slog.Debug("scraper request progress",
					slog.Int64("requests", current),
					slog.Int64("records", atomic.LoadInt64(&s.recordCount)),
					slog.String("url", r.URL.String()),
				)
			}
		})

		s.collector.OnResponse(func(r *colly.Response) {
			s.Metrics.incRequest("completed")
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.observeDuration(time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			s.handleError(r, err)
		})

		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			s.handlePage(ctx, e, sink)
		})
	})
}

func (s *Scraper) handlePage(ctx context.Context, e *colly.HTMLElement, sink RecordSink) {
	if len(e.DOM.Nodes) == 0 {
		return
	}
	pageURL := e.Request.URL
	doc := goquery.NewDocumentFromNode(e.DOM.Nodes[0])

	rec, err := s.registry.Extract(doc, pageURL)
	if err == nil {
		s.emit(rec, sink)
		return
	}
	if errors.Is(err, adapters.ErrNoProduct) {
		if links, next := s.registry.Links(doc, pageURL); len(links) > 0 || next != "" {
			s.followListing(ctx, e.Request, links, next)
			return
		}
	}
	s.recordError(pageURL.String(), classifyError(pageURL.String(), err, e.Response.StatusCode))
}

func (s *Scraper) emit(rec models.RawRecord, sink RecordSink) {
	if rec.ScrapedAt.IsZero() {
		rec.ScrapedAt = s.now().UTC()
	}
	atomic.AddInt64(&s.recordCount, 1)
	s.Metrics.incRecords(rec.Retailer)
	if err := sink.Process(rec); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
		slog.Error("pipeline process error",
			slog.String("url", rec.SourceURL),
			slog.Any("error", err),
		)
	}
}

// followListing visits the product links of a results page and, while under
// the page budget, the next results page.
func (s *Scraper) followListing(ctx context.Context, req *colly.Request, links []string, next string) {
	page := atomic.AddInt64(&s.pageCount, 1)
	if ctx.Err() != nil {
		return
	}
	for _, link := range links {
		if err := req.Visit(link); err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
			slog.Debug("skip product link", slog.String("url", link), slog.Any("error", err))
		}
	}
	if next == "" || page >= int64(s.cfg.MaxPages) {
		return
	}
	if err := req.Visit(next); err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
		slog.Debug("skip next page", slog.String("url", next), slog.Any("error", err))
	}
}

func (s *Scraper) handleError(r *colly.Response, err error) {
	url := ""
	status := 0
	if r != nil {
		status = r.StatusCode
		if r.Request != nil && r.Request.URL != nil {
			url = r.Request.URL.String()
		}
	}
	classified := classifyError(url, err, status)
	if classified == nil {
		classified = err
	}

	var fe *FetchError
	if r != nil && r.Request != nil && errors.As(classified, &fe) && fe.Retryable() {
		var hint time.Duration
		if errors.Is(fe, ErrRateLimited) && r.Headers != nil {
			hint = retryAfter(*r.Headers, s.now())
		}
		if s.retry.Schedule(url, r.Request.Retry, hint) {
			s.countError(classified)
			slog.Warn("request failed, retry scheduled",
				slog.String("url", url),
				slog.String("category", errorTypeLabel(classified)),
				slog.Any("error", err),
			)
			return
		}
	}
	s.recordError(url, classified)
}

// recordError counts err and marks url as failed.
func (s *Scraper) recordError(url string, err error) {
	s.countError(err)
	s.mu.Lock()
	s.failedURLs = append(s.failedURLs, url)
	s.mu.Unlock()
	slog.Error("request error",
		slog.String("url", url),
		slog.String("category", errorTypeLabel(err)),
		slog.Any("error", err),
	)
}

func (s *Scraper) countError(err error) {
	atomic.AddInt64(&s.errorCount, 1)
	category := errorTypeLabel(err)
	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()
	s.Metrics.incError(category)
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
