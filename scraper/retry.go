package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// retryManager re-queues failed URLs with exponential backoff. Timers are
// tracked so Stop can cancel everything still pending.
type retryManager struct {
	maxRetries int
	base       time.Duration
	ceiling    time.Duration
	metrics    *Metrics

	mu       sync.Mutex
	ctx      context.Context
	attempts map[string]int
	pending  map[string]*time.Timer
	total    int
	stopped  bool
}

func newRetryManager(maxRetries int, base, ceiling time.Duration, metrics *Metrics) *retryManager {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &retryManager{
		maxRetries: maxRetries,
		base:       base,
		ceiling:    ceiling,
		metrics:    metrics,
		ctx:        context.Background(),
		attempts:   make(map[string]int),
		pending:    make(map[string]*time.Timer),
	}
}

// Schedule queues another attempt for url, issued by calling retry. A
// positive hint, taken from a Retry-After header, replaces the computed
// backoff but is still capped. It reports false once the attempts for url are
// used up or the manager stopped.
func (rm *retryManager) Schedule(url string, retry func() error, hint time.Duration) bool {
	if rm.maxRetries <= 0 {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}
	attempt := rm.attempts[url]
	if attempt >= rm.maxRetries {
		return false
	}
	attempt++
	rm.attempts[url] = attempt
	rm.total++
	rm.metrics.incRetries()

	delay := rm.backoff(attempt)
	if hint > 0 {
		delay = rm.capped(hint)
	}
	if t, ok := rm.pending[url]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() { rm.fire(url, timer, retry) })
	rm.pending[url] = timer
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return rm.capped(rm.base << (attempt - 1))
}

func (rm *retryManager) capped(d time.Duration) time.Duration {
	if rm.ceiling > 0 && (d > rm.ceiling || d <= 0) {
		return rm.ceiling
	}
	return d
}

// fire runs retry and only then drops url from pending, so a caller polling
// Pending never sees a gap between the timer and the re-issued request.
func (rm *retryManager) fire(url string, timer *time.Timer, retry func() error) {
	rm.mu.Lock()
	stopped := rm.stopped || rm.ctx.Err() != nil
	rm.mu.Unlock()
	if !stopped {
		if err := retry(); err != nil {
			slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
		}
	}
	rm.mu.Lock()
	if rm.pending[url] == timer {
		delete(rm.pending, url)
	}
	rm.mu.Unlock()
}

// Stop cancels pending retries. Later Schedule calls return false.
func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.stopped = true
	for url, t := range rm.pending {
		t.Stop()
		delete(rm.pending, url)
	}
}

// Pending reports how many retries are waiting on their timer.
func (rm *retryManager) Pending() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.pending)
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.total
}

func (rm *retryManager) SetContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	rm.mu.Lock()
	rm.ctx = ctx
	rm.mu.Unlock()
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
