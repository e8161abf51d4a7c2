package scraper

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter keeps one token bucket per host so a slow retailer does not
// hold back requests to the others.
type hostLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newHostLimiter allows perSecond requests per host. Zero or less disables
// limiting.
func newHostLimiter(perSecond float64) *hostLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &hostLimiter{limit: limit, burst: 1, limiters: make(map[string]*rate.Limiter)}
}

func (h *hostLimiter) get(host string) *rate.Limiter {
	host = strings.ToLower(host)
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until a request to host may proceed or ctx is done.
func (h *hostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || h.limit == rate.Inf {
		return nil
	}
	return h.get(host).Wait(ctx)
}
