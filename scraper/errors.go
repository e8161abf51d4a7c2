package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Techinsane-official/scrapper/adapters"
)

// Fetch failure kinds. A *FetchError matches its kind with errors.Is.
var (
	ErrTimeout     = errors.New("timeout")
	ErrConnection  = errors.New("connection")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not_found")
	ErrRateLimited = errors.New("rate_limited")
	ErrServer      = errors.New("server_error")
	ErrExtract     = errors.New("extract")
)

// FetchError describes a page that could not be turned into a record.
type FetchError struct {
	URL    string
	Status int
	Kind   error
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Kind, e.URL, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.URL, e.Status)
	}
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether another attempt may succeed. Timeouts,
// connection failures, 429 and 5xx responses are retryable.
func (e *FetchError) Retryable() bool {
	for _, kind := range []error{ErrTimeout, ErrConnection, ErrRateLimited, ErrServer} {
		if errors.Is(e.Kind, kind) {
			return true
		}
	}
	return false
}

var errOther = errors.New("other")

// classifyError maps a transport error or HTTP status to a *FetchError. It
// returns nil when there is nothing to classify.
func classifyError(url string, err error, statusCode int) error {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}
	fe := &FetchError{URL: url, Status: statusCode, Err: err}

	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Kind = ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Kind = ErrTimeout
	case errors.As(err, &opErr):
		fe.Kind = ErrConnection
	case errors.Is(err, adapters.ErrNoProduct), errors.Is(err, adapters.ErrNoAdapter):
		fe.Kind = ErrExtract
	case statusCode == http.StatusForbidden:
		fe.Kind = ErrForbidden
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		fe.Kind = ErrNotFound
	case statusCode == http.StatusTooManyRequests:
		fe.Kind = ErrRateLimited
	case statusCode >= http.StatusInternalServerError:
		fe.Kind = ErrServer
	default:
		fe.Kind = errOther
	}
	return fe
}

// errorTypeLabel returns the metrics label for a classified error.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	for _, kind := range []error{ErrTimeout, ErrConnection, ErrForbidden, ErrNotFound, ErrRateLimited, ErrServer, ErrExtract} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "other"
}
