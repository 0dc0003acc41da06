package documents

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Failure kinds reported by FetchError.
const (
	KindTimeout     = "timeout"
	KindConnection  = "connection"
	KindForbidden   = "forbidden"
	KindNotFound    = "not_found"
	KindRateLimited = "rate_limited"
	KindServer      = "server"
	KindOther       = "other"
)

// FetchError is a document download that failed after its retries.
type FetchError struct {
	URL    string
	Kind   string
	Status int
	Err    error
}

func (e FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Errorf("fetch %s (%s, status %d): %w", e.URL, e.Kind, e.Status, e.Err).Error()
	}
	return fmt.Errorf("fetch %s (%s): %w", e.URL, e.Kind, e.Err).Error()
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e FetchError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnection, KindRateLimited, KindServer:
		return true
	}
	return false
}

func classify(url string, err error, status int) FetchError {
	fe := FetchError{URL: url, Status: status, Err: err, Kind: KindOther}
	if fe.Err == nil {
		fe.Err = fmt.Errorf("http status %d", status)
	}

	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		fe.Kind = KindTimeout
	case errors.As(err, &opErr):
		fe.Kind = KindConnection
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		fe.Kind = KindForbidden
	case status == http.StatusNotFound || status == http.StatusGone:
		fe.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		fe.Kind = KindRateLimited
	case status >= http.StatusInternalServerError:
		fe.Kind = KindServer
	}
	return fe
}
