package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrFrontierRejected marks a URL the frontier refused to admit.
	ErrFrontierRejected = errors.New("frontier rejected url")
	// ErrSchedulerDenied marks a URL the scheduler will never fetch.
	ErrSchedulerDenied = errors.New("scheduler denied url")
	// ErrParse marks content that cannot be decoded as an HTML document.
	ErrParse = errors.New("parse content")
	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")
)

// FailureKind separates retryable from terminal fetch failures.
type FailureKind int

// Failure kinds understood by the scheduler's retry policy.
const (
	Transient FailureKind = iota + 1
	Permanent
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchError describes a failed fetch.
type FetchError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s failure: status %d", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s failure: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewStatusError classifies a non-2xx response.
func NewStatusError(url string, status int) *FetchError {
	kind := Permanent
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout {
		kind = Transient
	}
	return &FetchError{Kind: kind, URL: url, StatusCode: status}
}

// ClassifyFetchError wraps a transport error in a FetchError. Timeouts,
// cancellations and connection failures are transient; everything else,
// including DNS misses and TLS certificate problems, is permanent.
func ClassifyFetchError(url string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: classifyTransport(err), URL: url, Err: err}
}

func classifyTransport(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return Transient
		}
		return Permanent
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	return Permanent
}

// KindOf reports the failure kind of err. Scheduler denials and parse
// failures are permanent; unknown errors are treated as transient.
func KindOf(err error) FailureKind {
	var fe *FetchError
	switch {
	case errors.As(err, &fe):
		return fe.Kind
	case errors.Is(err, ErrSchedulerDenied), errors.Is(err, ErrParse):
		return Permanent
	default:
		return Transient
	}
}

// StatusOf returns the HTTP status carried by a FetchError, or 0.
func StatusOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
