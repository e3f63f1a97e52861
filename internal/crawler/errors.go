package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for the non-fetch failure classes.
var (
	// ErrInvalidURL marks a URL that cannot be parsed or normalized. It is
	// dropped and never retried.
	ErrInvalidURL = errors.New("invalid url")
	// ErrExtraction marks a page whose text could not be extracted.
	ErrExtraction = errors.New("extraction failed")
	// ErrPersistence marks a sink write failure.
	ErrPersistence = errors.New("persistence failed")
	// ErrCheckpoint marks a checkpoint read or write failure.
	ErrCheckpoint = errors.New("checkpoint failed")
	// ErrDuplicateContent is returned by sinks that reject already-seen text.
	ErrDuplicateContent = errors.New("duplicate content")
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout    FetchErrorKind = "timeout"
	FetchConnection FetchErrorKind = "connection"
	FetchHTTPStatus FetchErrorKind = "http_status"
)

// FetchError describes a failed fetch.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchHTTPStatus:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether a later attempt may succeed.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchTimeout, FetchConnection:
		return true
	case FetchHTTPStatus:
		return e.StatusCode >= 500 ||
			e.StatusCode == http.StatusRequestTimeout ||
			e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// NewStatusError builds a FetchError for a non-2xx response.
func NewStatusError(url string, status int) *FetchError {
	return &FetchError{URL: url, Kind: FetchHTTPStatus, StatusCode: status}
}

// NewTransportError classifies a transport level failure as timeout or connection.
func NewTransportError(url string, err error) *FetchError {
	kind := FetchConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = FetchTimeout
	}
	return &FetchError{URL: url, Kind: kind, Err: err}
}

// IsTransient reports whether err is a retryable fetch failure. Errors that
// are not FetchErrors are treated as connection failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidURL) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient()
	}
	return true
}
