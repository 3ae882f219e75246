package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel causes carried in ValidationError.Err and DownloadError.Err.
var (
	ErrMalformedURL = errors.New("fetch: malformed url")
	ErrUnreachable  = errors.New("fetch: unreachable")
	ErrTooLarge     = errors.New("fetch: body too large")
)

// ValidationError reports that a URL failed the pre-flight probe.
type ValidationError struct {
	URL string

	// Status is the probe's HTTP status, or 0 when no response arrived.
	Status int

	Err error
}

func (e *ValidationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch: validate %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch: validate %s: %v", e.URL, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DownloadError reports a failed retrieval.
type DownloadError struct {
	URL string

	// Status is the HTTP status, or 0 for transport failures and timeouts.
	Status int

	// Body is the start of the error response body, for logs.
	Body string

	// RetryAfter is the server's requested delay, when it sent one.
	RetryAfter time.Duration

	Err error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("fetch: download %s: status %d: %s", e.URL, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("fetch: download %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch: download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// RateLimited reports whether the server answered 429.
func (e *DownloadError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// Retryable reports whether the same request may succeed later.
func (e *DownloadError) Retryable() bool {
	return e.RateLimited() || e.Status >= 500
}

// AsValidationError extracts *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var e *ValidationError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsDownloadError extracts *DownloadError from err.
//
//	if e, ok := fetch.AsDownloadError(err); ok && e.RateLimited() {
//	    time.Sleep(e.RetryAfter)
//	}
func AsDownloadError(err error) (*DownloadError, bool) {
	var e *DownloadError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form. Unparseable or past values yield 0.
func parseRetryAfter(h string, now time.Time) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
