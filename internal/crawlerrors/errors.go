// Package crawlerrors defines the typed error kinds shared by the extractor
// and the coordinator, following the ERROR HANDLING DESIGN disposition
// table: every kind except InvariantViolation is recovered locally by its
// caller.
package crawlerrors

import "fmt"

// Kind classifies a per-URL failure.
type Kind string

// Recognized error kinds.
const (
	KindNavigationFailure  Kind = "navigation_failure"
	KindRedirectEncountered Kind = "redirect_encountered"
	KindHTTPNotOK          Kind = "http_not_ok"
	KindMalformedXML       Kind = "malformed_xml"
	KindExtractionFailure  Kind = "extraction_failure"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindInvariantViolation Kind = "invariant_violation"
)

// CrawlerError wraps an underlying cause with a disposition kind and the
// URL it happened on.
type CrawlerError struct {
	Kind Kind
	URL  string
	Err  error
}

// New builds a CrawlerError.
func New(kind Kind, url string, err error) *CrawlerError {
	return &CrawlerError{Kind: kind, URL: url, Err: err}
}

func (e *CrawlerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *CrawlerError) Unwrap() error { return e.Err }

// Fatal reports whether this kind must abort the run per the propagation
// policy: only invariant violations are fatal.
func (e *CrawlerError) Fatal() bool { return e.Kind == KindInvariantViolation }
