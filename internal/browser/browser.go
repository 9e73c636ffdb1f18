// Package browser defines the headless-browser collaborator contract used
// by the extractor: navigate a URL with JavaScript enabled, observe every
// response URL seen along the way (including redirects and sub-resources),
// and return the fully rendered document.
package browser

import (
	"context"
	"net/http"
	"time"
)

// NavigationTimeout is the ceiling on a single page load, per the extractor
// design: "Load a URL with a 60 s ceiling, waiting until network activity
// is idle."
const NavigationTimeout = 60 * time.Second

// NavigationResult is everything the extractor needs from one page load.
type NavigationResult struct {
	RequestedURL string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	HTML         string
	Title        string
	Body         []byte

	// ObservedURLs lists every redirect or navigation response URL seen
	// while loading the page (including the final document URL), so the
	// caller can mark them all visited even when extraction is skipped.
	ObservedURLs []string
}

// Browser is the headless-browser collaborator. Implementations must
// execute page JavaScript, must not ignore HTTPS errors, and must abort
// sub-resource requests for images, media, and fonts to reduce cost.
type Browser interface {
	// Navigate loads rawURL and blocks until network activity is idle or
	// NavigationTimeout elapses. A nil result with a nil error never
	// happens; callers distinguish "no response" via ErrNoResponse.
	Navigate(ctx context.Context, rawURL string) (*NavigationResult, error)

	// Close releases the browser's resources. Safe to call once per
	// Browser instance during shutdown.
	Close(ctx context.Context) error
}

// ErrNoResponse is returned when the browser never produced a document
// response for the requested navigation (NavigationFailure).
var ErrNoResponse = navigationError("no response received for navigation")

type navigationError string

func (e navigationError) Error() string { return string(e) }
