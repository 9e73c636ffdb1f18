// Package model defines the record types shared by every crawler subsystem.
package model

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// URL wraps net/url.URL with the normalization rule from the data model:
// the fragment is stripped and scheme/host are compared case-folded.
type URL struct {
	inner *url.URL
}

// ParseURL parses rawURL and returns its normalized form.
func ParseURL(rawURL string) (URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return URL{}, err
	}
	return Normalize(URL{inner: u}), nil
}

// MustParseURL parses rawURL, panicking on error. Reserved for tests and
// compile-time-known constants.
func MustParseURL(rawURL string) URL {
	u, err := ParseURL(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}

// Normalize strips the fragment and lowercases scheme/host, leaving the rest
// of the URL untouched. Normalization is idempotent.
func Normalize(u URL) URL {
	if u.inner == nil {
		return u
	}
	cp := *u.inner
	cp.Scheme = strings.ToLower(cp.Scheme)
	cp.Host = strings.ToLower(cp.Host)
	cp.Fragment = ""
	cp.RawFragment = ""
	return URL{inner: &cp}
}

// String renders the normalized absolute URL.
func (u URL) String() string {
	if u.inner == nil {
		return ""
	}
	return u.inner.String()
}

// IsZero reports whether u carries no underlying URL.
func (u URL) IsZero() bool {
	return u.inner == nil
}

// Scheme returns the lowercased scheme.
func (u URL) Scheme() string {
	if u.inner == nil {
		return ""
	}
	return u.inner.Scheme
}

// Authority returns the lowercased host (including port, if any).
func (u URL) Authority() string {
	if u.inner == nil {
		return ""
	}
	return u.inner.Host
}

// Path returns the URL path.
func (u URL) Path() string {
	if u.inner == nil {
		return ""
	}
	return u.inner.Path
}

// PathAndQuery returns the path plus a leading "?" and the raw query, if any.
func (u URL) PathAndQuery() string {
	if u.inner == nil {
		return ""
	}
	if u.inner.RawQuery == "" {
		return u.inner.Path
	}
	return u.inner.Path + "?" + u.inner.RawQuery
}

// ResolveReference resolves ref (which may be relative) against u and
// returns the normalized absolute result.
func (u URL) ResolveReference(ref string) (URL, bool) {
	if u.inner == nil {
		return URL{}, false
	}
	parsedRef, err := url.Parse(ref)
	if err != nil {
		return URL{}, false
	}
	resolved := u.inner.ResolveReference(parsedRef)
	if !resolved.IsAbs() {
		return URL{}, false
	}
	return Normalize(URL{inner: resolved}), true
}

// Equal implements the "two URLs are equal iff their normalized forms are
// byte-equal" rule from the data model.
func (u URL) Equal(other URL) bool {
	return Normalize(u).String() == Normalize(other).String()
}

// MarshalJSON renders u as its normalized string form, so PageData records
// carry real URLs in the file and search sinks instead of an empty object.
func (u URL) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON parses a JSON string produced by MarshalJSON back into u.
// An empty string unmarshals to the zero URL.
func (u *URL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*u = URL{}
		return nil
	}
	parsed, err := ParseURL(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for contexts outside plain
// JSON encoding (map keys, query parameters, log fields).
func (u URL) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, the counterpart to
// MarshalText.
func (u *URL) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = URL{}
		return nil
	}
	parsed, err := ParseURL(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// PageLink is a single outbound link discovered on a page.
type PageLink struct {
	URL    URL
	Text   *string
	Follow bool
}

// RobotConfiguration is the merged index/follow directive pair for a page.
// The default when no directive is present is both true; see
// DefaultRobotConfiguration (the zero value is both false).
type RobotConfiguration struct {
	IndexPage   bool
	FollowLinks bool
}

// DefaultRobotConfiguration returns the {true, true} default.
func DefaultRobotConfiguration() RobotConfiguration {
	return RobotConfiguration{IndexPage: true, FollowLinks: true}
}

// PageData is the immutable record produced by the extractor for one page.
type PageData struct {
	CanonicalURL      URL
	MimeType          *string
	Content           *string
	Title             *string
	Description       *string
	Links             []PageLink
	Feeds             []URL
	Sitemaps          []URL
	MainElementTexts  []string
	Headers           []string
	Robots            *RobotConfiguration
	CrawledAt         time.Time
}

// Filter scopes a URL to a single authority + path prefix.
type Filter struct {
	Authority  string
	PathPrefix string
}

// Match implements the URL Filter contract from the component design:
// scheme is http/https, authority matches case-insensitively, and the
// path+query begins with the configured prefix (case-sensitive).
func (f Filter) Match(u URL) bool {
	scheme := strings.ToLower(u.Scheme())
	if scheme != "http" && scheme != "https" {
		return false
	}
	if !strings.EqualFold(u.Authority(), f.Authority) {
		return false
	}
	return strings.HasPrefix(u.PathAndQuery(), f.PathPrefix)
}

// FiltersFromRoot derives the filter set for a root URL: one filter for the
// root's own authority, and (unless the host is localhost or already
// www.-prefixed) a second filter for the www. variant, both sharing the
// root's directory as path prefix.
func FiltersFromRoot(root URL) []Filter {
	if root.IsZero() {
		return nil
	}
	prefix := directoryOf(root.Path())
	host := strings.ToLower(root.Authority())
	filters := []Filter{{Authority: host, PathPrefix: prefix}}

	bareHost := host
	if idx := strings.IndexByte(bareHost, ':'); idx >= 0 {
		bareHost = bareHost[:idx]
	}
	if bareHost == "localhost" || strings.HasPrefix(bareHost, "www.") {
		return filters
	}
	return append(filters, Filter{Authority: "www." + host, PathPrefix: prefix})
}

func directoryOf(p string) string {
	if p == "" {
		return "/"
	}
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[:idx+1]
	}
	return "/"
}

// CrawlerConfiguration is the top-level configuration for a single crawl run.
type CrawlerConfiguration struct {
	RootURLs            []URL
	Filters             []Filter
	DegreeOfParallelism int
}

// Matches reports whether u passes at least one configured filter.
func (c CrawlerConfiguration) Matches(u URL) bool {
	for _, f := range c.Filters {
		if f.Match(u) {
			return true
		}
	}
	return false
}
