// Package robots parses in-document indexing/follow directives: the
// X-Robots-Tag header, meta[name=robots] tags, and anchor rel attributes.
// It does not fetch or parse robots.txt from the origin server — that is
// explicitly out of scope for the core (see PURPOSE & SCOPE).
package robots

import (
	"strings"

	"github.com/coreindex/sitecrawler/internal/model"
)

// Directive is a single parsed token set: each field is nil when the source
// left that axis unstated.
type Directive struct {
	Index  *bool
	Follow *bool
}

var trueVal = true
var falseVal = false

// Parse tokenizes raw on whitespace and commas and interprets the
// recognized directive tokens (case-insensitive): index, noindex, follow,
// nofollow, none. Unknown tokens are ignored. "none" sets both axes false.
func Parse(raw string) Directive {
	var d Directive
	for _, tok := range splitTokens(raw) {
		switch strings.ToLower(tok) {
		case "index":
			setOnce(&d.Index, true)
		case "noindex":
			setOnce(&d.Index, false)
		case "follow":
			setOnce(&d.Follow, true)
		case "nofollow":
			setOnce(&d.Follow, false)
		case "none":
			setOnce(&d.Index, false)
			setOnce(&d.Follow, false)
		}
	}
	return d
}

func splitTokens(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

// setOnce stores val into *dst only if *dst is currently unset. This gives a
// single Parse() call first-token-wins semantics for repeated tokens like
// "index noindex", which mirrors the merge rule applied across sources.
func setOnce(dst **bool, val bool) {
	if *dst != nil {
		return
	}
	if val {
		*dst = &trueVal
	} else {
		*dst = &falseVal
	}
}

// Merge combines directives from multiple sources, in order, applying the
// rule that the first definite value for each axis wins; later occurrences
// never overwrite an axis that a prior source already set. Sources missing
// both axes default to {true, true}.
func Merge(directives ...Directive) model.RobotConfiguration {
	cfg := model.DefaultRobotConfiguration()
	var indexSet, followSet bool
	for _, d := range directives {
		if !indexSet && d.Index != nil {
			cfg.IndexPage = *d.Index
			indexSet = true
		}
		if !followSet && d.Follow != nil {
			cfg.FollowLinks = *d.Follow
			followSet = true
		}
		if indexSet && followSet {
			break
		}
	}
	return cfg
}

// LinkFollow implements the PageLink.follow conjunction rule: nofollow at
// either the page level or the link's own rel attribute wins.
func LinkFollow(pageFollow bool, relValue string) bool {
	if !pageFollow {
		return false
	}
	rel := Parse(relValue)
	if rel.Follow != nil && !*rel.Follow {
		return false
	}
	return true
}
