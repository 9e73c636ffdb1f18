package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// innerText approximates the browser's innerText: it walks the selection's
// subtree collecting text nodes, skipping elements that are hidden via
// hidden attribute, display:none/visibility:hidden inline styles, or
// aria-hidden="true", and collapses runs of whitespace the way rendered
// text would.
func innerText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			collectText(n, &b)
		}
	})
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && isHidden(n) {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func isHidden(n *html.Node) bool {
	if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
		return true
	}
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "hidden":
			return true
		case "aria-hidden":
			if strings.EqualFold(strings.TrimSpace(attr.Val), "true") {
				return true
			}
		case "style":
			style := strings.ToLower(attr.Val)
			if strings.Contains(style, "display:none") ||
				strings.Contains(style, "display: none") ||
				strings.Contains(style, "visibility:hidden") ||
				strings.Contains(style, "visibility: hidden") {
				return true
			}
		}
	}
	return false
}
