package extractor

import (
	"bytes"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/model"
)

// parseAtomLinks implements the Atom dispatch rule: for every
// /atom:feed/atom:entry/atom:link[@rel='alternate'], resolve @href against
// the canonical URL. Elements are matched by local name since the Atom
// namespace is typically declared as the feed's default namespace; the
// namespace URI itself is not checked.
func (e *Extractor) parseAtomLinks(body []byte, canonical model.URL) []model.PageLink {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("malformed atom xml", zap.String("url", canonical.String()), zap.Error(err))
		return nil
	}
	nodes := xmlquery.Find(doc, "/*[local-name()='feed']/*[local-name()='entry']/*[local-name()='link'][@rel='alternate']")
	var out []model.PageLink
	for _, n := range nodes {
		href := n.SelectAttr("href")
		if href == "" {
			continue
		}
		resolved, ok := canonical.ResolveReference(href)
		if !ok {
			continue
		}
		out = append(out, model.PageLink{URL: resolved, Follow: true})
	}
	return out
}

// parseRSSLinks implements the RSS dispatch rule: for every
// /rss/channel/item/link, resolve the element text against the canonical
// URL.
func (e *Extractor) parseRSSLinks(body []byte, canonical model.URL) []model.PageLink {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("malformed rss xml", zap.String("url", canonical.String()), zap.Error(err))
		return nil
	}
	nodes := xmlquery.Find(doc, "/rss/channel/item/link")
	var out []model.PageLink
	for _, n := range nodes {
		text := n.InnerText()
		if text == "" {
			continue
		}
		resolved, ok := canonical.ResolveReference(text)
		if !ok {
			continue
		}
		out = append(out, model.PageLink{URL: resolved, Follow: true})
	}
	return out
}
