package process

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"aeo-audit/pkg/parse"
)

// ExtractLinks returns up to limit unique normalized http(s) links from the document's anchors,
// in document order. Scope filtering is left to the caller.
func ExtractLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	if limit <= 0 {
		return nil
	}
	seen := make(map[string]struct{})
	links := make([]string, 0, limit)

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		normalized, _, ok := parse.ResolveAndNormalize(base, href)
		if !ok {
			return true
		}
		if _, dup := seen[normalized]; dup {
			return true
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
		return len(links) < limit
	})
	return links
}

// FilterInScope keeps links the crawl scope allows, preserving order
func FilterInScope(links []string, scope parse.Scope) []string {
	out := links[:0:0]
	for _, l := range links {
		if parse.ShouldCrawlURL(l, scope) {
			out = append(out, l)
		}
	}
	return out
}

// CountLinks tallies anchors pointing at the page's own site versus elsewhere
func CountLinks(doc *goquery.Document, base *url.URL) (internal, external int) {
	host := parse.RootHost(base.Host)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		_, abs, ok := parse.ResolveAndNormalize(base, href)
		if !ok {
			return
		}
		if strings.EqualFold(parse.RootHost(abs.Host), host) {
			internal++
		} else {
			external++
		}
	})
	return internal, external
}
