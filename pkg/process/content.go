package process

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// mainContentSelectors are tried in order; the first non-empty match is the page's main content
var mainContentSelectors = []string{"main", "article", "[role='main']", "#content", ".content"}

// noiseSelectors never contribute to what an answer engine would quote
const noiseSelectors = "script, style, noscript, template, svg, iframe, nav, header, footer, aside, form, " +
	"[aria-hidden='true'], .cookie-banner, #cookie-banner, .skip-link"

// MainContent returns a cleaned clone of the page's main content region, falling back to <body>
func MainContent(doc *goquery.Document) *goquery.Selection {
	var content *goquery.Selection
	for _, sel := range mainContentSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 && strings.TrimSpace(found.Text()) != "" {
			content = found.Clone()
			break
		}
	}
	if content == nil {
		content = doc.Find("body").First().Clone()
	}
	cleanupHTML(content)
	return content
}

// cleanupHTML removes chrome and anchor noise before markdown conversion
func cleanupHTML(content *goquery.Selection) {
	content.Find(noiseSelectors).Remove()

	content.Find("a.headerlink, a.permalink, a[title='Permalink to this heading']").Remove()
	content.Find("a").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if text == "¶" || text == "#" || (text == "" && strings.HasPrefix(href, "#")) {
			s.Remove()
		}
	})
}

// ToMarkdown converts a content selection to markdown. domain resolves relative links.
func ToMarkdown(content *goquery.Selection, domain string) string {
	converter := md.NewConverter(domain, true, nil)
	return strings.TrimSpace(converter.Convert(content))
}

// VisibleText is the whitespace-collapsed text of a selection
func VisibleText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}
