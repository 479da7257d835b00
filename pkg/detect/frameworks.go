package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FrameworkSignature defines detection patterns for a client-side framework
type FrameworkSignature struct {
	Framework    Framework
	Attributes   []string // HTML attributes to look for (e.g., "ng-version")
	Selectors    []string // CSS selectors whose presence is a marker
	Scripts      []string // Script src patterns to look for
	HTMLPatterns []string // Substring patterns to look for in raw HTML
}

// Matches returns true if the document matches this framework's signature
func (sig *FrameworkSignature) Matches(doc *goquery.Document, htmlLower string) bool {
	for _, attr := range sig.Attributes {
		if doc.Find("["+attr+"]").Length() > 0 {
			return true
		}
	}

	for _, sel := range sig.Selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}

	for _, pattern := range sig.Scripts {
		found := false
		doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, _ := s.Attr("src")
			found = strings.Contains(src, pattern)
			return !found
		})
		if found {
			return true
		}
	}

	for _, pattern := range sig.HTMLPatterns {
		if strings.Contains(htmlLower, pattern) {
			return true
		}
	}

	return false
}

// frameworkSignatures contains markers for frameworks that ship a mostly empty HTML shell.
// Order matters: meta-frameworks come before the libraries they build on.
var frameworkSignatures = []FrameworkSignature{
	{
		Framework:    FrameworkNext,
		Selectors:    []string{"#__next", "script#__NEXT_DATA__"},
		Scripts:      []string{"/_next/static/"},
		HTMLPatterns: []string{"__next_data__", "self.__next_f"},
	},
	{
		Framework:    FrameworkNuxt,
		Selectors:    []string{"#__nuxt", "#__layout"},
		Scripts:      []string{"/_nuxt/"},
		HTMLPatterns: []string{"window.__nuxt__"},
	},
	{
		Framework:    FrameworkGatsby,
		Selectors:    []string{"#___gatsby"},
		HTMLPatterns: []string{"___gatsby", "gatsby-focus-wrapper"},
	},
	{
		Framework:    FrameworkAngular,
		Attributes:   []string{"ng-version", "ng-app"},
		Selectors:    []string{"app-root"},
		HTMLPatterns: []string{"ng-version="},
	},
	{
		Framework:    FrameworkVue,
		Attributes:   []string{"data-v-app", "data-server-rendered"},
		HTMLPatterns: []string{"__vue__", "vue.runtime"},
	},
	{
		Framework:    FrameworkSvelte,
		Scripts:      []string{"/_app/immutable/"},
		HTMLPatterns: []string{"__sveltekit", "svelte-"},
	},
	{
		Framework:    FrameworkReact,
		Attributes:   []string{"data-reactroot"},
		Scripts:      []string{"react.production", "react-dom"},
		HTMLPatterns: []string{"__react", "react-root"},
	},
}

// DetectFramework returns the first framework whose markers appear in the page
func DetectFramework(doc *goquery.Document, html string) Framework {
	htmlLower := strings.ToLower(html)
	for i := range frameworkSignatures {
		if frameworkSignatures[i].Matches(doc, htmlLower) {
			return frameworkSignatures[i].Framework
		}
	}
	return FrameworkUnknown
}
