package process

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"aeo-audit/pkg/models"
	"aeo-audit/pkg/utils"
)

const (
	maxJSONLDBlockBytes = 4 << 10
	maxJSONLDBlocks     = 10
	maxMarkdownBytes    = 20 << 10
)

// Extraction is everything pulled from one page's HTML
type Extraction struct {
	Title       string
	H1          string
	Canonical   string
	SchemaTypes []string
	Signals     models.PageSignals
	Links       []string // normalized, unfiltered, capped
}

// ExtractOptions bounds extraction work
type ExtractOptions struct {
	LinkLimit int
	Chunker   ChunkerConfig
}

// Extract parses html and collects the metadata, structured data and content signals of a page.
// pageURL resolves relative canonical and link hrefs.
func Extract(html string, pageURL *url.URL, opts ExtractOptions) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: page html: %w", utils.ErrParsing, err)
	}

	ex := &Extraction{
		Title: collapse(doc.Find("title").First().Text()),
		H1:    collapse(doc.Find("h1").First().Text()),
	}

	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			ex.Canonical = pageURL.ResolveReference(ref).String()
		}
	}

	sig := &ex.Signals
	sig.MetaDescription = collapse(doc.Find("meta[name='description']").AttrOr("content", ""))
	sig.Lang = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))
	sig.OpenGraph = openGraph(doc)

	blocks, types := jsonLD(doc)
	sig.JSONLD = blocks
	ex.SchemaTypes = types
	doc.Find("[itemtype]").Each(func(_ int, s *goquery.Selection) {
		if t := schemaTypeFromURL(s.AttrOr("itemtype", "")); t != "" {
			ex.SchemaTypes = appendUnique(ex.SchemaTypes, t)
		}
	})
	sort.Strings(ex.SchemaTypes)
	for _, t := range ex.SchemaTypes {
		if t == "FAQPage" || t == "QAPage" {
			sig.HasFAQMarkup = true
		}
	}

	sig.InternalLinks, sig.ExternalLinks = CountLinks(doc, pageURL)
	ex.Links = ExtractLinks(doc, pageURL, opts.LinkLimit)

	content := MainContent(doc)
	markdown := ToMarkdown(content, pageURL.Scheme+"://"+pageURL.Host)
	text := VisibleText(content)

	sig.Headings = ExtractHeadings([]byte(markdown))
	sig.QuestionHeads = QuestionHeadings(sig.Headings)
	sig.WordCount = len(strings.Fields(text))
	sig.TokenCount = CountTokens(markdown)
	chunker := opts.Chunker
	if chunker.MaxChunkSize <= 0 {
		chunker = DefaultChunkerConfig()
	}
	if passages, err := SplitPassages(markdown, chunker); err == nil {
		sig.ChunkCount = len(passages)
		sig.AnswerPassages = AnswerReady(passages)
	}
	if text != "" {
		sig.ContentHash = utils.CalculateStringSHA256(text)
	}
	sig.Markdown = utils.Truncate(markdown, maxMarkdownBytes)

	return ex, nil
}

func openGraph(doc *goquery.Document) map[string]string {
	og := make(map[string]string)
	doc.Find("meta[property^='og:'], meta[name^='twitter:']").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", s.AttrOr("name", ""))
		if val := collapse(s.AttrOr("content", "")); key != "" && val != "" {
			if _, exists := og[key]; !exists {
				og[key] = val
			}
		}
	})
	if len(og) == 0 {
		return nil
	}
	return og
}

// jsonLD returns the raw blocks (truncated) and every @type found in them, including @graph members
func jsonLD(doc *goquery.Document) (blocks []string, types []string) {
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		if len(blocks) < maxJSONLDBlocks {
			blocks = append(blocks, utils.Truncate(raw, maxJSONLDBlockBytes))
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return
		}
		for _, t := range collectTypes(v) {
			types = appendUnique(types, t)
		}
	})
	return blocks, types
}

func collectTypes(v any) []string {
	var out []string
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, collectTypes(item)...)
		}
	case map[string]any:
		switch t := node["@type"].(type) {
		case string:
			out = append(out, t)
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		}
		if graph, ok := node["@graph"]; ok {
			out = append(out, collectTypes(graph)...)
		}
		if entity, ok := node["mainEntity"]; ok {
			out = append(out, collectTypes(entity)...)
		}
	}
	return out
}

func schemaTypeFromURL(itemtype string) string {
	itemtype = strings.TrimSpace(itemtype)
	if i := strings.LastIndexByte(itemtype, '/'); i >= 0 {
		itemtype = itemtype[i+1:]
	}
	return itemtype
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
