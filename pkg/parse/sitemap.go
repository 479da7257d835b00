package parse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"aeo-audit/pkg/utils"
)

// XMLURL represents a <url> element in a sitemap
type XMLURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLURLSet represents a <urlset> element in a sitemap
type XMLURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []XMLURL `xml:"url"`
}

// XMLSitemap represents a <sitemap> element in a sitemap index file
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex represents a <sitemapindex> element
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}

// Sitemap is the parsed form of either a urlset or a sitemapindex document.
type Sitemap struct {
	IsIndex  bool
	URLs     []string // page locations, for a urlset
	Children []string // child sitemap locations, for an index
}

// ParseSitemap decodes a sitemap body. The root element decides whether it is an index.
func ParseSitemap(body []byte) (*Sitemap, error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, fmt.Errorf("%w: sitemap: %w", utils.ErrParsing, err)
	}

	switch root {
	case "sitemapindex":
		var idx XMLSitemapIndex
		if err := xml.Unmarshal(body, &idx); err != nil {
			return nil, fmt.Errorf("%w: sitemap index: %w", utils.ErrParsing, err)
		}
		sm := &Sitemap{IsIndex: true}
		for _, s := range idx.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				sm.Children = append(sm.Children, loc)
			}
		}
		return sm, nil
	case "urlset":
		var set XMLURLSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, fmt.Errorf("%w: urlset: %w", utils.ErrParsing, err)
		}
		sm := &Sitemap{}
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				sm.URLs = append(sm.URLs, loc)
			}
		}
		return sm, nil
	default:
		return nil, fmt.Errorf("%w: unexpected sitemap root element %q", utils.ErrParsing, root)
	}
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
