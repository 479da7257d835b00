package discovery

import (
	"bytes"
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/parse"
)

// sitemapCandidates lists robots Sitemap: entries first, then conventional locations
func sitemapCandidates(s *site) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, sm := range s.policy.Sitemaps {
		if strings.HasPrefix(sm, "http://") || strings.HasPrefix(sm, "https://") {
			add(sm)
		}
	}
	add(s.origin + "/sitemap.xml")
	if prefix := s.scope.LocalePrefix; prefix != "" {
		add(s.origin + s.scope.LocaleSegment + "/sitemap.xml")
		add(s.origin + "/sitemap-" + strings.TrimPrefix(prefix, "/") + ".xml")
	}
	add(s.origin + "/sitemap_index.xml")
	return out
}

// looksLikeSitemap accepts only bodies that carry a sitemap root element
func looksLikeSitemap(body []byte) bool {
	return bytes.Contains(body, []byte("<urlset")) || bytes.Contains(body, []byte("<sitemapindex"))
}

// fromSitemaps collects in-scope page URLs from up to MaxSitemaps valid sitemaps, expanding each
// index into at most MaxChildSitemaps children.
func (e *Engine) fromSitemaps(ctx context.Context, s *site) []string {
	var urls []string
	seen := make(map[string]bool)
	valid := 0

	collect := func(locs []string) bool {
		for _, loc := range locs {
			if e.cfg.MaxSitemapURLs > 0 && len(urls) >= e.cfg.MaxSitemapURLs {
				return false
			}
			normalized, u, err := parse.ParseAndNormalize(loc)
			if err != nil || seen[normalized] {
				continue
			}
			if !s.allowed(u) {
				continue
			}
			seen[normalized] = true
			urls = append(urls, normalized)
		}
		return e.cfg.MaxSitemapURLs <= 0 || len(urls) < e.cfg.MaxSitemapURLs
	}

	for _, candidate := range sitemapCandidates(s) {
		if valid >= e.cfg.MaxSitemaps || ctx.Err() != nil {
			break
		}
		sm := e.fetchSitemap(ctx, s, candidate)
		if sm == nil {
			continue
		}
		valid++

		more := true
		if sm.IsIndex {
			children := sm.Children
			if len(children) > e.cfg.MaxChildSitemaps {
				children = children[:e.cfg.MaxChildSitemaps]
			}
			for _, child := range children {
				childMap := e.fetchSitemap(ctx, s, child)
				if childMap == nil || childMap.IsIndex {
					continue
				}
				if more = collect(childMap.URLs); !more {
					break
				}
			}
		} else {
			more = collect(sm.URLs)
		}
		if !more {
			break
		}
	}

	e.log.WithFields(logrus.Fields{"valid_sitemaps": valid, "urls": len(urls)}).Debug("Sitemap discovery finished")
	return urls
}

// fetchSitemap returns nil for anything that is not a parseable sitemap
func (e *Engine) fetchSitemap(ctx context.Context, s *site, sitemapURL string) *parse.Sitemap {
	smLog := e.log.WithField("sitemap_url", sitemapURL)
	if err := e.wait(ctx, s); err != nil {
		return nil
	}
	resp, err := e.fetcher.Get(ctx, sitemapURL, e.cfg.FetchTimeout, maxSitemapBytes)
	if err != nil {
		smLog.Debugf("Sitemap fetch failed: %v", err)
		return nil
	}
	if !looksLikeSitemap(resp.Body) {
		smLog.Debug("Response is not a sitemap")
		return nil
	}
	sm, err := parse.ParseSitemap(resp.Body)
	if err != nil {
		smLog.Warnf("Sitemap parse failed: %v", err)
		return nil
	}
	if sm.IsIndex {
		smLog.Infof("Parsed as Sitemap Index, found %d references.", len(sm.Children))
	} else {
		smLog.Infof("Parsed as URL Set, found %d URLs.", len(sm.URLs))
	}
	return sm
}
