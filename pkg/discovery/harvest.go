package discovery

import (
	"bytes"
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/parse"
	"aeo-audit/pkg/process"
	"aeo-audit/pkg/queue"
)

// harvest walks the site breadth-first from the homepage, returning every in-scope,
// robots-allowed URL seen within BFSMaxDepth. Pages at the depth limit are recorded without
// being fetched, and at most BFSMaxPages pages are fetched.
func (e *Engine) harvest(ctx context.Context, s *site) []string {
	frontier := queue.NewFrontier()
	frontier.Add(queue.Item{URL: s.root, Depth: 0}, 0)

	var urls []string
	fetched := 0

	for fetched < e.cfg.BFSMaxPages && ctx.Err() == nil {
		item, ok := frontier.Pop()
		if !ok {
			break
		}
		if item.Depth >= e.cfg.BFSMaxDepth && item.Depth > 0 {
			continue
		}
		u, err := url.Parse(item.URL)
		if err != nil || !s.allowed(u) {
			continue
		}

		resp := e.fetchPage(ctx, s, item.URL)
		fetched++
		if resp == nil {
			continue
		}
		urls = appendNew(urls, item.URL)
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			continue
		}
		for _, link := range process.ExtractLinks(doc, u, e.cfg.LinksPerPage) {
			lu, err := url.Parse(link)
			if err != nil || !s.allowed(lu) {
				continue
			}
			// shallow paths first, FAQ-like pages ahead of their depth peers
			priority := (item.Depth + 1) * 2
			if parse.IsPriorityPath(lu.Path) {
				priority--
			}
			if frontier.Add(queue.Item{URL: link, Depth: item.Depth + 1}, priority) {
				urls = appendNew(urls, link)
			}
		}
	}

	e.log.WithFields(logrus.Fields{"fetched": fetched, "urls": len(urls)}).Debug("Link harvesting finished")
	return urls
}

// fetchPage returns the HTML response for pageURL or nil. The homepage reuses the resolving fetch.
func (e *Engine) fetchPage(ctx context.Context, s *site, pageURL string) *fetch.Response {
	if pageURL == s.root && s.home != nil {
		if s.home.IsHTML() {
			return s.home
		}
		return nil
	}
	if err := e.wait(ctx, s); err != nil {
		return nil
	}
	resp, err := e.fetcher.Get(ctx, pageURL, e.cfg.FetchTimeout, maxPageBytes)
	if err != nil {
		e.log.WithField("url", pageURL).Debugf("Harvest fetch failed: %v", err)
		return nil
	}
	if !resp.IsHTML() {
		return nil
	}
	return resp
}
