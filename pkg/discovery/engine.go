package discovery

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/parse"
	"aeo-audit/pkg/robots"
	"aeo-audit/pkg/utils"
)

const (
	maxSitemapBytes = 10 << 20
	maxPageBytes    = 2 << 20
)

// PolicySource supplies robots policies per origin
type PolicySource interface {
	GetPolicy(ctx context.Context, origin string) *models.RobotsPolicy
}

// Engine builds the initial, bounded frontier for an audit: sitemaps first, link harvesting as
// fallback, then priority ordering and a hard cap.
type Engine struct {
	fetcher *fetch.Fetcher
	robots  PolicySource
	limiter *fetch.RateLimiter
	cfg     config.DiscoveryConfig
	log     *logrus.Entry
}

// NewEngine creates a discovery engine
func NewEngine(fetcher *fetch.Fetcher, policies PolicySource, limiter *fetch.RateLimiter, cfg config.DiscoveryConfig, log *logrus.Entry) *Engine {
	return &Engine{
		fetcher: fetcher,
		robots:  policies,
		limiter: limiter,
		cfg:     cfg,
		log:     log.WithField("component", "discovery"),
	}
}

// site is the resolved crawl target shared by the sitemap and link-harvesting phases
type site struct {
	root   string   // normalized root URL after redirects
	rootU  *url.URL // parsed root
	origin string
	scope  parse.Scope
	policy *models.RobotsPolicy
	home   *fetch.Response // homepage response, nil when the resolving fetch failed
}

// allowed applies the crawl scope and robots policy to a normalized URL
func (s *site) allowed(u *url.URL) bool {
	return s.scope.Allows(u) && robots.IsAllowed(s.policy, robots.PathOf(u))
}

// Discover returns the prioritized seed URLs for rootURL. It never returns an empty list without
// an error wrapping utils.ErrNoURLsDiscovered.
func (e *Engine) Discover(ctx context.Context, rootURL string) ([]string, error) {
	s, err := e.resolve(ctx, rootURL)
	if err != nil {
		return nil, err
	}
	discLog := e.log.WithFields(logrus.Fields{"root": s.root, "locale_prefix": s.scope.LocalePrefix})

	urls := e.fromSitemaps(ctx, s)
	source := "sitemap"
	if len(urls) > 0 {
		if s.allowed(s.rootU) {
			urls = appendNew(urls, s.root)
		}
	} else {
		discLog.Info("No usable sitemap, falling back to link harvesting")
		urls = e.harvest(ctx, s)
		source = "bfs"
	}

	parse.SortByPriority(urls)
	if e.cfg.MaxURLs > 0 && len(urls) > e.cfg.MaxURLs {
		urls = urls[:e.cfg.MaxURLs]
	}
	if len(urls) == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrNoURLsDiscovered, s.root, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s", utils.ErrNoURLsDiscovered, s.root)
	}

	discLog.WithFields(logrus.Fields{"source": source, "count": len(urls)}).Info("Discovery complete")
	return urls, nil
}

// resolve follows redirects from rootURL to find the origin and locale the crawl is scoped to
func (e *Engine) resolve(ctx context.Context, rootURL string) (*site, error) {
	_, parsed, err := parse.ParseAndNormalize(parse.EnsureScheme(rootURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrNoURLsDiscovered, err)
	}

	s := &site{}
	resp, err := e.fetcher.Get(ctx, parsed.String(), e.cfg.FetchTimeout, maxPageBytes)
	if err == nil {
		if _, final, perr := parse.ParseAndNormalize(resp.URL); perr == nil {
			parsed = final
		}
		s.home = resp
	} else {
		e.log.WithField("url", parsed.String()).Warnf("Root fetch failed, discovering from the given URL: %v", err)
	}

	s.root = parse.NormalizeURL(parsed)
	s.rootU, _ = url.Parse(s.root)
	s.origin = parse.Origin(parsed)
	s.scope = parse.NewScope(s.rootU)
	s.policy = e.robots.GetPolicy(ctx, s.origin)
	if s.policy == nil {
		s.policy = robots.AllowAll(time.Now())
	}
	return s, nil
}

// wait applies the per-host politeness delay, raised to robots crawl-delay
func (e *Engine) wait(ctx context.Context, s *site) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx, s.rootU.Host, s.policy.CrawlDelay)
}

func appendNew(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
