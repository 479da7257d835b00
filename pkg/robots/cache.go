package robots

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/storage"
	"aeo-audit/pkg/utils"
)

const (
	keyPrefix     = "robots:"
	maxRobotsSize = 512 << 10
	// unfetchable robots.txt (network error, 5xx) is retried sooner than the normal TTL
	failureTTL = 5 * time.Minute
)

// Cache serves robots policies per origin, fetching on miss and storing parsed rules in a KV with a TTL.
type Cache struct {
	kv      storage.KV
	fetcher *fetch.Fetcher
	botName string
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
	now     func() time.Time
	log     *logrus.Entry
}

// NewCache creates a robots policy cache
func NewCache(kv storage.KV, fetcher *fetch.Fetcher, botName string, cfg config.RobotsConfig, log *logrus.Entry) *Cache {
	return &Cache{
		kv:      kv,
		fetcher: fetcher,
		botName: botName,
		ttl:     cfg.CacheTTL,
		timeout: cfg.FetchTimeout,
		now:     time.Now,
		log:     log.WithField("component", "robots"),
	}
}

// GetPolicy returns the policy for origin (scheme://host). It never fails: an absent or
// unfetchable robots.txt yields an allow-all policy. A caller whose ctx ends first gets a
// deny-all policy; the shared fetch keeps running for the other waiters.
func (c *Cache) GetPolicy(ctx context.Context, origin string) *models.RobotsPolicy {
	origin = strings.TrimSuffix(strings.ToLower(origin), "/")
	if ctx.Err() != nil {
		return DenyAll(c.now())
	}
	if p := c.cached(origin); p != nil {
		return p
	}

	// detached from the first caller so its cancellation cannot be cached as "unreachable"
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(origin, func() (interface{}, error) {
		if p := c.cached(origin); p != nil {
			return p, nil
		}
		p, ttl := c.fetch(fetchCtx, origin)
		c.store(origin, p, ttl)
		return p, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*models.RobotsPolicy)
	case <-ctx.Done():
		c.log.WithField("origin", origin).Debug("Caller gone before robots.txt resolved, denying")
		return DenyAll(c.now())
	}
}

// Allowed checks rawURL against its origin's policy. Unparseable URLs are not allowed.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	policy := c.GetPolicy(ctx, u.Scheme+"://"+u.Host)
	return IsAllowed(policy, PathOf(u))
}

// CrawlDelay returns the crawl delay the origin requests of this bot, or zero
func (c *Cache) CrawlDelay(ctx context.Context, origin string) time.Duration {
	return c.GetPolicy(ctx, origin).CrawlDelay
}

func (c *Cache) cached(origin string) *models.RobotsPolicy {
	raw, found, err := c.kv.Get(keyPrefix + origin)
	if err != nil {
		c.log.WithError(err).WithField("origin", origin).Warn("Robots cache read failed")
		return nil
	}
	if !found {
		return nil
	}
	var p models.RobotsPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		c.log.WithError(err).WithField("origin", origin).Warn("Discarding corrupt robots cache entry")
		return nil
	}
	if c.now().Sub(p.FetchedAt) >= c.ttl {
		return nil
	}
	return &p
}

func (c *Cache) store(origin string, p *models.RobotsPolicy, ttl time.Duration) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.kv.Set(keyPrefix+origin, raw, ttl); err != nil {
		c.log.WithError(err).WithField("origin", origin).Warn("Robots cache write failed")
	}
}

func (c *Cache) fetch(ctx context.Context, origin string) (*models.RobotsPolicy, time.Duration) {
	robotsLog := c.log.WithField("origin", origin)
	now := c.now()

	resp, err := c.fetcher.Get(ctx, origin+"/robots.txt", c.timeout, maxRobotsSize)
	if err != nil {
		code := utils.StatusCodeOf(err)
		if code >= 400 && code < 500 {
			robotsLog.WithField("status_code", code).Debug("No robots.txt, allowing all")
			return AllowAll(now), c.ttl
		}
		if fetch.IsNetworkError(err) {
			robotsLog.WithError(err).Warn("robots.txt unreachable, allowing all")
		} else {
			robotsLog.WithField("status_code", code).Warn("robots.txt server error, allowing all")
		}
		return AllowAll(now), min(failureTTL, c.ttl)
	}

	p := Parse(resp.Body, c.botName, now)
	robotsLog.WithFields(logrus.Fields{
		"group":       p.MatchedGroup,
		"disallow":    len(p.Disallow),
		"allow":       len(p.Allow),
		"crawl_delay": p.CrawlDelay,
		"sitemaps":    len(p.Sitemaps),
	}).Debug("Parsed robots.txt")
	return p, c.ttl
}
