package config

import (
	"fmt"
	"strings"
	"time"

	"aeo-audit/pkg/utils"
)

// Default lists used when the config file leaves them empty.
var (
	DefaultBlockedPlatforms = []string{
		"app.hubspot.com", "app.salesforce.com", "login.salesforce.com", "app.slack.com",
		"docs.google.com", "drive.google.com", "mail.google.com", "outlook.office.com",
		"app.asana.com", "trello.com", "notion.so", "www.notion.so", "app.clickup.com",
		"linkedin.com", "www.linkedin.com", "facebook.com", "www.facebook.com",
		"instagram.com", "www.instagram.com", "x.com", "twitter.com",
	}

	DefaultRedirectTable = map[string]string{
		"fb.com":   "https://www.facebook.com/",
		"goo.gl":   "https://www.google.com/",
		"youtu.be": "https://www.youtube.com/",
	}

	DefaultCriticalPhrases = []string{
		"domain parked",
		"this domain is parked",
		"this domain is for sale",
		"buy this domain",
		"domain may be for sale",
		"account suspended",
		"this account has been suspended",
	}

	DefaultBroadPhrases = []string{
		"coming soon",
		"under construction",
		"website coming soon",
		"site is under maintenance",
		"default web page",
		"it works!",
		"welcome to nginx",
		"index of /",
	}
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	c.validateHTTPClientSettings()
	c.validateIdentity()
	warnings = append(warnings, c.validatePrecheck()...)
	c.validateRobots()
	c.validateDiscovery()
	warnings = append(warnings, c.validateRender()...)

	batchWarnings, err := c.validateBatch()
	warnings = append(warnings, batchWarnings...)
	if err != nil {
		return warnings, err
	}

	if err := c.validateScoring(); err != nil {
		return warnings, err
	}
	c.validateSweep()

	// Storage
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	switch c.Storage.Driver {
	case "sqlite", "pgx":
	case "postgres":
		c.Storage.Driver = "pgx"
	default:
		return warnings, fmt.Errorf("%w: storage.driver %q must be sqlite or pgx", utils.ErrConfigValidation, c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		if c.Storage.Driver == "pgx" {
			return warnings, fmt.Errorf("%w: storage.dsn is required for pgx", utils.ErrConfigValidation)
		}
		warnings = append(warnings, "storage.dsn is empty, defaulting to 'file:aeo-audit.db'")
		c.Storage.DSN = "file:aeo-audit.db"
	}

	// Server
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 8
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}

func (c *AppConfig) validateIdentity() {
	id := &c.Identity
	if id.BotName == "" {
		id.BotName = "AEOAuditBot"
	}
	if id.ContactURL == "" {
		id.ContactURL = "https://aeo-audit.dev/bot"
	}
	if id.UserAgent == "" {
		id.UserAgent = fmt.Sprintf("Mozilla/5.0 (compatible; %s/1.0; +%s)", id.BotName, id.ContactURL)
	}
	if id.HeaderName == "" {
		id.HeaderName = "X-AEO-Audit-Bot"
	}
	if id.HeaderValue == "" {
		id.HeaderValue = id.ContactURL
	}
	if id.AcceptLanguage == "" {
		id.AcceptLanguage = "en-US,en;q=0.9"
	}
}

func (c *AppConfig) validatePrecheck() (warnings []string) {
	p := &c.Precheck
	if p.Timeout <= 0 {
		p.Timeout = 15 * time.Second
	}
	if p.MaxRetries < 0 {
		warnings = append(warnings, "precheck.max_retries cannot be negative, setting to 0")
		p.MaxRetries = 0
	} else if p.MaxRetries == 0 && p.InitialRetryDelay == 0 {
		p.MaxRetries = 3
	}
	if p.InitialRetryDelay <= 0 {
		p.InitialRetryDelay = 1 * time.Second
	}
	if p.MaxRetryDelay <= 0 {
		p.MaxRetryDelay = 8 * time.Second
	}
	if p.InitialRetryDelay > p.MaxRetryDelay {
		warnings = append(warnings, fmt.Sprintf(
			"precheck.initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			p.InitialRetryDelay, p.MaxRetryDelay))
		p.InitialRetryDelay = p.MaxRetryDelay
	}
	if p.MinBodyBytes <= 0 {
		p.MinBodyBytes = 512
	}
	if len(p.BlockedPlatforms) == 0 {
		p.BlockedPlatforms = append([]string(nil), DefaultBlockedPlatforms...)
	}
	if p.RedirectTable == nil {
		p.RedirectTable = make(map[string]string, len(DefaultRedirectTable))
		for k, v := range DefaultRedirectTable {
			p.RedirectTable[k] = v
		}
	}
	if len(p.CriticalPhrases) == 0 {
		p.CriticalPhrases = append([]string(nil), DefaultCriticalPhrases...)
	}
	if len(p.BroadPhrases) == 0 {
		p.BroadPhrases = append([]string(nil), DefaultBroadPhrases...)
	}
	p.BlockedPlatforms = lowerAll(p.BlockedPlatforms)
	p.CriticalPhrases = lowerAll(p.CriticalPhrases)
	p.BroadPhrases = lowerAll(p.BroadPhrases)
	return warnings
}

func (c *AppConfig) validateRobots() {
	if c.Robots.CacheTTL <= 0 {
		c.Robots.CacheTTL = 24 * time.Hour
	}
	if c.Robots.FetchTimeout <= 0 {
		c.Robots.FetchTimeout = 5 * time.Second
	}
}

func (c *AppConfig) validateDiscovery() {
	d := &c.Discovery
	if d.FetchTimeout <= 0 {
		d.FetchTimeout = 5 * time.Second
	}
	if d.MaxSitemaps <= 0 {
		d.MaxSitemaps = 5
	}
	if d.MaxChildSitemaps <= 0 {
		d.MaxChildSitemaps = 3
	}
	if d.MaxSitemapURLs <= 0 {
		d.MaxSitemapURLs = 200
	}
	if d.MaxURLs <= 0 {
		d.MaxURLs = 30
	}
	if d.BFSMaxDepth <= 0 {
		d.BFSMaxDepth = 2
	}
	if d.BFSMaxPages <= 0 {
		d.BFSMaxPages = 25
	}
	if d.LinksPerPage <= 0 {
		d.LinksPerPage = 50
	}
	if d.DefaultDelay < 0 {
		d.DefaultDelay = 0
	}
}

func (c *AppConfig) validateRender() (warnings []string) {
	r := &c.Render
	if r.StaticTimeout <= 0 {
		r.StaticTimeout = 4 * time.Second
	}
	if r.RenderTimeout <= 0 {
		r.RenderTimeout = 8 * time.Second
	}
	if r.BrowserTimeout <= 0 {
		r.BrowserTimeout = 20 * time.Second
	}
	if r.Budget < 0 {
		warnings = append(warnings, "render.budget cannot be negative, setting to 0 (rendering disabled)")
		r.Budget = 0
	} else if r.Budget == 0 && c.RenderEnabled() {
		r.Budget = 3
	}
	if r.RenderFirstN <= 0 {
		r.RenderFirstN = 5
	}
	if r.SPATextThreshold <= 0 {
		r.SPATextThreshold = 200
	}
	if r.MaxHTMLBytes <= 0 {
		r.MaxHTMLBytes = 500_000
	}
	return warnings
}

func (c *AppConfig) validateBatch() (warnings []string, err error) {
	b := &c.Batch
	if b.TargetMinPages <= 0 {
		b.TargetMinPages = 40
	}
	if b.TargetMaxPages <= 0 {
		b.TargetMaxPages = 60
	}
	if b.TargetMinPages > b.TargetMaxPages {
		return warnings, fmt.Errorf("%w: batch.target_min_pages (%d) > target_max_pages (%d)",
			utils.ErrConfigValidation, b.TargetMinPages, b.TargetMaxPages)
	}
	if b.Concurrency <= 0 {
		b.Concurrency = 8
	}
	if b.PerRequestBudget <= 0 {
		b.PerRequestBudget = 22 * time.Second
	}
	if b.HardTime <= 0 {
		b.HardTime = 25 * time.Second
	}
	if b.PerRequestBudget > b.HardTime {
		warnings = append(warnings, fmt.Sprintf(
			"batch.per_request_budget (%v) > hard_time (%v), using hard_time", b.PerRequestBudget, b.HardTime))
		b.PerRequestBudget = b.HardTime
	}
	if b.MinPagesOnTimeout <= 0 {
		b.MinPagesOnTimeout = 20
	}
	if b.ValveElapsed <= 0 {
		b.ValveElapsed = 20 * time.Second
	}
	if b.ValveMinPages <= 0 {
		b.ValveMinPages = 15
	}
	if b.StaggerDelay < 0 {
		b.StaggerDelay = 0
	} else if b.StaggerDelay == 0 {
		b.StaggerDelay = 50 * time.Millisecond
	}
	if b.MaxStagger <= 0 {
		b.MaxStagger = 400 * time.Millisecond
	}
	if b.LinksPerPage <= 0 {
		b.LinksPerPage = 50
	}
	if b.NewLinksPerPage <= 0 {
		b.NewLinksPerPage = 20
	}
	if b.MaxPasses <= 0 {
		b.MaxPasses = 20
	}
	return warnings, nil
}

func (c *AppConfig) validateScoring() error {
	s := &c.Scoring
	if s.SevereGap <= 0 {
		s.SevereGap = 0.3
	}
	if s.ModerateGap <= 0 {
		s.ModerateGap = 0.5
	}
	if s.SevereGap >= s.ModerateGap {
		return fmt.Errorf("%w: scoring.severe_gap (%.2f) must be below moderate_gap (%.2f)",
			utils.ErrConfigValidation, s.SevereGap, s.ModerateGap)
	}
	if s.AEOSeverePenalty <= 0 {
		s.AEOSeverePenalty = 10
	}
	if s.GEOSeverePenalty <= 0 {
		s.GEOSeverePenalty = 20
	}
	if s.GEOModeratePenalty <= 0 {
		s.GEOModeratePenalty = 10
	}
	if s.HandoffTimeout <= 0 {
		s.HandoffTimeout = 30 * time.Second
	}
	return nil
}

func (c *AppConfig) validateSweep() {
	s := &c.Sweep
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	if s.MinAge <= 0 {
		s.MinAge = 10 * time.Minute
	}
	if s.PartialAge <= 0 {
		s.PartialAge = 30 * time.Minute
	}
	if s.EmptyAge <= 0 {
		s.EmptyAge = 10 * time.Minute
	}
	if s.FinalizeMinPages <= 0 {
		s.FinalizeMinPages = 20
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
