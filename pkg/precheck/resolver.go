// Package precheck validates a candidate root URL before an audit is created.
package precheck

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/parse"
	"aeo-audit/pkg/utils"
)

// Result is the outcome of a precheck. FinalURL is set only when OK.
type Result struct {
	OK       bool              `json:"ok"`
	FinalURL string            `json:"final_url,omitempty"`
	Reason   models.FailReason `json:"reason,omitempty"`
}

func fail(reason models.FailReason) Result { return Result{Reason: reason} }

// Resolver runs the domain precheck
type Resolver struct {
	fetcher *fetch.Fetcher
	cfg     config.PrecheckConfig
	maxBody int64
	log     *logrus.Entry
}

// NewResolver creates a Resolver. The fetcher's retry policy must come from the precheck config.
func NewResolver(fetcher *fetch.Fetcher, cfg config.PrecheckConfig, maxBody int, log *logrus.Entry) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		cfg:     cfg,
		maxBody: int64(maxBody),
		log:     log.WithField("component", "precheck"),
	}
}

// RetryPolicy derives the fetch retry policy from precheck settings
func RetryPolicy(cfg config.PrecheckConfig) fetch.RetryPolicy {
	return fetch.RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
	}
}

// Check validates rawURL and resolves the root URL the audit should crawl
func (r *Resolver) Check(ctx context.Context, rawURL string) Result {
	checkLog := r.log.WithField("url", rawURL)

	_, parsed, err := parse.ParseAndNormalize(parse.EnsureScheme(rawURL))
	if err != nil {
		checkLog.WithError(err).Info("Precheck rejected URL")
		return fail(models.FailInvalidURL)
	}

	host := strings.ToLower(parsed.Hostname())
	if r.isBlockedPlatform(host) {
		checkLog.Info("Precheck rejected blocked platform")
		return fail(models.FailBlockedPlatform)
	}

	target := parsed.String()
	if replacement, ok := r.redirectFor(host); ok {
		checkLog.WithField("replacement", replacement).Info("Applying known domain redirect")
		target = replacement
	}

	resp, err := r.fetcher.GetWithRetry(ctx, target, r.cfg.Timeout, r.maxBody)
	if err != nil {
		reason := failReasonFor(err)
		checkLog.WithFields(logrus.Fields{
			"reason":   reason,
			"category": utils.CategorizeError(err),
		}).Info("Precheck fetch failed")
		return fail(reason)
	}

	if r.looksParkedOrEmpty(resp.Body) {
		checkLog.Info("Precheck rejected parked or empty page")
		return fail(models.FailParkedOrEmpty)
	}

	final, err := url.Parse(resp.URL)
	if err != nil {
		return fail(models.FailInvalidURL)
	}
	if r.isBlockedPlatform(strings.ToLower(final.Hostname())) {
		return fail(models.FailBlockedPlatform)
	}

	if prefix := parse.LocalePrefix(final.Path); prefix != "" && !isEnglishLocale(prefix) {
		resolved := r.resolveLocale(ctx, final, prefix)
		checkLog.WithFields(logrus.Fields{"locale": prefix, "resolved": resolved}).Info("Rewrote non-English locale landing")
		return Result{OK: true, FinalURL: resolved}
	}

	return Result{OK: true, FinalURL: parse.NormalizeURL(final)}
}

func failReasonFor(err error) models.FailReason {
	code := utils.StatusCodeOf(err)
	switch {
	case code == 0:
		return models.FailUnreachable
	case errors.Is(err, utils.ErrRetryFailed) && fetch.IsRetryableStatus(code):
		return models.FailHTTPAfterRetries(code)
	default:
		return models.FailHTTPStatus(code)
	}
}

func (r *Resolver) isBlockedPlatform(host string) bool {
	bare := strings.TrimPrefix(host, "www.")
	for _, blocked := range r.cfg.BlockedPlatforms {
		b := strings.TrimPrefix(blocked, "www.")
		if bare == b || strings.HasSuffix(bare, "."+b) {
			return true
		}
	}
	return false
}

func (r *Resolver) redirectFor(host string) (string, bool) {
	if target, ok := r.cfg.RedirectTable[host]; ok {
		return target, true
	}
	target, ok := r.cfg.RedirectTable[strings.TrimPrefix(host, "www.")]
	return target, ok
}

// looksParkedOrEmpty applies the two-tier heuristic: a real HTML skeleton is only rejected for
// critical phrases; anything else is also rejected for broad phrases or an implausibly small body.
func (r *Resolver) looksParkedOrEmpty(body []byte) bool {
	lowerRaw := strings.ToLower(string(body))
	text := visibleText(body)

	if containsAny(text, r.cfg.CriticalPhrases) {
		return true
	}
	if hasHTMLSkeleton(lowerRaw) {
		return false
	}
	if containsAny(text, r.cfg.BroadPhrases) {
		return true
	}
	return len(bytes.TrimSpace(body)) < r.cfg.MinBodyBytes
}

func hasHTMLSkeleton(lowerRaw string) bool {
	hasDoctype := strings.Contains(lowerRaw, "<!doctype html")
	hasTitle := strings.Contains(lowerRaw, "<title")
	hasHead := strings.Contains(lowerRaw, "<head")
	hasBody := strings.Contains(lowerRaw, "<body")
	return (hasDoctype && hasTitle) || (hasHead && hasBody)
}

// visibleText is the lowercased title plus body text, whitespace collapsed
func visibleText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return strings.ToLower(string(body))
	}
	doc.Find("script, style, noscript").Remove()
	text := doc.Find("title").Text() + " " + doc.Find("body").Text()
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func containsAny(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

func isEnglishLocale(prefix string) bool {
	return prefix == "/en" || prefix == "/en-us"
}

// resolveLocale tries the /en-us/ and /en/ equivalents of a foreign locale landing,
// falling back to the bare origin.
func (r *Resolver) resolveLocale(ctx context.Context, landing *url.URL, prefix string) string {
	origin := parse.Origin(landing)
	rest := strings.TrimPrefix(strings.ToLower(landing.Path), prefix)

	for _, candidatePrefix := range []string{"/en-us", "/en"} {
		candidate := origin + candidatePrefix + rest
		resp, err := r.fetcher.Get(ctx, candidate, r.cfg.Timeout, r.maxBody)
		if err != nil || !resp.IsHTML() {
			continue
		}
		landed, err := url.Parse(resp.URL)
		if err != nil {
			continue
		}
		if p := parse.LocalePrefix(landed.Path); p != "" && !isEnglishLocale(p) {
			continue
		}
		return parse.NormalizeURL(landed)
	}
	return origin + "/"
}
