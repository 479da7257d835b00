package pagefetch

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/detect"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/render"
	"aeo-audit/pkg/utils"
)

// Result is the outcome of fetching one page. Found is false when the static fetch failed or
// the page is not HTML; StatusCode is still set when a response arrived.
type Result struct {
	URL            string // final URL after redirects
	StatusCode     int
	ContentType    string
	StaticHTML     string
	RenderedHTML   *string
	RenderGapRatio *float64
	IsSPA          bool
	Framework      detect.Framework
	Found          bool
}

// Fetcher fetches pages statically and, for rationed SPA shells, through a headless browser
type Fetcher struct {
	http     *fetch.Fetcher
	renderer render.Renderer // nil disables rendering
	detector *detect.Detector
	cfg      config.RenderConfig
	log      *logrus.Entry
}

// NewFetcher creates a page fetcher. renderer may be nil.
func NewFetcher(httpFetcher *fetch.Fetcher, renderer render.Renderer, cfg config.RenderConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		http:     httpFetcher,
		renderer: renderer,
		detector: detect.NewDetector(cfg.SPATextThreshold, log),
		cfg:      cfg,
		log:      log.WithField("component", "page_fetcher"),
	}
}

// FetchSmart fetches pageURL statically and renders it only when it is an SPA shell, it is the
// homepage or among the first RenderFirstN pages of the pass, and budget still has quota.
// The returned error explains a static failure; the Result is always non-nil.
func (f *Fetcher) FetchSmart(ctx context.Context, pageURL string, pageIndex int, budget *RenderBudget, isHomepage bool) (*Result, error) {
	res := &Result{URL: pageURL, Framework: detect.FrameworkUnknown}
	pageLog := f.log.WithField("url", pageURL)

	resp, err := f.http.Get(ctx, pageURL, f.cfg.StaticTimeout, int64(f.cfg.MaxHTMLBytes))
	if resp != nil {
		res.URL = resp.URL
		res.StatusCode = resp.StatusCode
		res.ContentType = resp.ContentType
	}
	if err != nil {
		return res, err
	}
	if !resp.IsHTML() {
		return res, fmt.Errorf("%w: %s (%s)", utils.ErrNotHTML, pageURL, resp.ContentType)
	}

	res.Found = true
	res.StaticHTML = string(resp.Body)

	spa := f.detector.Detect(res.StaticHTML)
	res.IsSPA = spa.IsSPA
	res.Framework = spa.Framework

	if !res.IsSPA || f.renderer == nil {
		return res, nil
	}
	if pageIndex >= f.cfg.RenderFirstN && !isHomepage {
		return res, nil
	}
	if !budget.TryAcquire() {
		pageLog.Debug("SPA shell not rendered, render budget spent")
		return res, nil
	}

	rendered, err := f.renderer.Render(ctx, pageURL)
	if err != nil {
		pageLog.Warnf("Render failed, keeping static HTML: %v", err)
		return res, nil
	}
	rendered = utils.Truncate(rendered, f.cfg.MaxHTMLBytes)
	res.RenderedHTML = &rendered
	res.RenderGapRatio = RenderGapRatio(&res.StaticHTML, res.RenderedHTML)

	pageLog.WithFields(logrus.Fields{
		"framework":        res.Framework,
		"render_gap_ratio": *res.RenderGapRatio,
		"budget_left":      budget.Remaining(),
	}).Info("Rendered SPA page")
	return res, nil
}

// RenderGapRatio is the whitespace-normalized static length over the rendered length, clamped
// to [0,1]. It is nil unless both variants exist.
func RenderGapRatio(static, rendered *string) *float64 {
	if static == nil || rendered == nil {
		return nil
	}
	s := normalizedLen(*static)
	r := normalizedLen(*rendered)

	ratio := 1.0
	if r > 0 {
		ratio = min(float64(s)/float64(r), 1.0)
	}
	return &ratio
}

func normalizedLen(s string) int {
	return utf8.RuneCountInString(strings.Join(strings.Fields(s), " "))
}
