package batch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/pagefetch"
	"aeo-audit/pkg/parse"
	"aeo-audit/pkg/process"
	"aeo-audit/pkg/storage"
	"aeo-audit/pkg/utils"
)

// RobotsChecker reports whether the bot may fetch a URL
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// PageFetcher fetches one page, rendering it when the pass budget allows
type PageFetcher interface {
	FetchSmart(ctx context.Context, pageURL string, pageIndex int, budget *pagefetch.RenderBudget, isHomepage bool) (*pagefetch.Result, error)
}

// Store is the persistence the engine needs
type Store interface {
	GetAudit(ctx context.Context, id string) (*models.Audit, error)
	storage.PageStore
}

// Outcome reports how a continuation ended. The caller applies Finalize or Fail.
type Outcome struct {
	Decision
	Analyzed int
	Passes   int
}

// Engine runs time-budgeted passes over an audit's pending pages until a decision is reached
type Engine struct {
	store        Store
	robots       RobotsChecker
	pages        PageFetcher
	cfg          config.BatchConfig
	renderBudget int
	log          *logrus.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a continuation engine. renderBudget is the browser render quota per pass.
func NewEngine(store Store, robots RobotsChecker, pages PageFetcher, cfg config.BatchConfig, renderBudget int, log *logrus.Entry) *Engine {
	return &Engine{
		store:        store,
		robots:       robots,
		pages:        pages,
		cfg:          cfg,
		renderBudget: renderBudget,
		log:          log.WithField("component", "batch"),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Continue processes auditID pass after pass. It never changes the audit's status itself:
// the returned Outcome says whether to finalize, fail, or leave it running.
func (e *Engine) Continue(ctx context.Context, auditID string) (Outcome, error) {
	invocationStart := e.now()
	deadline := invocationStart.Add(e.cfg.PerRequestBudget)
	auditLog := e.log.WithField("audit_id", auditID)

	var out Outcome
	for out.Passes < e.cfg.MaxPasses {
		audit, err := e.store.GetAudit(ctx, auditID)
		if err != nil {
			return out, err
		}
		if audit.Status != models.AuditStatusRunning {
			out.Decision = Decision{Action: ActionNoop, Why: "not_running"}
			return out, nil
		}
		th := ThresholdsFromConfig(e.cfg, audit.Config.MaxPages)

		stats, err := e.store.PageStats(ctx, auditID)
		if err != nil {
			return out, err
		}
		out.Analyzed = stats.Analyzed

		var pending []models.AuditPage
		if room := th.TargetMaxPages - stats.Analyzed; room > 0 {
			pending, err = e.store.PendingPages(ctx, auditID, room)
			if err != nil {
				return out, err
			}
		}
		if len(pending) == 0 {
			out.Decision = Decide(Totals{Analyzed: stats.Analyzed, QueueEmpty: true, Elapsed: e.now().Sub(audit.StartedAt)}, th)
			return out, nil
		}

		out.Passes++
		processed := e.runPass(ctx, audit, pending, stats.Analyzed, th, deadline)

		if stats, err = e.store.PageStats(ctx, auditID); err != nil {
			return out, err
		}
		out.Analyzed = stats.Analyzed
		out.Decision = Decide(Totals{
			Analyzed:   stats.Analyzed,
			QueueEmpty: stats.Pending == 0,
			Elapsed:    e.now().Sub(audit.StartedAt),
		}, th)

		auditLog.WithFields(logrus.Fields{
			"pass":      out.Passes,
			"processed": processed,
			"analyzed":  stats.Analyzed,
			"pending":   stats.Pending,
			"decision":  out.Action,
			"why":       out.Why,
		}).Info("Batch pass complete")

		if out.Action != ActionContinue {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if !e.now().Before(deadline) {
			out.Decision = Decision{Action: ActionYield, Why: "invocation_budget"}
			return out, nil
		}
	}

	out.Decision = Decision{Action: ActionYield, Why: "max_passes"}
	return out, nil
}

// passState is shared by every in-flight page of one pass
type passState struct {
	audit    *models.Audit
	root     string
	scope    parse.Scope
	budget   *pagefetch.RenderBudget
	analyzed atomic.Int64
	th       Thresholds
	deadline time.Time
}

// runPass fetches pending pages inside the concurrency window. Per-page failures are logged and
// never abort the pass. Returns the number of pages handled.
func (e *Engine) runPass(ctx context.Context, audit *models.Audit, pending []models.AuditPage, analyzed int, th Thresholds, deadline time.Time) int {
	st := &passState{
		audit:    audit,
		budget:   pagefetch.NewRenderBudget(e.renderBudget),
		th:       th,
		deadline: deadline,
	}
	st.analyzed.Store(int64(analyzed))
	if root, rootU, err := parse.ParseAndNormalize(audit.RootURL); err == nil {
		st.root = root
		st.scope = parse.NewScope(rootU)
	}

	var handled atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i := range pending {
		page := pending[i]
		g.Go(func() error {
			if e.processPage(ctx, st, page, i) {
				handled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(handled.Load())
}

// processPage handles one page and reports whether it left the pending queue
func (e *Engine) processPage(ctx context.Context, st *passState, page models.AuditPage, index int) bool {
	pageLog := e.log.WithFields(logrus.Fields{"audit_id": page.AuditID, "url": page.URL})

	if ctx.Err() != nil || !e.now().Before(st.deadline) {
		pageLog.Debug("Pass budget spent, leaving page for the next pass")
		return false
	}
	if err := e.sleep(ctx, e.stagger(index)); err != nil {
		return false
	}

	if !e.robots.Allowed(ctx, page.URL) {
		if ctx.Err() != nil {
			return false
		}
		err := fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, page.URL)
		pageLog.WithField("error_type", utils.CategorizeError(err)).Debug(err)
		return e.markProcessed(ctx, pageLog, page.ID, nil, "")
	}

	res, err := e.pages.FetchSmart(ctx, page.URL, index, st.budget, page.URL == st.root)
	if err != nil || !res.Found {
		pageLog.Debugf("Page not usable: %v", err)
		var code *int
		if res != nil && res.StatusCode != 0 {
			code = &res.StatusCode
		}
		contentType := ""
		if res != nil {
			contentType = res.ContentType
		}
		return e.markProcessed(ctx, pageLog, page.ID, code, contentType)
	}

	html := res.StaticHTML
	if res.RenderedHTML != nil {
		html = *res.RenderedHTML
	}
	pageU, err := url.Parse(res.URL)
	if err != nil {
		pageU, _ = url.Parse(page.URL)
	}
	ex, err := process.Extract(html, pageU, process.ExtractOptions{LinkLimit: e.cfg.LinksPerPage})
	if err != nil {
		pageLog.Warnf("Extraction failed: %v", err)
		return e.markProcessed(ctx, pageLog, page.ID, &res.StatusCode, res.ContentType)
	}
	ex.Signals.IsSPA = res.IsSPA
	ex.Signals.Rendered = res.RenderedHTML != nil

	fetchedAt := e.now()
	code := res.StatusCode
	row := page
	row.StatusCode = &code
	row.ContentType = res.ContentType
	row.HTMLStatic = res.StaticHTML
	row.HTMLRendered = res.RenderedHTML
	row.FetchedAt = &fetchedAt

	aeo, geo := process.ScoreAEO(ex), process.ScoreGEO(ex)
	analysis := &models.AuditPageAnalysis{
		Title:          ex.Title,
		H1:             ex.H1,
		Canonical:      ex.Canonical,
		SchemaTypes:    ex.SchemaTypes,
		Signals:        ex.Signals,
		RenderGapRatio: res.RenderGapRatio,
		AEOScore:       &aeo,
		GEOScore:       &geo,
	}
	if err := e.store.SavePageResult(ctx, &row, analysis); err != nil {
		if errors.Is(err, storage.ErrPageAlreadyProcessed) {
			pageLog.Debug("Page already written by another pass")
			return true
		}
		pageLog.Warnf("Page write failed, page stays pending: %v", err)
		return false
	}
	analyzedNow := st.analyzed.Add(1)

	if int(analyzedNow) < st.th.TargetMinPages {
		e.discoverLinks(ctx, st, pageLog, ex.Links)
	}
	return true
}

// discoverLinks grows the frontier from a processed page's links
func (e *Engine) discoverLinks(ctx context.Context, st *passState, pageLog *logrus.Entry, links []string) {
	added := 0
	for _, link := range process.FilterInScope(links, st.scope) {
		if added >= e.cfg.NewLinksPerPage {
			break
		}
		ok, err := e.store.InsertPageIfAbsent(ctx, st.audit.ID, link)
		if err != nil {
			pageLog.Warnf("Inserting discovered link failed: %v", err)
			continue
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		pageLog.WithField("new_pages", added).Debug("Organic discovery")
	}
}

func (e *Engine) markProcessed(ctx context.Context, pageLog *logrus.Entry, pageID string, code *int, contentType string) bool {
	if err := e.store.MarkPageProcessed(ctx, pageID, code, contentType, e.now()); err != nil {
		pageLog.Warnf("Marking page processed failed: %v", err)
		return false
	}
	return true
}

// stagger spreads request starts: index × StaggerDelay, capped at MaxStagger
func (e *Engine) stagger(index int) time.Duration {
	return min(time.Duration(index)*e.cfg.StaggerDelay, e.cfg.MaxStagger)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stagger interrupted: %w", ctx.Err())
	}
}
