// Package lifecycle owns audit state: creation, background crawling, finalize and fail
// transitions, and recovery of audits left running.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/batch"
	"aeo-audit/pkg/config"
	"aeo-audit/pkg/jobs"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/precheck"
	"aeo-audit/pkg/storage"
	"aeo-audit/pkg/utils"
)

// Store is the persistence the coordinator needs
type Store interface {
	storage.AuditStore
	storage.PageStore
}

// Prechecker validates a root URL before an audit exists
type Prechecker interface {
	Check(ctx context.Context, rawURL string) precheck.Result
}

// Discoverer seeds the frontier
type Discoverer interface {
	Discover(ctx context.Context, rootURL string) ([]string, error)
}

// Continuer runs batch passes and reports what should happen to the audit
type Continuer interface {
	Continue(ctx context.Context, auditID string) (batch.Outcome, error)
}

// Diagnostics runs per-site rule checks over an audit's analyzed pages
type Diagnostics interface {
	RunSiteDiagnostics(ctx context.Context, auditID string) error
}

// PromptCache builds the query prompts used later for citation analysis
type PromptCache interface {
	BuildForDomain(ctx context.Context, host string) error
}

// Deps are the collaborators a Coordinator is built from. Diagnostics and Prompts may be nil.
type Deps struct {
	Store       Store
	Precheck    Prechecker
	Discovery   Discoverer
	Engine      Continuer
	Jobs        *jobs.Registry
	Diagnostics Diagnostics
	Prompts     PromptCache
}

// Coordinator drives audits through running -> completed | failed
type Coordinator struct {
	store       Store
	precheck    Prechecker
	discovery   Discoverer
	engine      Continuer
	jobs        *jobs.Registry
	diagnostics Diagnostics
	prompts     PromptCache

	scoring  config.ScoringConfig
	sweepCfg config.SweepConfig
	validate *validator.Validate
	log      *logrus.Entry

	handoffs sync.WaitGroup
	now      func() time.Time
}

// NewCoordinator wires the lifecycle around its collaborators
func NewCoordinator(deps Deps, cfg *config.AppConfig, log *logrus.Entry) *Coordinator {
	c := &Coordinator{
		store:       deps.Store,
		precheck:    deps.Precheck,
		discovery:   deps.Discovery,
		engine:      deps.Engine,
		jobs:        deps.Jobs,
		diagnostics: deps.Diagnostics,
		prompts:     deps.Prompts,
		scoring:     cfg.Scoring,
		sweepCfg:    cfg.Sweep,
		validate:    validator.New(),
		log:         log.WithField("component", "lifecycle"),
		now:         time.Now,
	}
	if c.jobs == nil {
		c.jobs = jobs.NewRegistry(log)
	}
	if c.diagnostics == nil {
		c.diagnostics = logDiagnostics{log: c.log}
	}
	if c.prompts == nil {
		c.prompts = logPromptCache{log: c.log}
	}
	return c
}

// Get returns an audit with its page counters
func (c *Coordinator) Get(ctx context.Context, id string) (*models.AuditView, error) {
	audit, err := c.store.GetAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := c.store.PageStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.AuditView{Audit: *audit, Stats: stats}, nil
}

// ListPages returns analyzed pages only. Unknown audits are an error.
func (c *Coordinator) ListPages(ctx context.Context, id string, limit, offset int) ([]models.AnalyzedPage, error) {
	if _, err := c.store.GetAudit(ctx, id); err != nil {
		return nil, err
	}
	pages, err := c.store.ListAnalyzedPages(ctx, id, limit, offset)
	if err != nil {
		return nil, err
	}
	if pages == nil {
		pages = []models.AnalyzedPage{}
	}
	return pages, nil
}

// GetPage returns one analyzed page
func (c *Coordinator) GetPage(ctx context.Context, id, pageID string) (*models.AnalyzedPage, error) {
	return c.store.GetAnalyzedPage(ctx, id, pageID)
}

// ContinueResult reports one on-demand continuation
type ContinueResult struct {
	Audit    *models.AuditView `json:"audit"`
	Action   string            `json:"action"`
	Why      string            `json:"why,omitempty"`
	Passes   int               `json:"passes"`
	Analyzed int               `json:"pages_analyzed"`
}

// Continue drives the batch engine synchronously and applies its outcome. Terminal audits are
// returned unchanged. If background work already holds the audit in this process, ErrAuditBusy.
func (c *Coordinator) Continue(ctx context.Context, id string) (*ContinueResult, error) {
	audit, err := c.store.GetAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	if audit.Status.IsTerminal() {
		view, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &ContinueResult{Audit: view, Action: batch.ActionNoop.String(), Why: "not_running", Analyzed: view.Stats.Analyzed}, nil
	}

	job, ok := c.jobs.Acquire(id, jobs.KindContinue)
	if !ok {
		return nil, fmt.Errorf("%w: job %s (%s)", utils.ErrAuditBusy, job.ID, job.Kind)
	}
	outcome, runErr := c.engine.Continue(ctx, id)
	if runErr == nil {
		runErr = c.apply(ctx, id, outcome)
	}
	c.jobs.Release(job.ID, runErr)
	if runErr != nil {
		return nil, runErr
	}

	view, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ContinueResult{
		Audit:    view,
		Action:   outcome.Action.String(),
		Why:      outcome.Why,
		Passes:   outcome.Passes,
		Analyzed: outcome.Analyzed,
	}, nil
}

// Recrawl clears an audit's pages and analyses and crawls it again in the background.
// The industry lock is kept.
func (c *Coordinator) Recrawl(ctx context.Context, id string) (*models.AuditView, error) {
	audit, err := c.store.GetAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	// the job is held across the reset so no continuation can slip in between
	job, ok := c.jobs.Acquire(id, jobs.KindRecrawl)
	if !ok {
		return nil, fmt.Errorf("%w: job %s (%s)", utils.ErrAuditBusy, job.ID, job.Kind)
	}
	if err := c.store.ResetForRecrawl(ctx, id, c.now()); err != nil {
		c.jobs.Release(job.ID, err)
		return nil, err
	}
	recrawlLog := c.log.WithFields(logrus.Fields{"audit_id": id, "root_url": audit.RootURL, "job_id": job.ID})
	recrawlLog.Info("Audit reset for recrawl")
	c.jobs.Start(job, func(ctx context.Context) error {
		return c.crawl(ctx, id, audit.RootURL)
	})
	recrawlLog.Info("Background crawl started")
	return c.Get(ctx, id)
}

// startBackground runs discovery then continuation as a job. The job outlives the request.
func (c *Coordinator) startBackground(id, rootURL string, kind jobs.Kind) {
	job, ok := c.jobs.Go(id, kind, func(ctx context.Context) error {
		return c.crawl(ctx, id, rootURL)
	})
	if ok {
		c.log.WithFields(logrus.Fields{"audit_id": id, "job_id": job.ID, "kind": kind}).Info("Background crawl started")
	}
}

// crawl seeds the frontier and keeps continuing until the audit reaches a terminal decision
func (c *Coordinator) crawl(ctx context.Context, id, rootURL string) error {
	crawlLog := c.log.WithFields(logrus.Fields{"audit_id": id, "root_url": rootURL})

	urls, err := c.discovery.Discover(ctx, rootURL)
	if err != nil {
		crawlLog.WithField("category", utils.CategorizeError(err)).Warnf("Discovery failed: %v", err)
		if errors.Is(err, utils.ErrNoURLsDiscovered) || ctx.Err() == nil {
			_, failErr := c.Fail(context.WithoutCancel(ctx), id, models.FailNoURLsDiscovered)
			return failErr
		}
		return err
	}

	inserted := 0
	for _, u := range urls {
		added, err := c.store.InsertPageIfAbsent(ctx, id, u)
		if err != nil {
			return err
		}
		if added {
			inserted++
		}
	}
	crawlLog.WithFields(logrus.Fields{"discovered": len(urls), "inserted": inserted}).Info("Frontier seeded")

	for {
		outcome, err := c.engine.Continue(ctx, id)
		if err != nil {
			return err
		}
		if err := c.apply(ctx, id, outcome); err != nil {
			return err
		}
		if outcome.Action != batch.ActionYield {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// apply turns a batch outcome into a lifecycle transition
func (c *Coordinator) apply(ctx context.Context, id string, outcome batch.Outcome) error {
	switch outcome.Action {
	case batch.ActionFinalize:
		_, err := c.Finalize(ctx, id)
		return err
	case batch.ActionFail:
		_, err := c.Fail(ctx, id, outcome.Reason)
		return err
	}
	return nil
}

// AwaitTerminal polls until the audit is completed or failed
func (c *Coordinator) AwaitTerminal(ctx context.Context, id string, poll time.Duration) (*models.AuditView, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		view, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Status.IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown cancels background crawls and waits for them and any pending handoffs
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.jobs.CancelAll()
	if err := c.jobs.Wait(ctx); err != nil {
		return err
	}
	return c.WaitHandoffs(ctx)
}

// Jobs exposes the registry for status reporting
func (c *Coordinator) Jobs() *jobs.Registry { return c.jobs }
