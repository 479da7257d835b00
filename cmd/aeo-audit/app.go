package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/batch"
	"aeo-audit/pkg/config"
	"aeo-audit/pkg/discovery"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/jobs"
	"aeo-audit/pkg/lifecycle"
	"aeo-audit/pkg/pagefetch"
	"aeo-audit/pkg/precheck"
	"aeo-audit/pkg/render"
	"aeo-audit/pkg/robots"
	"aeo-audit/pkg/storage"
)

// app is the wired audit stack shared by every command
type app struct {
	cfg    *config.AppConfig
	log    *logrus.Entry
	store  *storage.SQLStore
	kv     *storage.BadgerKV
	chrome *render.Chrome
	coord  *lifecycle.Coordinator
}

func buildApp(ctx context.Context, cfg *config.AppConfig, logger *logrus.Logger) (*app, error) {
	log := logrus.NewEntry(logger)
	a := &app{cfg: cfg, log: log}

	store, err := storage.NewSQLStore(ctx, cfg.Storage.Driver, cfg.Storage.DSN, log.WithField("component", "store"))
	if err != nil {
		return nil, err
	}
	a.store = store

	kv, err := storage.NewBadgerKV(cfg.Robots.CacheDir, log.WithField("component", "robots_kv"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening robots cache: %w", err)
	}
	a.kv = kv

	identity := fetch.IdentityFromConfig(cfg.Identity)
	client := fetch.NewClient(cfg.HTTPClientSettings, identity, log)
	pageFetcher := fetch.NewFetcher(client, fetch.RetryPolicy{}, log.WithField("component", "fetch"))
	precheckFetcher := fetch.NewFetcher(client, precheck.RetryPolicy(cfg.Precheck), log.WithField("component", "precheck_fetch"))

	robotsCache := robots.NewCache(kv, pageFetcher, cfg.Identity.BotName, cfg.Robots, log)

	// render.Renderer stays a nil interface when rendering is off
	var renderer render.Renderer
	if cfg.RenderEnabled() {
		a.chrome = render.NewChrome(cfg.Render, identity, log)
		renderer = a.chrome
	} else {
		log.Info("Headless rendering disabled, pages are analyzed from static HTML only")
	}

	engine := batch.NewEngine(store, robotsCache,
		pagefetch.NewFetcher(pageFetcher, renderer, cfg.Render, log),
		cfg.Batch, cfg.Render.Budget, log)

	a.coord = lifecycle.NewCoordinator(lifecycle.Deps{
		Store:     store,
		Precheck:  precheck.NewResolver(precheckFetcher, cfg.Precheck, cfg.Render.MaxHTMLBytes, log),
		Discovery: discovery.NewEngine(pageFetcher, robotsCache, fetch.NewRateLimiter(cfg.Discovery.DefaultDelay, log), cfg.Discovery, log),
		Engine:    engine,
		Jobs:      jobs.NewRegistry(log),
	}, cfg, log)

	return a, nil
}

// Close stops background jobs, then releases the browser and both stores
func (a *app) Close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.coord.Shutdown(ctx); err != nil {
		a.log.Warnf("Background work did not stop cleanly: %v", err)
	}
	if a.chrome != nil {
		a.chrome.Close()
	}
	if err := a.kv.Close(); err != nil {
		a.log.Errorf("Closing robots cache: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Errorf("Closing database: %v", err)
	}
}

// health reports in-process job counts for GET /health
func (a *app) health() map[string]any {
	running := 0
	for _, j := range a.coord.Jobs().List() {
		if j.Status == jobs.StatusRunning {
			running++
		}
	}
	return map[string]any{
		"version":      version,
		"running_jobs": running,
		"render":       a.cfg.RenderEnabled(),
	}
}
