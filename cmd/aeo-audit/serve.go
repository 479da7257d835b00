package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aeo-audit/pkg/server"
	"aeo-audit/pkg/sweep"
)

var (
	serveAddr    string
	serveNoSweep bool
	servePprof   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audit REST API server",
	Long: `Start an HTTP server that exposes the audit REST endpoints. Unless --no-sweep is given,
the stuck-audit sweep runs on its configured interval in the same process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.listen_addr)")
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "Do not run the stuck-audit sweep in this process")
	serveCmd.Flags().StringVar(&servePprof, "pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.ListenAddr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(cfg.Server.ShutdownTimeout)

	if servePprof != "" {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Errorf("PANIC in pprof server: %v", r)
				}
			}()
			a.log.Infof("Starting pprof HTTP server on: http://%s/debug/pprof/", servePprof)
			if err := http.ListenAndServe(servePprof, nil); err != nil {
				a.log.Errorf("Pprof server failed to start on %s: %v", servePprof, err)
			}
		}()
	}

	var scheduler *sweep.Scheduler
	if !serveNoSweep {
		scheduler = sweep.NewScheduler(a.coord, cfg.Sweep.Interval, cfg.Sweep.StateFile, a.log)
	}

	health := func() map[string]any {
		h := a.health()
		if scheduler != nil {
			h["sweep"] = scheduler.GetStatus()
		}
		return h
	}
	srv := server.New(a.coord, health, cfg.Server, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		a.kv.RunGC(gctx, 0)
		return nil
	})
	if scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("Server stopped")
	return nil
}
