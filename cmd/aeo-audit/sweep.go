package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"aeo-audit/pkg/sweep"
)

var (
	sweepWatch    bool
	sweepInterval string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Finalize or fail audits left running",
	Long: `Run the stuck-audit sweep once and print its report, or with --watch keep running it
on an interval until interrupted.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "Keep sweeping on an interval")
	sweepCmd.Flags().StringVar(&sweepInterval, "interval", "", "Sweep interval for --watch, e.g. 30m, 1h, 1d (default: sweep.interval)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	interval := cfg.Sweep.Interval
	if sweepInterval != "" {
		if interval, err = sweep.ParseInterval(sweepInterval); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(cfg.Server.ShutdownTimeout)

	scheduler := sweep.NewScheduler(a.coord, interval, cfg.Sweep.StateFile, a.log)
	if sweepWatch {
		return scheduler.Run(ctx)
	}

	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	// finalize handoffs run detached; let them finish before the process exits
	if err := a.coord.WaitHandoffs(ctx); err != nil {
		a.log.Warnf("Handoffs still running at exit: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
