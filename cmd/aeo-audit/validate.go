package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"aeo-audit/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return doValidate(configPath, os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aeo-audit %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd, versionCmd)
}

// doValidate loads the config, prints warnings and the effective key settings
func doValidate(path string, stdout io.Writer) error {
	cfg, warnings, err := config.Load(path)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Storage:   %s\n", cfg.Storage.Driver)
	fmt.Fprintf(stdout, "Bot:       %s (%s)\n", cfg.Identity.BotName, cfg.Identity.UserAgent)
	fmt.Fprintf(stdout, "Pages:     %d-%d per audit, %d concurrent\n", cfg.Batch.TargetMinPages, cfg.Batch.TargetMaxPages, cfg.Batch.Concurrency)
	fmt.Fprintf(stdout, "Rendering: %t (budget %d per pass)\n", cfg.RenderEnabled(), cfg.Render.Budget)
	fmt.Fprintf(stdout, "Sweep:     every %s\n", cfg.Sweep.Interval)
	fmt.Fprintln(stdout, "Configuration valid")
	return nil
}
