// Package main is the aeo-audit command: the audit API server, one-shot audits, the stuck-audit
// sweep and the MCP tool server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"aeo-audit/pkg/config"
	applog "aeo-audit/pkg/log"
)

const version = "0.4.0"

var (
	configPath string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "aeo-audit",
	Short:         "Answer-engine readiness audits",
	Long:          "aeo-audit crawls a site the way an AI answer engine would and scores how well its pages can be cited.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to YAML config file (missing file = defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON log lines")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup builds the root logger and loads config. Logs go to stderr so stdout stays
// clean for JSON output and the MCP stdio transport.
func setup() (*config.AppConfig, *logrus.Logger, error) {
	logger, warning := applog.New(logLevel, logJSON, os.Stderr)
	if warning != "" {
		logger.Warn(warning)
	}

	cfg, warnings, err := config.Load(configPath)
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err != nil {
		return nil, nil, err
	}
	logAppConfig(cfg, logger)
	return cfg, logger, nil
}

// logAppConfig logs the effective configuration
func logAppConfig(cfg *config.AppConfig, log *logrus.Logger) {
	log.Debugf("Config Identity: Bot:%s, UA:%q", cfg.Identity.BotName, cfg.Identity.UserAgent)
	log.Debugf("Config Batch: Pages:%d-%d, Concurrency:%d, Budget:%v, HardTime:%v, MaxPasses:%d",
		cfg.Batch.TargetMinPages, cfg.Batch.TargetMaxPages, cfg.Batch.Concurrency,
		cfg.Batch.PerRequestBudget, cfg.Batch.HardTime, cfg.Batch.MaxPasses)
	log.Debugf("Config Render: Enabled:%t, Budget:%d, FirstN:%d, Timeout:%v",
		cfg.RenderEnabled(), cfg.Render.Budget, cfg.Render.RenderFirstN, cfg.Render.RenderTimeout)
	log.Debugf("Config Sweep: Interval:%v, MinAge:%v, PartialAge:%v, EmptyAge:%v",
		cfg.Sweep.Interval, cfg.Sweep.MinAge, cfg.Sweep.PartialAge, cfg.Sweep.EmptyAge)
	log.Debugf("Config Storage: Driver:%s, RobotsCache:%q", cfg.Storage.Driver, cfg.Robots.CacheDir)
}
