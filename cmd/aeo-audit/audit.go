package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aeo-audit/pkg/lifecycle"
	"aeo-audit/pkg/models"
)

var (
	auditDescription string
	auditMaxPages    int
	auditTimeout     time.Duration
	auditPages       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit <url>",
	Short: "Run one audit to completion and print it as JSON",
	Long: `Create an audit for <url>, drive it until it completes or fails, and print the final
audit (and optionally its analyzed pages) to stdout. Exits 1 when the audit fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditDescription, "description", "", "Short business description used for industry classification")
	auditCmd.Flags().IntVar(&auditMaxPages, "max-pages", 0, "Cap on analyzed pages (0 = configured default)")
	auditCmd.Flags().DurationVar(&auditTimeout, "timeout", 15*time.Minute, "Give up waiting after this long")
	auditCmd.Flags().BoolVar(&auditPages, "pages", false, "Include analyzed pages in the output")
	rootCmd.AddCommand(auditCmd)
}

// auditReport is what the audit command prints
type auditReport struct {
	Audit *models.AuditView     `json:"audit"`
	Pages []models.AnalyzedPage `json:"pages,omitempty"`
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(cfg.Server.ShutdownTimeout)

	return doAudit(ctx, a.coord, lifecycle.CreateRequest{
		URL:             args[0],
		SiteDescription: auditDescription,
		MaxPages:        auditMaxPages,
	}, auditTimeout, auditPages, os.Stdout)
}

// auditRunner is the part of the coordinator a one-shot audit drives
type auditRunner interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*lifecycle.CreateResponse, error)
	AwaitTerminal(ctx context.Context, id string, poll time.Duration) (*models.AuditView, error)
	ListPages(ctx context.Context, id string, limit, offset int) ([]models.AnalyzedPage, error)
}

func doAudit(ctx context.Context, runner auditRunner, req lifecycle.CreateRequest, timeout time.Duration, withPages bool, out io.Writer) error {
	resp, err := runner.Create(ctx, req)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	view, err := runner.AwaitTerminal(waitCtx, resp.AuditID, time.Second)
	if err != nil {
		return fmt.Errorf("waiting for audit %s: %w", resp.AuditID, err)
	}

	report := auditReport{Audit: view}
	if withPages {
		for offset := 0; ; offset += 500 {
			pages, err := runner.ListPages(ctx, view.ID, 500, offset)
			if err != nil {
				return err
			}
			report.Pages = append(report.Pages, pages...)
			if len(pages) < 500 {
				break
			}
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if view.Status == models.AuditStatusFailed {
		return fmt.Errorf("audit %s failed: %s", view.ID, view.FailReason)
	}
	return nil
}
