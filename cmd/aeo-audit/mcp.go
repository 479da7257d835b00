package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aeo-audit/pkg/mcp"
)

var (
	mcpTransport string
	mcpPort      int
)

var mcpCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start an MCP server exposing audit tools",
	Long: `Start an MCP (Model Context Protocol) server for AI tool integration.

Available MCP Tools:
  create_audit        Validate a site and start an audit
  get_audit           Status, scores and counters of an audit
  list_audit_pages    Analyzed pages of an audit
  search_audit_pages  Search extracted page content
  continue_audit      Run batch passes on a running audit
  finalize_audit      Score and complete a running audit
  sweep_stuck_audits  Recover audits left running`,
	Example: `  # stdio transport (for desktop assistants)
  aeo-audit mcp-server --config config.yaml

  # SSE transport on port 8081
  aeo-audit mcp-server --transport sse --port 8081`,
	RunE: runMcpServer,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport type (stdio, sse)")
	mcpCmd.Flags().IntVar(&mcpPort, "port", 8081, "HTTP port (for sse transport)")
	rootCmd.AddCommand(mcpCmd)
}

func runMcpServer(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(cfg.Server.ShutdownTimeout)

	server, err := mcp.NewServer(&mcp.ServerConfig{
		Audits:    a.coord,
		Transport: mcpTransport,
		Port:      mcpPort,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	logger.Infof("Starting MCP server (transport: %s)", mcpTransport)
	return server.Run()
}
