package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/lifecycle"
	"aeo-audit/pkg/models"
)

const (
	serverName    = "aeo-audit"
	serverVersion = "0.4.0"
)

// AuditService is the slice of the lifecycle coordinator exposed as tools
type AuditService interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*lifecycle.CreateResponse, error)
	Get(ctx context.Context, id string) (*models.AuditView, error)
	ListPages(ctx context.Context, id string, limit, offset int) ([]models.AnalyzedPage, error)
	Continue(ctx context.Context, id string) (*lifecycle.ContinueResult, error)
	Finalize(ctx context.Context, id string) (*models.Audit, error)
	Sweep(ctx context.Context, now time.Time) (lifecycle.SweepReport, error)
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Audits    AuditService
	Transport string // "stdio" or "sse"
	Port      int
	Logger    *logrus.Logger
}

// Server wraps the MCP server with audit tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	audits    AuditService
	log       *logrus.Entry
	now       func() time.Time
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Audits == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		audits:    cfg.Audits,
		log:       cfg.Logger.WithField("component", "mcp"),
		now:       time.Now,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	tools := []struct {
		tool    mcp.Tool
		handler server.ToolHandlerFunc
	}{
		{mcp.NewTool("create_audit",
			mcp.WithDescription("Validate a site and start an audit in the background. Returns the audit id and its initial status."),
			mcp.WithString("url", mcp.Required(), mcp.Description("Root URL of the site to audit")),
			mcp.WithString("site_description", mcp.Description("Short description of the business, used to classify its industry")),
			mcp.WithNumber("max_pages", mcp.Description("Upper bound on analyzed pages (1-500)")),
			mcp.WithString("project_id", mcp.Description("Owning project (optional)")),
		), s.handleCreateAudit},
		{mcp.NewTool("get_audit",
			mcp.WithDescription("Get an audit's status, scores and page counters"),
			mcp.WithString("audit_id", mcp.Required(), mcp.Description("The audit id returned by create_audit")),
		), s.handleGetAudit},
		{mcp.NewTool("list_audit_pages",
			mcp.WithDescription("List analyzed pages of an audit with their titles and scores"),
			mcp.WithString("audit_id", mcp.Required(), mcp.Description("The audit id")),
			mcp.WithNumber("limit", mcp.Description("Maximum pages to return (default: 50, max: 500)")),
			mcp.WithNumber("offset", mcp.Description("Pages to skip")),
		), s.handleListAuditPages},
		{mcp.NewTool("search_audit_pages",
			mcp.WithDescription("Search the extracted content of an audit's analyzed pages"),
			mcp.WithString("audit_id", mcp.Required(), mcp.Description("The audit id")),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query (case-insensitive substring match)")),
			mcp.WithNumber("max_results", mcp.Description("Maximum number of results to return (default: 10, max: 100)")),
		), s.handleSearchAuditPages},
		{mcp.NewTool("continue_audit",
			mcp.WithDescription("Run batch passes on a running audit until it yields, finalizes or fails"),
			mcp.WithString("audit_id", mcp.Required(), mcp.Description("The audit id")),
		), s.handleContinueAudit},
		{mcp.NewTool("finalize_audit",
			mcp.WithDescription("Compute site scores and complete a running audit"),
			mcp.WithString("audit_id", mcp.Required(), mcp.Description("The audit id")),
		), s.handleFinalizeAudit},
		{mcp.NewTool("sweep_stuck_audits",
			mcp.WithDescription("Finalize or fail audits that have been left running"),
		), s.handleSweep},
	}
	for _, t := range tools {
		s.mcpServer.AddTool(t.tool, t.handler)
	}
	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		return server.NewSSEServer(s.mcpServer).Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}
