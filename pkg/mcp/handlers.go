package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"aeo-audit/pkg/lifecycle"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/utils"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	snippetLen       = 150
)

// toolError turns a lifecycle error into a tool-level error result. Only storage failures
// are returned as protocol errors.
func toolError(err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, utils.ErrDatabase) {
		return nil, err
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) handleCreateAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL := request.GetString("url", "")
	if rawURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	resp, err := s.audits.Create(ctx, lifecycle.CreateRequest{
		URL:             rawURL,
		ProjectID:       request.GetString("project_id", ""),
		SiteDescription: request.GetString("site_description", ""),
		MaxPages:        request.GetInt("max_pages", 0),
	})
	if err != nil {
		return toolError(err)
	}

	result := map[string]interface{}{
		"audit_id": resp.AuditID,
		"status":   resp.Status,
	}
	if resp.Reason != "" {
		result["reason"] = resp.Reason
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleGetAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("audit_id", "")
	if id == "" {
		return mcp.NewToolResultError("audit_id parameter is required"), nil
	}
	view, err := s.audits.Get(ctx, id)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(auditSummary(view))), nil
}

func (s *Server) handleListAuditPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("audit_id", "")
	if id == "" {
		return mcp.NewToolResultError("audit_id parameter is required"), nil
	}
	limit := clamp(request.GetInt("limit", defaultPageLimit), 1, maxPageLimit, defaultPageLimit)
	offset := request.GetInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	pages, err := s.audits.ListPages(ctx, id, limit, offset)
	if err != nil {
		return toolError(err)
	}

	rows := make([]map[string]interface{}, 0, len(pages))
	for _, p := range pages {
		row := map[string]interface{}{
			"page_id":    p.Page.ID,
			"url":        p.Page.URL,
			"title":      p.Analysis.Title,
			"word_count": p.Analysis.Signals.WordCount,
		}
		if p.Analysis.AEOScore != nil {
			row["aeo_score"] = *p.Analysis.AEOScore
		}
		if p.Analysis.GEOScore != nil {
			row["geo_score"] = *p.Analysis.GEOScore
		}
		if p.Analysis.RenderGapRatio != nil {
			row["render_gap_ratio"] = *p.Analysis.RenderGapRatio
		}
		rows = append(rows, row)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"audit_id": id,
		"pages":    rows,
		"limit":    limit,
		"offset":   offset,
	})), nil
}

func (s *Server) handleSearchAuditPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("audit_id", "")
	if id == "" {
		return mcp.NewToolResultError("audit_id parameter is required"), nil
	}
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	maxResults := clamp(request.GetInt("max_results", 10), 1, 100, 10)

	results := make([]map[string]interface{}, 0)
	queryLower := strings.ToLower(query)

	for offset := 0; len(results) < maxResults; offset += maxPageLimit {
		pages, err := s.audits.ListPages(ctx, id, maxPageLimit, offset)
		if err != nil {
			return toolError(err)
		}
		for _, p := range pages {
			if len(results) >= maxResults {
				break
			}
			location := matchLocation(p.Analysis, queryLower)
			if location == "" {
				continue
			}
			results = append(results, map[string]interface{}{
				"page_id":        p.Page.ID,
				"url":            p.Page.URL,
				"title":          p.Analysis.Title,
				"snippet":        extractSnippet(p.Analysis.Signals.Markdown, query, snippetLen),
				"match_location": location,
			})
		}
		if len(pages) < maxPageLimit {
			break
		}
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"audit_id":      id,
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	})), nil
}

func (s *Server) handleContinueAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("audit_id", "")
	if id == "" {
		return mcp.NewToolResultError("audit_id parameter is required"), nil
	}
	res, err := s.audits.Continue(ctx, id)
	if err != nil {
		return toolError(err)
	}

	result := map[string]interface{}{
		"action":         res.Action,
		"passes":         res.Passes,
		"pages_analyzed": res.Analyzed,
	}
	if res.Why != "" {
		result["why"] = res.Why
	}
	if res.Audit != nil {
		result["audit"] = auditSummary(res.Audit)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleFinalizeAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("audit_id", "")
	if id == "" {
		return mcp.NewToolResultError("audit_id parameter is required"), nil
	}
	if _, err := s.audits.Finalize(ctx, id); err != nil {
		return toolError(err)
	}
	view, err := s.audits.Get(ctx, id)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(auditSummary(view))), nil
}

func (s *Server) handleSweep(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.audits.Sweep(ctx, s.now())
	if err != nil {
		return toolError(err)
	}

	results := make([]map[string]interface{}, 0, len(report.Results))
	for _, r := range report.Results {
		row := map[string]interface{}{
			"audit_id":       r.AuditID,
			"action":         r.Action,
			"pages_analyzed": r.Analyzed,
			"age_minutes":    int(r.Age / time.Minute),
		}
		if r.Why != "" {
			row["why"] = r.Why
		}
		if r.Error != "" {
			row["error"] = r.Error
		}
		results = append(results, row)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"running":   report.Running,
		"checked":   report.Checked,
		"finalized": report.Finalized,
		"failed":    report.Failed,
		"errors":    report.Errors,
		"results":   results,
	})), nil
}

func auditSummary(view *models.AuditView) map[string]interface{} {
	out := map[string]interface{}{
		"audit_id":         view.ID,
		"root_url":         view.RootURL,
		"status":           view.Status,
		"started_at":       view.StartedAt.Format(time.RFC3339),
		"pages_discovered": view.Stats.Discovered,
		"pages_analyzed":   view.Stats.Analyzed,
		"pages_pending":    view.Stats.Pending,
	}
	if view.FinishedAt != nil {
		out["finished_at"] = view.FinishedAt.Format(time.RFC3339)
		out["duration_seconds"] = view.FinishedAt.Sub(view.StartedAt).Seconds()
	}
	if view.FailReason != "" {
		out["fail_reason"] = view.FailReason
	}
	if view.AEOScore != nil {
		out["aeo_score"] = *view.AEOScore
	}
	if view.GEOScore != nil {
		out["geo_score"] = *view.GEOScore
	}
	if view.Industry != "" {
		out["industry"] = view.Industry
	}
	return out
}

// matchLocation reports where queryLower first occurs: title, headings or content
func matchLocation(a models.AuditPageAnalysis, queryLower string) string {
	if strings.Contains(strings.ToLower(a.Title), queryLower) {
		return "title"
	}
	for _, h := range append([]string{a.H1}, a.Signals.Headings...) {
		if h != "" && strings.Contains(strings.ToLower(h), queryLower) {
			return "headings"
		}
	}
	if strings.Contains(strings.ToLower(a.Signals.Markdown), queryLower) {
		return "content"
	}
	return ""
}

func clamp(n, lo, hi, def int) int {
	if n <= 0 {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
		if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
			idx = i
			break
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := max(idx-maxLen/2, 0)
	end := min(idx+len(queryRunes)+maxLen/2, len(runes))

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
