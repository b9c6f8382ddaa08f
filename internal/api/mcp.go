package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pagelift/pagelift/internal/analyzer"
	"github.com/pagelift/pagelift/internal/audit"
	"github.com/pagelift/pagelift/internal/rewrite"
	"github.com/pagelift/pagelift/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Tool calls act as
// DefaultUser: MCP runs over stdio for a single local operator, not as a
// multi-tenant surface.
type MCPDeps struct {
	Store       *storage.Store
	Audits      *audit.Service
	Analyzer    *analyzer.Engine
	Rewrites    *rewrite.Engine
	DefaultUser string
}

// NewMCPServer creates an MCP server with all pagelift tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pagelift",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pagelift — technical SEO audits, score history, and keyword-targeted content rewrites."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_audit",
			mcp.WithDescription("Schedule a technical SEO audit for a URL. Returns the pending report; poll get_report for the result."),
			mcp.WithString("projectId", mcp.Description("Project the report belongs to"), mcp.Required()),
			mcp.WithString("url", mcp.Description("Absolute http(s) URL of the page to audit"), mcp.Required()),
			mcp.WithString("reportName", mcp.Description("Optional report name; defaults to the domain")),
			mcp.WithBoolean("forceRefresh", mcp.Description("Bypass the cached analysis for this domain")),
		),
		mcpRunAudit(deps),
	)

	s.AddTool(
		mcp.NewTool("get_report",
			mcp.WithDescription("Fetch an audit report by id, including scores, issues, and recommendations once completed."),
			mcp.WithString("reportId", mcp.Description("Report id returned by run_audit"), mcp.Required()),
		),
		mcpGetReport(deps),
	)

	s.AddTool(
		mcp.NewTool("list_reports",
			mcp.WithDescription("List a project's audit reports, newest first."),
			mcp.WithString("projectId", mcp.Description("Project to list reports for"), mcp.Required()),
		),
		mcpListReports(deps),
	)

	s.AddTool(
		mcp.NewTool("rewrite_content",
			mcp.WithDescription("Rewrite content so every target keyword appears naturally, preserving meaning and structure."),
			mcp.WithString("projectId", mcp.Description("Project the rewrite belongs to"), mcp.Required()),
			mcp.WithString("originalContent", mcp.Description("The content to rewrite"), mcp.Required()),
			mcp.WithArray("targetKeywords", mcp.Description("Keywords the rewrite must include"), mcp.Required()),
			mcp.WithString("contentId", mcp.Description("Optional stable id grouping versions of the same content")),
			mcp.WithBoolean("preserveEEAT", mcp.Description("Preserve experience, expertise, authoritativeness, and trust signals")),
		),
		mcpRewriteContent(deps),
	)

	s.AddTool(
		mcp.NewTool("score_history",
			mcp.WithDescription("Return a domain's historical overall scores as an ascending (timestamp, score) series."),
			mcp.WithString("domain", mcp.Description("Registrable domain, e.g. example.com"), mcp.Required()),
		),
		mcpScoreHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pagelift://projects",
			"Projects",
			mcp.WithResourceDescription("The operator's projects as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProjects(deps),
	)

	return s
}

func mcpRunAudit(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("projectId")
		if err != nil {
			return mcpError("projectId is required"), nil
		}
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}

		report, err := deps.Audits.CreateReport(ctx, deps.DefaultUser, audit.CreateParams{
			ProjectID: projectID,
			Name:      req.GetString("reportName", ""),
			URL:       url,
			Options:   audit.ReportOptions{ForceRefresh: req.GetBool("forceRefresh", false)},
		})
		if err != nil {
			return mcpError(fmt.Sprintf("audit not scheduled: %v", err)), nil
		}

		b, err := json.Marshal(map[string]string{
			"reportId": report.ID,
			"status":   report.Status,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reportID, err := req.RequireString("reportId")
		if err != nil {
			return mcpError("reportId is required"), nil
		}

		report, err := deps.Audits.GetReport(ctx, deps.DefaultUser, reportID)
		if err != nil {
			return mcpError(fmt.Sprintf("get report failed: %v", err)), nil
		}

		b, err := json.Marshal(toReportResponse(report))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListReports(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("projectId")
		if err != nil {
			return mcpError("projectId is required"), nil
		}

		reports, err := deps.Audits.ListReports(ctx, deps.DefaultUser, projectID)
		if err != nil {
			return mcpError(fmt.Sprintf("list reports failed: %v", err)), nil
		}

		type reportSummary struct {
			ID           string  `json:"id"`
			ReportName   string  `json:"reportName"`
			URL          string  `json:"url"`
			Status       string  `json:"status"`
			OverallScore float64 `json:"overallScore"`
			OverallGrade string  `json:"overallGrade,omitempty"`
			CreatedAt    string  `json:"createdAt"`
		}
		summaries := make([]reportSummary, len(reports))
		for i, r := range reports {
			summaries[i] = reportSummary{
				ID:           r.ID,
				ReportName:   r.Name,
				URL:          r.URL,
				Status:       r.Status,
				OverallScore: r.OverallScore,
				OverallGrade: r.OverallGrade,
				CreatedAt:    r.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reports: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRewriteContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("projectId")
		if err != nil {
			return mcpError("projectId is required"), nil
		}
		original, err := req.RequireString("originalContent")
		if err != nil {
			return mcpError("originalContent is required"), nil
		}
		keywords := req.GetStringSlice("targetKeywords", nil)
		if len(keywords) == 0 {
			return mcpError("targetKeywords is required"), nil
		}

		rw, err := deps.Rewrites.RewriteContent(ctx, deps.DefaultUser, rewrite.Params{
			ProjectID:       projectID,
			ContentID:       req.GetString("contentId", ""),
			OriginalContent: original,
			TargetKeywords:  keywords,
			PreserveEEAT:    req.GetBool("preserveEEAT", false),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("rewrite failed: %v", err)), nil
		}

		b, err := json.Marshal(toRewriteResponse(rw))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal rewrite: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpScoreHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		domain, err := req.RequireString("domain")
		if err != nil {
			return mcpError("domain is required"), nil
		}

		seq, err := deps.Analyzer.GetHistoricalScores(ctx, domain)
		if err != nil {
			return mcpError(fmt.Sprintf("score history failed: %v", err)), nil
		}

		type scorePoint struct {
			Timestamp string  `json:"timestamp"`
			Score     float64 `json:"score"`
		}
		points := []scorePoint{}
		for ts, score := range seq {
			points = append(points, scorePoint{Timestamp: ts.Format(time.RFC3339), Score: score})
		}

		b, err := json.Marshal(points)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProjects(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects, err := deps.Store.ListProjects(deps.DefaultUser)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		type projectSummary struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Domain string `json:"domain"`
		}
		summaries := make([]projectSummary, len(projects))
		for i, p := range projects {
			summaries[i] = projectSummary{ID: p.ID, Name: p.Name, Domain: p.Domain}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal projects: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
