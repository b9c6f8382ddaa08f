package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagelift/pagelift/internal/config"
)

type reportView struct {
	ID           string  `json:"id"`
	ReportName   string  `json:"reportName"`
	URL          string  `json:"url"`
	Status       string  `json:"status"`
	OverallScore float64 `json:"overallScore"`
	OverallGrade string  `json:"overallGrade"`
	Error        string  `json:"error"`
	PDFRef       string  `json:"pdfRef"`
	CreatedAt    string  `json:"createdAt"`
}

// --- audit ---

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Create and inspect technical SEO audits",
}

var auditCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedule an audit for a URL",
	Long: `Schedule a technical SEO audit for a URL.

The audit runs in the background; poll it with "pagelift audit get <id>".

Examples:
  pagelift audit create --project 4f1f... --url https://example.com
  pagelift audit create --project 4f1f... --url https://example.com --name "Homepage" --force-refresh`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		pageURL, _ := cmd.Flags().GetString("url")
		name, _ := cmd.Flags().GetString("name")
		forceRefresh, _ := cmd.Flags().GetBool("force-refresh")

		if projectID == "" || pageURL == "" {
			return fmt.Errorf("--project and --url are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"projectId":  projectID,
			"reportName": name,
			"url":        pageURL,
			"options":    map[string]any{"forceRefresh": forceRefresh},
		}
		resp, err := client.post(cmd.Context(), "/audits", req)
		if err != nil {
			return err
		}

		var report reportView
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSuccess("Audit %s scheduled (%s)", report.ID, report.Status)
		return nil
	},
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's audit reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		if projectID == "" {
			return fmt.Errorf("--project is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/audits?projectId="+url.QueryEscape(projectID))
		if err != nil {
			return err
		}

		var result struct {
			Reports []reportView `json:"reports"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Reports) == 0 {
			fmt.Println("No reports found.")
			return nil
		}

		for _, r := range result.Reports {
			line := fmt.Sprintf("%s  %-9s  %s", colorize(colorCyan, r.ID[:8]), r.Status, r.URL)
			if r.Status == "completed" {
				line += fmt.Sprintf("  %.0f (%s)", r.OverallScore, r.OverallGrade)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var auditGetCmd = &cobra.Command{
	Use:   "get <reportId>",
	Short: "Show an audit report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		for {
			resp, err := client.get(cmd.Context(), "/audits/"+args[0])
			if err != nil {
				return err
			}

			var report map[string]any
			if err := decodeJSON(resp, &report); err != nil {
				return err
			}

			status, _ := report["status"].(string)
			if !wait || status == "completed" || status == "failed" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(2 * time.Second):
			}
		}
	},
}

func init() {
	auditCreateCmd.Flags().String("project", "", "project the report belongs to")
	auditCreateCmd.Flags().String("url", "", "absolute http(s) URL to audit")
	auditCreateCmd.Flags().String("name", "", "report name (defaults to the domain)")
	auditCreateCmd.Flags().Bool("force-refresh", false, "bypass the cached analysis for this domain")
	auditListCmd.Flags().String("project", "", "project to list reports for")
	auditGetCmd.Flags().Bool("wait", false, "poll until the report reaches a terminal state")

	auditCmd.AddCommand(auditCreateCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditGetCmd)
}

// --- rewrite ---

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Rewrite content to target keywords",
	Long: `Rewrite content so every target keyword appears naturally.

The original content is kept verbatim alongside the rewrite, so every
version stays diffable. The rewritten content is printed to stdout.

Examples:
  pagelift rewrite --project 4f1f... --file article.md --keywords "seo audit,site speed"
  pagelift rewrite --project 4f1f... --text "..." --keywords "seo" --preserve-eeat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		keywordsStr, _ := cmd.Flags().GetString("keywords")
		contentID, _ := cmd.Flags().GetString("content-id")
		preserveEEAT, _ := cmd.Flags().GetBool("preserve-eeat")

		if projectID == "" {
			return fmt.Errorf("--project is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if keywordsStr == "" {
			return fmt.Errorf("--keywords is required")
		}

		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		keywords := strings.Split(keywordsStr, ",")
		for i := range keywords {
			keywords[i] = strings.TrimSpace(keywords[i])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"action":          "rewriteContent",
			"projectId":       projectID,
			"contentId":       contentID,
			"originalContent": text,
			"targetKeywords":  keywords,
			"preserveEEAT":    preserveEEAT,
		}
		resp, err := client.post(cmd.Context(), "/rewrites", req)
		if err != nil {
			return err
		}

		var result struct {
			Rewrite struct {
				ID                        string `json:"id"`
				RewrittenContent          string `json:"rewrittenContent"`
				KeywordCoverageIncomplete bool   `json:"keywordCoverageIncomplete"`
			} `json:"rewrite"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Rewrite.KeywordCoverageIncomplete {
			printWarning("Saved rewrite %s, but not every keyword was incorporated", result.Rewrite.ID)
		} else {
			printSuccess("Saved rewrite %s", result.Rewrite.ID)
		}
		fmt.Println(result.Rewrite.RewrittenContent)
		return nil
	},
}

func init() {
	rewriteCmd.Flags().String("project", "", "project the rewrite belongs to")
	rewriteCmd.Flags().String("text", "", "content to rewrite")
	rewriteCmd.Flags().String("file", "", "file with content to rewrite")
	rewriteCmd.Flags().String("keywords", "", "comma-separated target keywords")
	rewriteCmd.Flags().String("content-id", "", "stable id grouping versions of the same content")
	rewriteCmd.Flags().Bool("preserve-eeat", false, "preserve experience/expertise/authoritativeness/trust signals")
}

// --- pdf ---

var pdfCmd = &cobra.Command{
	Use:   "pdf <reportId>",
	Short: "Render a completed report to PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reports/"+args[0]+"/pdf", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("PDF ready")
		fmt.Println(result["pdfUrl"])
		return nil
	},
}

// --- scores ---

var scoresCmd = &cobra.Command{
	Use:   "scores <domain>",
	Short: "Show a domain's historical overall scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/domains/"+url.PathEscape(args[0])+"/scores")
		if err != nil {
			return err
		}

		var result struct {
			Domain string `json:"domain"`
			Scores []struct {
				Timestamp string  `json:"timestamp"`
				Score     float64 `json:"score"`
			} `json:"scores"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Scores) == 0 {
			fmt.Printf("No scores recorded for %s.\n", result.Domain)
			return nil
		}

		for _, p := range result.Scores {
			fmt.Printf("%s  %6.1f\n", p.Timestamp, p.Score)
		}
		return nil
	},
}

// --- competitor ---

var competitorCmd = &cobra.Command{
	Use:   "competitor",
	Short: "Ingest and analyze competitor content",
}

var competitorAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add competitor content from text, a URL, or a PDF",
	Long: `Add competitor content to a project.

Examples:
  pagelift competitor add --project 4f1f... --url https://rival.com/guide
  pagelift competitor add --project 4f1f... --text "..." --title "Rival guide"
  pagelift competitor add --project 4f1f... --pdf ./whitepaper.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		text, _ := cmd.Flags().GetString("text")
		pageURL, _ := cmd.Flags().GetString("url")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		title, _ := cmd.Flags().GetString("title")

		if projectID == "" {
			return fmt.Errorf("--project is required")
		}
		if text == "" && pageURL == "" && pdfPath == "" {
			return fmt.Errorf("one of --text, --url, or --pdf is required")
		}

		req := map[string]any{
			"projectId": projectID,
			"title":     title,
		}
		switch {
		case text != "":
			req["sourceType"] = "text"
			req["text"] = text
		case pageURL != "":
			req["sourceType"] = "url"
			req["url"] = pageURL
		case pdfPath != "":
			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("reading PDF: %w", err)
			}
			req["sourceType"] = "pdf"
			req["pdfBase64"] = base64.StdEncoding.EncodeToString(data)
			req["filename"] = pdfPath
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/competitors", req)
		if err != nil {
			return err
		}

		var result struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Added competitor content %s (%s)", result.ID, result.Title)
		return nil
	},
}

var competitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's competitor content",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		if projectID == "" {
			return fmt.Errorf("--project is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/competitors?projectId="+url.QueryEscape(projectID))
		if err != nil {
			return err
		}

		var result struct {
			Competitors []struct {
				ID         string `json:"id"`
				SourceType string `json:"sourceType"`
				Title      string `json:"title"`
				CreatedAt  string `json:"createdAt"`
			} `json:"competitors"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Competitors) == 0 {
			fmt.Println("No competitor content found.")
			return nil
		}

		for _, c := range result.Competitors {
			fmt.Printf("%s  %-4s  %s\n", colorize(colorCyan, c.ID[:8]), c.SourceType, c.Title)
		}
		return nil
	},
}

var competitorAnalyzeCmd = &cobra.Command{
	Use:   "analyze <contentId>",
	Short: "Run a fresh analysis of one competitor content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/competitors/"+args[0]+"/analyses", nil)
		if err != nil {
			return err
		}

		var analysis any
		if err := decodeJSON(resp, &analysis); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	},
}

func init() {
	competitorAddCmd.Flags().String("project", "", "project the content belongs to")
	competitorAddCmd.Flags().String("text", "", "competitor content as text")
	competitorAddCmd.Flags().String("url", "", "competitor page URL to fetch")
	competitorAddCmd.Flags().String("pdf", "", "competitor PDF file to extract")
	competitorAddCmd.Flags().String("title", "", "title for the content")
	competitorListCmd.Flags().String("project", "", "project to list content for")

	competitorCmd.AddCommand(competitorAddCmd)
	competitorCmd.AddCommand(competitorListCmd)
	competitorCmd.AddCommand(competitorAnalyzeCmd)
}

// --- project ---

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		domain, _ := cmd.Flags().GetString("domain")
		if name == "" || domain == "" {
			return fmt.Errorf("--name and --domain are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/projects", map[string]string{
			"name":   name,
			"domain": domain,
		})
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created project %s", result.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects")
		if err != nil {
			return err
		}

		var result struct {
			Projects []struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Domain string `json:"domain"`
			} `json:"projects"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}

		for _, p := range result.Projects {
			fmt.Printf("%s  %-24s  %s\n", colorize(colorCyan, p.ID[:8]), p.Name, p.Domain)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <projectId>",
	Short: "Delete a project and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the project with all its reports, rewrites, and competitor data. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/projects/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted project %s", args[0])
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().String("name", "", "project name")
	projectCreateCmd.Flags().String("domain", "", "primary domain of the project")
	projectDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
