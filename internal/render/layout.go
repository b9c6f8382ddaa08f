package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/pagelift/pagelift/internal/analyzer"
	"github.com/pagelift/pagelift/internal/storage"
)

const (
	fontRegular = "Helvetica"
	fontBold    = "Helvetica-Bold"

	pageLeft  = 50.0
	bodyWidth = 495.0

	issueRowsPerPage = 22
	recsPerPage      = 13
)

// document renders a completed report into PDF bytes using pdfcpu's JSON
// page-description API. The description is built in memory, so rendering
// needs no scratch files.
func document(r storage.AuditReport) ([]byte, error) {
	desc, err := pageDescription(r)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encoding page description: %w", err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(raw), &buf, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("creating pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// pageDescription lays the report out on A4 pages: a summary page with the
// grade and category table, then issues and recommendations paginated as
// needed. Coordinates are measured from the upper left.
func pageDescription(r storage.AuditReport) (map[string]any, error) {
	var categories []analyzer.CategoryScore
	if r.CategoriesJSON != "" {
		if err := json.Unmarshal([]byte(r.CategoriesJSON), &categories); err != nil {
			return nil, fmt.Errorf("decoding categories: %w", err)
		}
	}
	var issues []analyzer.Issue
	if r.IssuesJSON != "" {
		if err := json.Unmarshal([]byte(r.IssuesJSON), &issues); err != nil {
			return nil, fmt.Errorf("decoding issues: %w", err)
		}
	}
	var recommendations []string
	if r.RecommendationsJSON != "" {
		if err := json.Unmarshal([]byte(r.RecommendationsJSON), &recommendations); err != nil {
			return nil, fmt.Errorf("decoding recommendations: %w", err)
		}
	}

	pages := map[string]any{}
	pageNr := 1
	pages[strconv.Itoa(pageNr)] = summaryPage(r, categories)

	for _, group := range chunk(issues, issueRowsPerPage) {
		pageNr++
		pages[strconv.Itoa(pageNr)] = issuesPage(group)
	}

	start := 0
	for _, group := range chunk(recommendations, recsPerPage) {
		pageNr++
		pages[strconv.Itoa(pageNr)] = recommendationsPage(group, start)
		start += len(group)
	}

	return map[string]any{
		"paper":  "A4",
		"origin": "upperLeft",
		"pages":  pages,
	}, nil
}

func summaryPage(r storage.AuditReport, categories []analyzer.CategoryScore) map[string]any {
	texts := []map[string]any{
		textAt(r.Name, pageLeft, 72, font(fontBold, 21, "#1A1A1A")),
		textAt("Technical SEO audit", pageLeft, 94, font(fontRegular, 11, "#666666")),
		textAt(r.URL, pageLeft, 114, font(fontRegular, 10, "#444444")),
		textAt("Generated "+r.UpdatedAt.Format("2006-01-02 15:04 MST"), pageLeft, 130, font(fontRegular, 10, "#666666")),
		textAt(r.OverallGrade, 470, 108, font(fontBold, 46, gradeColor(r.OverallGrade))),
		textAt(fmt.Sprintf("Overall score %.1f / 100", r.OverallScore), pageLeft, 172, font(fontBold, 13, "#1A1A1A")),
	}
	content := map[string]any{}

	if len(categories) > 0 {
		texts = append(texts, textAt("Category scores", pageLeft, 210, font(fontBold, 13, "#1A1A1A")))
		rows := make([][]string, 0, len(categories))
		for _, c := range categories {
			rows = append(rows, []string{c.Name, fmt.Sprintf("%.1f", c.Score), fmt.Sprintf("%.0f%%", c.Weight*100)})
		}
		content["table"] = []map[string]any{
			table(pageLeft, 226, rows, []string{"Category", "Score", "Weight"}, []int{50, 25, 25}),
		}
	}

	content["text"] = texts
	return map[string]any{"content": content}
}

func issuesPage(issues []analyzer.Issue) map[string]any {
	rows := make([][]string, 0, len(issues))
	for _, is := range issues {
		rows = append(rows, []string{is.Severity, is.Category, truncate(is.Message, 84)})
	}
	return map[string]any{"content": map[string]any{
		"text": []map[string]any{
			textAt("Issues", pageLeft, 72, font(fontBold, 16, "#1A1A1A")),
		},
		"table": []map[string]any{
			table(pageLeft, 92, rows, []string{"Severity", "Category", "Issue"}, []int{15, 22, 63}),
		},
	}}
}

func recommendationsPage(recommendations []string, start int) map[string]any {
	texts := []map[string]any{
		textAt("Recommendations", pageLeft, 72, font(fontBold, 16, "#1A1A1A")),
	}
	y := 102.0
	for i, rec := range recommendations {
		entry := textAt(fmt.Sprintf("%d. %s", start+i+1, rec), pageLeft, y, font(fontRegular, 10, "#333333"))
		entry["width"] = bodyWidth
		texts = append(texts, entry)
		y += 50
	}
	return map[string]any{"content": map[string]any{"text": texts}}
}

func table(x, y float64, rows [][]string, header []string, colWidths []int) map[string]any {
	return map[string]any{
		"pos":        []float64{x, y},
		"width":      bodyWidth,
		"rows":       len(rows),
		"cols":       len(header),
		"colWidths":  colWidths,
		"lheight":    18,
		"values":     rows,
		"font":       font(fontRegular, 10, "#222222"),
		"border":     map[string]any{"width": 1, "col": "#AAAAAA"},
		"header": map[string]any{
			"values": header,
			"font":   font(fontBold, 10, "#FFFFFF"),
			"bgCol":  "#2F5D8C",
		},
	}
}

func textAt(value string, x, y float64, f map[string]any) map[string]any {
	return map[string]any{
		"value": value,
		"pos":   []float64{x, y},
		"font":  f,
	}
}

func font(name string, size int, col string) map[string]any {
	return map[string]any{"name": name, "size": size, "col": col}
}

func gradeColor(grade string) string {
	switch grade {
	case "A":
		return "#2E8B57"
	case "B":
		return "#3B7BBF"
	case "C":
		return "#C78A00"
	default:
		return "#B03A2E"
	}
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "..."
}
