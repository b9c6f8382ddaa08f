// Package api exposes the audit pipeline over HTTP and MCP. All endpoints
// except /health require bearer auth; resource ownership is enforced by the
// services underneath, which report foreign rows as not found.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pagelift/pagelift/internal/analyzer"
	"github.com/pagelift/pagelift/internal/audit"
	"github.com/pagelift/pagelift/internal/competitor"
	"github.com/pagelift/pagelift/internal/render"
	"github.com/pagelift/pagelift/internal/rewrite"
	"github.com/pagelift/pagelift/internal/storage"
)

const maxRequestBodySize = 10 << 20 // PDF uploads arrive base64-encoded in JSON

// Deps holds the services the handlers dispatch to.
type Deps struct {
	Store       *storage.Store
	Audits      *audit.Service
	Analyzer    *analyzer.Engine
	Rewrites    *rewrite.Engine
	Competitors *competitor.Service
	Renderer    *render.Renderer
	Verifier    TokenVerifier
}

// NewHandler builds the HTTP API. /health stays unauthenticated so probes
// work without credentials.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(PrincipalAuth(deps.Verifier))

		r.Post("/audits", handleCreateAudit(deps))
		r.Get("/audits", handleListAudits(deps))
		r.Get("/audits/{reportID}", handleGetAudit(deps))

		r.Post("/rewrites", handleRewriteActions(deps))

		r.Post("/reports/{reportID}/pdf", handleRenderPDF(deps))
		r.Get("/domains/{domain}/scores", handleScoreHistory(deps))

		r.Post("/competitors", handleAddCompetitor(deps))
		r.Get("/competitors", handleListCompetitors(deps))
		r.Post("/competitors/analyses", handleAnalyzeAllCompetitors(deps))
		r.Post("/competitors/{contentID}/analyses", handleAnalyzeCompetitor(deps))
		r.Get("/competitors/{contentID}/analyses", handleListCompetitorAnalyses(deps))

		r.Post("/projects", handleCreateProject(deps))
		r.Get("/projects", handleListProjects(deps))
		r.Delete("/projects/{projectID}", handleDeleteProject(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// --- Audits ---

type reportResponse struct {
	ID              string                   `json:"id"`
	ProjectID       string                   `json:"projectId"`
	ReportName      string                   `json:"reportName"`
	URL             string                   `json:"url"`
	Status          string                   `json:"status"`
	OverallScore    float64                  `json:"overallScore"`
	OverallGrade    string                   `json:"overallGrade,omitempty"`
	Categories      []analyzer.CategoryScore `json:"categories,omitempty"`
	Issues          []analyzer.Issue         `json:"issues,omitempty"`
	Recommendations []string                 `json:"recommendations,omitempty"`
	Error           string                   `json:"error,omitempty"`
	PDFRef          string                   `json:"pdfRef,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

func toReportResponse(r storage.AuditReport) reportResponse {
	resp := reportResponse{
		ID:           r.ID,
		ProjectID:    r.ProjectID,
		ReportName:   r.Name,
		URL:          r.URL,
		Status:       r.Status,
		OverallScore: r.OverallScore,
		OverallGrade: r.OverallGrade,
		Error:        r.ErrorMessage,
		PDFRef:       r.PDFRef,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.CategoriesJSON != "" {
		_ = json.Unmarshal([]byte(r.CategoriesJSON), &resp.Categories)
	}
	if r.IssuesJSON != "" {
		_ = json.Unmarshal([]byte(r.IssuesJSON), &resp.Issues)
	}
	if r.RecommendationsJSON != "" {
		_ = json.Unmarshal([]byte(r.RecommendationsJSON), &resp.Recommendations)
	}
	return resp
}

func handleCreateAudit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var p audit.CreateParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		report, err := deps.Audits.CreateReport(r.Context(), Principal(r.Context()), p)
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toReportResponse(report))
	}
}

func handleListAudits(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("projectId")

		reports, err := deps.Audits.ListReports(r.Context(), Principal(r.Context()), projectID)
		if err != nil {
			writeFault(w, r, err)
			return
		}

		out := make([]reportResponse, len(reports))
		for i := range reports {
			out[i] = toReportResponse(reports[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": out})
	}
}

func handleGetAudit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Audits.GetReport(r.Context(), Principal(r.Context()), chi.URLParam(r, "reportID"))
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReportResponse(report))
	}
}

// --- Rewrites ---

// rewriteActionRequest is the tagged union accepted by POST /rewrites; the
// action field selects which of the remaining fields are consulted.
type rewriteActionRequest struct {
	Action string `json:"action"`

	// rewriteContent
	ProjectID       string   `json:"projectId"`
	ContentID       string   `json:"contentId"`
	OriginalContent string   `json:"originalContent"`
	TargetKeywords  []string `json:"targetKeywords"`
	PreserveEEAT    bool     `json:"preserveEEAT"`

	// getProjectRewrites
	Limit int `json:"limit"`

	// deleteRewrite
	RewriteID string `json:"rewriteId"`
}

type rewriteResponse struct {
	ID                        string    `json:"id"`
	ProjectID                 string    `json:"projectId"`
	ContentID                 string    `json:"contentId,omitempty"`
	OriginalContent           string    `json:"originalContent"`
	RewrittenContent          string    `json:"rewrittenContent"`
	TargetKeywords            []string  `json:"targetKeywords"`
	PreserveEEAT              bool      `json:"preserveEEAT"`
	KeywordCoverageIncomplete bool      `json:"keywordCoverageIncomplete,omitempty"`
	CreatedAt                 time.Time `json:"createdAt"`
}

func toRewriteResponse(rw storage.Rewrite) rewriteResponse {
	resp := rewriteResponse{
		ID:                        rw.ID,
		ProjectID:                 rw.ProjectID,
		ContentID:                 rw.ContentID,
		OriginalContent:           rw.OriginalContent,
		RewrittenContent:          rw.RewrittenContent,
		PreserveEEAT:              rw.PreserveEEAT,
		KeywordCoverageIncomplete: rw.KeywordCoverageIncomplete,
		CreatedAt:                 rw.CreatedAt,
	}
	if rw.TargetKeywordsJSON != "" {
		_ = json.Unmarshal([]byte(rw.TargetKeywordsJSON), &resp.TargetKeywords)
	}
	return resp
}

func rewriteList(rws []storage.Rewrite) []rewriteResponse {
	out := make([]rewriteResponse, len(rws))
	for i := range rws {
		out[i] = toRewriteResponse(rws[i])
	}
	return out
}

func handleRewriteActions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req rewriteActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ctx := r.Context()
		user := Principal(ctx)

		switch req.Action {
		case "rewriteContent":
			rw, err := deps.Rewrites.RewriteContent(ctx, user, rewrite.Params{
				ProjectID:       req.ProjectID,
				ContentID:       req.ContentID,
				OriginalContent: req.OriginalContent,
				TargetKeywords:  req.TargetKeywords,
				PreserveEEAT:    req.PreserveEEAT,
			})
			if err != nil {
				writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"rewrite": toRewriteResponse(rw)})

		case "getContentRewrites":
			rws, err := deps.Rewrites.ContentRewrites(ctx, user, req.ContentID)
			if err != nil {
				writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"rewrites": rewriteList(rws)})

		case "getProjectRewrites":
			rws, err := deps.Rewrites.ProjectRewrites(ctx, user, req.ProjectID, req.Limit)
			if err != nil {
				writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"rewrites": rewriteList(rws)})

		case "deleteRewrite":
			if err := deps.Rewrites.DeleteRewrite(ctx, user, req.RewriteID); err != nil {
				writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

		case "":
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action is required")

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown action %q", req.Action)
		}
	}
}

// --- Reports & scores ---

func handleRenderPDF(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := deps.Renderer.GeneratePDF(r.Context(), Principal(r.Context()), chi.URLParam(r, "reportID"))
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"pdfUrl": ref})
	}
}

func handleScoreHistory(deps Deps) http.HandlerFunc {
	type scorePoint struct {
		Timestamp time.Time `json:"timestamp"`
		Score     float64   `json:"score"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		domain := strings.ToLower(chi.URLParam(r, "domain"))

		seq, err := deps.Analyzer.GetHistoricalScores(r.Context(), domain)
		if err != nil {
			writeFault(w, r, err)
			return
		}

		points := []scorePoint{}
		for ts, score := range seq {
			points = append(points, scorePoint{Timestamp: ts, Score: score})
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "scores": points})
	}
}

// --- Competitors ---

type competitorResponse struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	SourceType string    `json:"sourceType"`
	SourceRef  string    `json:"sourceRef,omitempty"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toCompetitorResponse(c storage.CompetitorContent) competitorResponse {
	return competitorResponse{
		ID:         c.ID,
		ProjectID:  c.ProjectID,
		SourceType: c.SourceType,
		SourceRef:  c.SourceRef,
		Title:      c.Title,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt,
	}
}

type analysisResponse struct {
	ID               string    `json:"id"`
	ContentID        string    `json:"contentId"`
	Summary          string    `json:"summary"`
	Strengths        []string  `json:"strengths"`
	ContentGaps      []string  `json:"contentGaps"`
	TopKeywords      []string  `json:"topKeywords"`
	WordCount        int       `json:"wordCount"`
	ReadabilityScore float64   `json:"readabilityScore"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toAnalysisResponse(a storage.CompetitorAnalysis) analysisResponse {
	resp := analysisResponse{
		ID:               a.ID,
		ContentID:        a.ContentID,
		Summary:          a.Summary,
		WordCount:        a.WordCount,
		ReadabilityScore: a.ReadabilityScore,
		CreatedAt:        a.CreatedAt,
	}
	if a.StrengthsJSON != "" {
		_ = json.Unmarshal([]byte(a.StrengthsJSON), &resp.Strengths)
	}
	if a.GapsJSON != "" {
		_ = json.Unmarshal([]byte(a.GapsJSON), &resp.ContentGaps)
	}
	if a.KeywordsJSON != "" {
		_ = json.Unmarshal([]byte(a.KeywordsJSON), &resp.TopKeywords)
	}
	return resp
}

func analysisList(as []storage.CompetitorAnalysis) []analysisResponse {
	out := make([]analysisResponse, len(as))
	for i := range as {
		out[i] = toAnalysisResponse(as[i])
	}
	return out
}

func handleAddCompetitor(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var p competitor.AddParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		c, err := deps.Competitors.AddContent(r.Context(), Principal(r.Context()), p)
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCompetitorResponse(c))
	}
}

func handleListCompetitors(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("projectId")

		contents, err := deps.Competitors.Contents(r.Context(), Principal(r.Context()), projectID)
		if err != nil {
			writeFault(w, r, err)
			return
		}

		out := make([]competitorResponse, len(contents))
		for i := range contents {
			out[i] = toCompetitorResponse(contents[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"competitors": out})
	}
}

func handleAnalyzeCompetitor(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Competitors.Analyze(r.Context(), Principal(r.Context()), chi.URLParam(r, "contentID"))
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAnalysisResponse(a))
	}
}

func handleListCompetitorAnalyses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		as, err := deps.Competitors.Analyses(r.Context(), Principal(r.Context()), chi.URLParam(r, "contentID"))
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": analysisList(as)})
	}
}

func handleAnalyzeAllCompetitors(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("projectId")

		as, err := deps.Competitors.AnalyzeAll(r.Context(), Principal(r.Context()), projectID)
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": analysisList(as)})
	}
}

// --- Projects ---

type projectRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"createdAt"`
}

func handleCreateProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req projectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		name := strings.TrimSpace(req.Name)
		domain := strings.ToLower(strings.TrimSpace(req.Domain))
		if name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if domain == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "domain is required")
			return
		}

		p := storage.Project{
			ID:        uuid.New().String(),
			UserID:    Principal(r.Context()),
			Name:      name,
			Domain:    domain,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateProject(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create project: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, projectResponse{
			ID: p.ID, Name: p.Name, Domain: p.Domain, CreatedAt: p.CreatedAt,
		})
	}
}

func handleListProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects(Principal(r.Context()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}

		out := make([]projectResponse, len(projects))
		for i, p := range projects {
			out[i] = projectResponse{ID: p.ID, Name: p.Name, Domain: p.Domain, CreatedAt: p.CreatedAt}
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": out})
	}
}

func handleDeleteProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "projectID")

		p, err := deps.Store.GetProject(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load project: %v", err)
			return
		}
		if p.UserID != Principal(r.Context()) {
			// Foreign projects look identical to missing ones.
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}

		if err := deps.Store.DeleteProject(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete project: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
