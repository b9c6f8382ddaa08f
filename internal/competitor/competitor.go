// Package competitor ingests rival content from text, live URLs, or PDF
// uploads and derives metrics and LLM insights from it. Analyses are
// append-only: re-analyzing adds a row, history stays intact.
package competitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pagelift/pagelift/internal/fault"
	"github.com/pagelift/pagelift/internal/fetch"
	"github.com/pagelift/pagelift/internal/llm"
	"github.com/pagelift/pagelift/internal/storage"
)

// Content source types.
const (
	SourceText = "text"
	SourceURL  = "url"
	SourcePDF  = "pdf"
)

// schemaRetries bounds the stricter re-prompts after a malformed model reply.
const schemaRetries = 2

// batchConcurrency bounds parallel LLM calls during a project-wide analysis.
const batchConcurrency = 4

// Fetcher retrieves live competitor pages.
type Fetcher interface {
	FetchPage(ctx context.Context, pageURL string) (fetch.Page, error)
}

// Generator produces schema-constrained completions.
type Generator interface {
	Complete(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error)
}

// Store persists competitor rows and resolves project ownership.
type Store interface {
	GetProject(id string) (storage.Project, error)
	SaveCompetitorContent(c storage.CompetitorContent) error
	GetCompetitorContent(id string) (storage.CompetitorContent, error)
	ListCompetitorContents(projectID string) ([]storage.CompetitorContent, error)
	SaveCompetitorAnalysis(a storage.CompetitorAnalysis) error
	ListCompetitorAnalyses(contentID string) ([]storage.CompetitorAnalysis, error)
}

// AddParams describe one piece of competitor content. Exactly one of Text,
// URL, or PDFBase64 is consulted, selected by SourceType.
type AddParams struct {
	ProjectID  string `json:"projectId"`
	SourceType string `json:"sourceType"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
	URL        string `json:"url,omitempty"`
	PDFBase64  string `json:"pdfBase64,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// Service ingests and analyzes competitor content.
type Service struct {
	store   Store
	fetcher Fetcher
	gen     Generator
	logger  *slog.Logger
}

// New creates a Service with the given collaborators.
func New(store Store, fetcher Fetcher, gen Generator) *Service {
	return &Service{
		store:   store,
		fetcher: fetcher,
		gen:     gen,
		logger:  slog.Default(),
	}
}

// AddContent ingests one piece of competitor content and returns the stored
// row. URL sources are fetched live, PDF sources are decoded and their text
// extracted; either failure surfaces as a fault, nothing is stored.
func (s *Service) AddContent(ctx context.Context, userID string, p AddParams) (storage.CompetitorContent, error) {
	if err := s.authorizeProject(userID, p.ProjectID); err != nil {
		return storage.CompetitorContent{}, err
	}

	var (
		text      string
		title     = strings.TrimSpace(p.Title)
		sourceRef string
	)
	switch strings.ToLower(strings.TrimSpace(p.SourceType)) {
	case SourceText:
		text = p.Text
	case SourceURL:
		if strings.TrimSpace(p.URL) == "" {
			return storage.CompetitorContent{}, fault.New(fault.Validation, "url is required for url sources")
		}
		page, err := s.fetcher.FetchPage(ctx, p.URL)
		if err != nil {
			return storage.CompetitorContent{}, err
		}
		text = page.Text
		sourceRef = p.URL
		if title == "" {
			title = page.Title
		}
	case SourcePDF:
		if p.PDFBase64 == "" {
			return storage.CompetitorContent{}, fault.New(fault.Validation, "pdfBase64 is required for pdf sources")
		}
		data, err := base64.StdEncoding.DecodeString(p.PDFBase64)
		if err != nil {
			return storage.CompetitorContent{}, fault.Wrap(fault.Validation, err, "decoding pdfBase64")
		}
		text, err = extractPDFText(data)
		if err != nil {
			return storage.CompetitorContent{}, err
		}
		sourceRef = p.Filename
	default:
		return storage.CompetitorContent{}, fault.Errorf(fault.Validation,
			"sourceType must be one of %s, %s, %s", SourceText, SourceURL, SourcePDF)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return storage.CompetitorContent{}, fault.New(fault.Validation, "content is empty")
	}
	if title == "" {
		title = clipRunes(firstLine(text), 80)
	}

	c := storage.CompetitorContent{
		ID:         uuid.New().String(),
		ProjectID:  p.ProjectID,
		SourceType: strings.ToLower(strings.TrimSpace(p.SourceType)),
		SourceRef:  sourceRef,
		Title:      title,
		Content:    text,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveCompetitorContent(c); err != nil {
		return storage.CompetitorContent{}, fmt.Errorf("saving competitor content: %w", err)
	}
	s.logger.Info("competitor content added",
		"project_id", p.ProjectID, "content_id", c.ID, "source", c.SourceType, "words", wordCount(text))
	return c, nil
}

// Analyze computes deterministic metrics and LLM insights for one content
// item and appends the result as a new analysis row.
func (s *Service) Analyze(ctx context.Context, userID, contentID string) (storage.CompetitorAnalysis, error) {
	content, err := s.authorizedContent(userID, contentID)
	if err != nil {
		return storage.CompetitorAnalysis{}, err
	}
	return s.analyze(ctx, content)
}

// AnalyzeAll analyzes every content item in the project with bounded
// concurrency and returns the new rows in the project's content order.
// On error the already-completed analyses stay persisted.
func (s *Service) AnalyzeAll(ctx context.Context, userID, projectID string) ([]storage.CompetitorAnalysis, error) {
	if err := s.authorizeProject(userID, projectID); err != nil {
		return nil, err
	}
	contents, err := s.store.ListCompetitorContents(projectID)
	if err != nil {
		return nil, fmt.Errorf("listing competitor contents: %w", err)
	}
	if len(contents) == 0 {
		return nil, nil
	}

	results := make([]storage.CompetitorAnalysis, len(contents))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, c := range contents {
		g.Go(func() error {
			a, err := s.analyze(gCtx, c)
			if err != nil {
				return fmt.Errorf("analyzing content %s: %w", c.ID, err)
			}
			results[i] = a
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Contents returns the project's competitor content newest-first.
func (s *Service) Contents(ctx context.Context, userID, projectID string) ([]storage.CompetitorContent, error) {
	if err := s.authorizeProject(userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListCompetitorContents(projectID)
}

// Analyses returns a content item's analysis history newest-first.
func (s *Service) Analyses(ctx context.Context, userID, contentID string) ([]storage.CompetitorAnalysis, error) {
	if _, err := s.authorizedContent(userID, contentID); err != nil {
		return nil, err
	}
	return s.store.ListCompetitorAnalyses(contentID)
}

func (s *Service) analyze(ctx context.Context, content storage.CompetitorContent) (storage.CompetitorAnalysis, error) {
	out, err := s.insights(ctx, content)
	if err != nil {
		return storage.CompetitorAnalysis{}, err
	}

	strengths, err := json.Marshal(out.Strengths)
	if err != nil {
		return storage.CompetitorAnalysis{}, fmt.Errorf("encoding strengths: %w", err)
	}
	gaps, err := json.Marshal(out.ContentGaps)
	if err != nil {
		return storage.CompetitorAnalysis{}, fmt.Errorf("encoding gaps: %w", err)
	}
	keywords, err := json.Marshal(out.TopKeywords)
	if err != nil {
		return storage.CompetitorAnalysis{}, fmt.Errorf("encoding keywords: %w", err)
	}

	a := storage.CompetitorAnalysis{
		ID:               uuid.New().String(),
		ContentID:        content.ID,
		Summary:          out.Summary,
		StrengthsJSON:    string(strengths),
		GapsJSON:         string(gaps),
		KeywordsJSON:     string(keywords),
		WordCount:        wordCount(content.Content),
		ReadabilityScore: readability(content.Content),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.SaveCompetitorAnalysis(a); err != nil {
		return storage.CompetitorAnalysis{}, fmt.Errorf("saving analysis: %w", err)
	}
	return a, nil
}

// insights runs the completion loop, re-prompting after malformed replies up
// to schemaRetries times.
func (s *Service) insights(ctx context.Context, content storage.CompetitorContent) (insightsOutput, error) {
	messages := buildPrompt(content.Title, content.Content)
	for attempt := 0; ; attempt++ {
		raw, err := s.gen.Complete(ctx, messages, insightsSchema)
		if err != nil {
			return insightsOutput{}, err
		}

		out, perr := parseInsights(raw)
		if perr == nil {
			return out, nil
		}
		if attempt == schemaRetries {
			return insightsOutput{},
				fault.Wrap(fault.Generation, perr, "model output failed schema validation after re-prompts")
		}

		s.logger.Warn("competitor insights failed schema validation",
			"content_id", content.ID, "attempt", attempt+1, "error", perr)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: raw},
			llm.Message{Role: "user", Content: strictReprompt},
		)
	}
}

func (s *Service) authorizeProject(userID, projectID string) error {
	if projectID == "" {
		return fault.New(fault.Validation, "projectId is required")
	}
	project, err := s.store.GetProject(projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return fault.New(fault.NotFound, "project not found")
	}
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	if project.UserID != userID {
		return fault.New(fault.NotFound, "project not found")
	}
	return nil
}

func (s *Service) authorizedContent(userID, contentID string) (storage.CompetitorContent, error) {
	if contentID == "" {
		return storage.CompetitorContent{}, fault.New(fault.Validation, "contentId is required")
	}
	content, err := s.store.GetCompetitorContent(contentID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.CompetitorContent{}, fault.New(fault.NotFound, "competitor content not found")
	}
	if err != nil {
		return storage.CompetitorContent{}, fmt.Errorf("loading competitor content: %w", err)
	}
	if err := s.authorizeProject(userID, content.ProjectID); err != nil {
		return storage.CompetitorContent{}, err
	}
	return content, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
