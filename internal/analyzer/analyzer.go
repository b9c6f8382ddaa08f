// Package analyzer turns fetched page signals into a technical SEO score
// set: per-category scores, a weighted overall score, a letter grade, and
// the issues and recommendations behind them.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pagelift/pagelift/internal/fetch"
	"github.com/pagelift/pagelift/internal/storage"
)

// PageFetcher retrieves a page and its extracted signals.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (fetch.Page, error)
}

// ScoreCache is the cache-aside store for computed analyses.
type ScoreCache interface {
	Fresh(domain string) (storage.TechnicalAnalysis, bool, error)
	Append(a storage.TechnicalAnalysis) error
	History(domain string, until time.Time) ([]storage.ScorePoint, error)
}

// Category names as they appear in score maps and report JSON.
const (
	CategoryPerformance    = "performance"
	CategoryContent        = "content"
	CategorySecurity       = "security"
	CategoryMobile         = "mobile"
	CategoryStructuredData = "structuredData"
)

// categories fixes the scoring order and the per-category weights.
// Weights sum to 1.0.
var categories = []struct {
	Name   string
	Weight float64
}{
	{CategoryPerformance, 0.30},
	{CategoryContent, 0.25},
	{CategorySecurity, 0.20},
	{CategoryMobile, 0.15},
	{CategoryStructuredData, 0.10},
}

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue flags a concrete problem found on an audited page.
type Issue struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// CategoryScore pairs a category with its score and weight for display.
type CategoryScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Result is the outcome of one technical analysis.
type Result struct {
	Domain          string             `json:"domain"`
	AuditID         string             `json:"auditId"`
	Scores          map[string]float64 `json:"scores"`
	Categories      []CategoryScore    `json:"categories"`
	OverallScore    float64            `json:"overallScore"`
	OverallGrade    string             `json:"overallGrade"`
	Issues          []Issue            `json:"issues"`
	Recommendations []string           `json:"recommendations"`
	ComputedAt      time.Time          `json:"computedAt"`
	FromCache       bool               `json:"fromCache"`
}

// Options tune a single analysis run.
type Options struct {
	// ForceRefresh skips the cache read and always recomputes.
	ForceRefresh bool
}

// Engine computes technical analyses with a cache-aside read path.
type Engine struct {
	fetcher PageFetcher
	cache   ScoreCache
	logger  *slog.Logger
}

// New creates an Engine with the given collaborators.
func New(fetcher PageFetcher, cache ScoreCache) *Engine {
	return &Engine{
		fetcher: fetcher,
		cache:   cache,
		logger:  slog.Default(),
	}
}

// AnalyzeTechnicalSEO returns the newest cached analysis for domain when its
// age is below the cache TTL; otherwise it fetches the page, computes a fresh
// score set, and appends it to the domain's history. A cache hit never
// fetches or recomputes.
func (e *Engine) AnalyzeTechnicalSEO(ctx context.Context, auditID, domain, pageURL string, opts Options) (Result, error) {
	if !opts.ForceRefresh {
		cached, ok, err := e.cache.Fresh(domain)
		if err != nil {
			return Result{}, fmt.Errorf("reading score cache: %w", err)
		}
		if ok {
			res, err := resultFromCached(cached)
			if err != nil {
				return Result{}, err
			}
			e.logger.Debug("analysis served from cache",
				"domain", domain, "computed_at", cached.ComputedAt)
			return res, nil
		}
	}

	page, err := e.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return Result{}, err
	}

	scores, issues, recs := scorePage(page)
	overall := overallScore(scores)

	res := Result{
		Domain:          domain,
		AuditID:         auditID,
		Scores:          scores,
		Categories:      orderedCategories(scores),
		OverallScore:    overall,
		OverallGrade:    Grade(overall),
		Issues:          issues,
		Recommendations: recs,
		ComputedAt:      time.Now().UTC(),
	}

	entry, err := analysisRow(res)
	if err != nil {
		return Result{}, err
	}
	if err := e.cache.Append(entry); err != nil {
		return Result{}, fmt.Errorf("storing analysis: %w", err)
	}

	e.logger.Info("technical analysis computed",
		"domain", domain, "score", overall, "grade", res.OverallGrade)
	return res, nil
}

// GetHistoricalScores returns the domain's (timestamp, overallScore) series
// ascending by time, with no entry newer than now. The sequence iterates a
// materialized snapshot, so it is restartable and unaffected by appends that
// land after the call.
func (e *Engine) GetHistoricalScores(ctx context.Context, domain string) (iter.Seq2[time.Time, float64], error) {
	points, err := e.cache.History(domain, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return func(yield func(time.Time, float64) bool) {
		for _, p := range points {
			if !yield(p.ComputedAt, p.OverallScore) {
				return
			}
		}
	}, nil
}

// Grade maps an overall score to its letter band.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	default:
		return "D"
	}
}

// orderedCategories fixes map iteration into the canonical category order.
func orderedCategories(scores map[string]float64) []CategoryScore {
	out := make([]CategoryScore, 0, len(categories))
	for _, c := range categories {
		out = append(out, CategoryScore{Name: c.Name, Score: scores[c.Name], Weight: c.Weight})
	}
	return out
}

func analysisRow(r Result) (storage.TechnicalAnalysis, error) {
	scoresJSON, err := json.Marshal(r.Scores)
	if err != nil {
		return storage.TechnicalAnalysis{}, fmt.Errorf("encoding scores: %w", err)
	}
	issues := r.Issues
	if issues == nil {
		issues = []Issue{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return storage.TechnicalAnalysis{}, fmt.Errorf("encoding issues: %w", err)
	}
	recs := r.Recommendations
	if recs == nil {
		recs = []string{}
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return storage.TechnicalAnalysis{}, fmt.Errorf("encoding recommendations: %w", err)
	}
	return storage.TechnicalAnalysis{
		ID:                  uuid.New().String(),
		Domain:              r.Domain,
		AuditID:             r.AuditID,
		OverallScore:        r.OverallScore,
		ScoresJSON:          string(scoresJSON),
		IssuesJSON:          string(issuesJSON),
		RecommendationsJSON: string(recsJSON),
		ComputedAt:          r.ComputedAt,
	}, nil
}

func resultFromCached(a storage.TechnicalAnalysis) (Result, error) {
	var scores map[string]float64
	if err := json.Unmarshal([]byte(a.ScoresJSON), &scores); err != nil {
		return Result{}, fmt.Errorf("decoding cached scores: %w", err)
	}
	var issues []Issue
	if err := json.Unmarshal([]byte(a.IssuesJSON), &issues); err != nil {
		return Result{}, fmt.Errorf("decoding cached issues: %w", err)
	}
	var recs []string
	if err := json.Unmarshal([]byte(a.RecommendationsJSON), &recs); err != nil {
		return Result{}, fmt.Errorf("decoding cached recommendations: %w", err)
	}
	return Result{
		Domain:          a.Domain,
		AuditID:         a.AuditID,
		Scores:          scores,
		Categories:      orderedCategories(scores),
		OverallScore:    a.OverallScore,
		OverallGrade:    Grade(a.OverallScore),
		Issues:          issues,
		Recommendations: recs,
		ComputedAt:      a.ComputedAt,
		FromCache:       true,
	}, nil
}
