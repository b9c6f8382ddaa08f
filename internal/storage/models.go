package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an update is invalid for the row's current
// lifecycle state, e.g. completing a report that is not running.
var ErrConflict = errors.New("conflicting state")

// Report lifecycle states. Transitions are one-directional:
// pending -> running -> completed | failed.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Project struct {
	ID        string
	UserID    string
	Name      string
	Domain    string
	CreatedAt time.Time
}

type AuditReport struct {
	ID                  string
	ProjectID           string
	Name                string
	URL                 string
	Status              string
	OverallScore        float64
	OverallGrade        string
	CategoriesJSON      string // JSON array stored as text
	IssuesJSON          string // JSON array stored as text
	RecommendationsJSON string // JSON array stored as text
	ErrorMessage        string
	PDFRef              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ReportResult carries the outcome of a completed analysis into the report row.
type ReportResult struct {
	OverallScore        float64
	OverallGrade        string
	CategoriesJSON      string
	IssuesJSON          string
	RecommendationsJSON string
}

// TechnicalAnalysis is one entry in the append-only score history of a domain.
type TechnicalAnalysis struct {
	ID                  string
	Domain              string
	AuditID             string
	OverallScore        float64
	ScoresJSON          string // map of category name to score, stored as text
	IssuesJSON          string // JSON array stored as text
	RecommendationsJSON string // JSON array stored as text
	ComputedAt          time.Time
}

// ScorePoint is a (time, score) sample from a domain's history.
type ScorePoint struct {
	ComputedAt   time.Time
	OverallScore float64
}

type Rewrite struct {
	ID                        string
	ProjectID                 string
	ContentID                 string
	OriginalContent           string
	RewrittenContent          string
	TargetKeywordsJSON        string // JSON array stored as text
	PreserveEEAT              bool
	KeywordCoverageIncomplete bool
	CreatedAt                 time.Time
}

type CompetitorContent struct {
	ID         string
	ProjectID  string
	SourceType string // "text", "url", or "pdf"
	SourceRef  string
	Title      string
	Content    string
	CreatedAt  time.Time
}

type CompetitorAnalysis struct {
	ID               string
	ContentID        string
	Summary          string
	StrengthsJSON    string // JSON array stored as text
	GapsJSON         string // JSON array stored as text
	KeywordsJSON     string // JSON array stored as text
	WordCount        int
	ReadabilityScore float64
	CreatedAt        time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
