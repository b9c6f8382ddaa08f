// Package audit owns the report lifecycle: creation with single-flight
// deduplication per (project, url), job scheduling, and the background worker
// that drives analyses to a terminal state.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pagelift/pagelift/internal/fault"
	"github.com/pagelift/pagelift/internal/fetch"
	"github.com/pagelift/pagelift/internal/storage"
)

// JobTypeRun is the queue type for scheduled audit analyses.
const JobTypeRun = "audit_run"

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetProject(id string) (storage.Project, error)
	CreateOrGetActiveReport(r storage.AuditReport) (storage.AuditReport, bool, error)
	GetReport(id string) (storage.AuditReport, error)
	ListReports(projectID string) ([]storage.AuditReport, error)
	EnqueueJob(job storage.Job) error
	FailReport(id string, errMsg string) error
}

// ReportOptions tune a scheduled analysis.
type ReportOptions struct {
	// ForceRefresh bypasses the score cache TTL for this run.
	ForceRefresh bool `json:"forceRefresh"`
}

// CreateParams describe a report request.
type CreateParams struct {
	ProjectID string        `json:"projectId"`
	Name      string        `json:"reportName"`
	URL       string        `json:"url"`
	Options   ReportOptions `json:"options"`
}

// runPayload is the job body shared between the orchestrator and the worker.
type runPayload struct {
	ReportID     string `json:"report_id"`
	ProjectID    string `json:"project_id"`
	URL          string `json:"url"`
	Domain       string `json:"domain"`
	ForceRefresh bool   `json:"force_refresh"`
}

// Service creates and reads reports. Analysis is never done inline; callers
// poll GetReport until the worker lands the row in a terminal state.
type Service struct {
	store       Store
	maxAttempts int
	logger      *slog.Logger
}

// NewService creates a Service. maxAttempts bounds job retries and defaults
// to 3.
func NewService(store Store, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		store:       store,
		maxAttempts: maxAttempts,
		logger:      slog.Default(),
	}
}

// CreateReport validates the request, inserts a pending report, and enqueues
// the analysis job. If the (project, url) pair already has a pending or
// running report, that report is returned instead of starting a duplicate.
func (s *Service) CreateReport(ctx context.Context, userID string, p CreateParams) (storage.AuditReport, error) {
	domain, err := fetch.NormalizeDomain(p.URL)
	if err != nil {
		return storage.AuditReport{}, err
	}
	if err := s.authorizeProject(userID, p.ProjectID); err != nil {
		return storage.AuditReport{}, err
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = domain
	}

	report, created, err := s.store.CreateOrGetActiveReport(storage.AuditReport{
		ID:        uuid.New().String(),
		ProjectID: p.ProjectID,
		Name:      name,
		URL:       p.URL,
	})
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("creating report: %w", err)
	}
	if !created {
		s.logger.Info("returning in-flight report", "report_id", report.ID, "url", p.URL)
		return report, nil
	}

	payload, err := json.Marshal(runPayload{
		ReportID:     report.ID,
		ProjectID:    p.ProjectID,
		URL:          p.URL,
		Domain:       domain,
		ForceRefresh: p.Options.ForceRefresh,
	})
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("encoding job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeRun,
		PayloadJSON: string(payload),
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.EnqueueJob(job); err != nil {
		// A pending report with no job to drive it would never terminate.
		if ferr := s.store.FailReport(report.ID, "could not schedule analysis"); ferr != nil {
			s.logger.Error("failed to mark unscheduled report failed",
				"report_id", report.ID, "error", ferr)
		}
		return storage.AuditReport{}, fmt.Errorf("scheduling analysis: %w", err)
	}

	s.logger.Info("report created",
		"report_id", report.ID, "project_id", p.ProjectID, "domain", domain)
	return report, nil
}

// GetReport returns the report's current snapshot. It never blocks on an
// in-flight analysis.
func (s *Service) GetReport(ctx context.Context, userID, id string) (storage.AuditReport, error) {
	if id == "" {
		return storage.AuditReport{}, fault.New(fault.Validation, "reportId is required")
	}
	report, err := s.store.GetReport(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.AuditReport{}, fault.New(fault.NotFound, "report not found")
	}
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("loading report: %w", err)
	}

	project, err := s.store.GetProject(report.ProjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.AuditReport{}, fault.New(fault.NotFound, "report not found")
	}
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("loading project: %w", err)
	}
	if project.UserID != userID {
		return storage.AuditReport{}, fault.New(fault.NotFound, "report not found")
	}
	return report, nil
}

// ListReports returns the project's reports newest-first.
func (s *Service) ListReports(ctx context.Context, userID, projectID string) ([]storage.AuditReport, error) {
	if err := s.authorizeProject(userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListReports(projectID)
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
		// Foreign projects look identical to missing ones.
		return fault.New(fault.NotFound, "project not found")
	}
	return nil
}
