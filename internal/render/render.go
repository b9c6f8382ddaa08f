// Package render turns completed audit reports into durable PDF artifacts.
// Rendering is idempotent per report: the first successful render records a
// ref on the report row and every later call returns that ref unchanged.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/pagelift/pagelift/internal/fault"
	"github.com/pagelift/pagelift/internal/storage"
)

// ReportStore is the persistence surface the renderer needs.
type ReportStore interface {
	GetProject(id string) (storage.Project, error)
	GetReport(id string) (storage.AuditReport, error)
	SetReportPDFRef(id, ref string) error
}

// ArtifactStore persists rendered artifacts and returns a durable ref.
type ArtifactStore interface {
	Put(name string, data []byte) (string, error)
}

// Renderer produces PDF artifacts for completed reports. Concurrent calls
// for the same report share one in-flight render.
type Renderer struct {
	store     ReportStore
	artifacts ArtifactStore
	group     singleflight.Group
	logger    *slog.Logger
}

// New creates a Renderer with the given collaborators.
func New(store ReportStore, artifacts ArtifactStore) *Renderer {
	return &Renderer{
		store:     store,
		artifacts: artifacts,
		logger:    slog.Default(),
	}
}

// GeneratePDF renders the report to a PDF, stores the artifact, and records
// its ref on the report row. Reports that are not completed fail with a state
// fault. An already-rendered report returns the recorded ref without
// rendering again.
func (r *Renderer) GeneratePDF(ctx context.Context, userID, reportID string) (string, error) {
	if reportID == "" {
		return "", fault.New(fault.Validation, "reportId is required")
	}

	report, err := r.authorizedReport(userID, reportID)
	if err != nil {
		return "", err
	}
	if report.Status != storage.StatusCompleted {
		return "", fault.Errorf(fault.State, "report is %s, PDF rendering needs a completed report", report.Status)
	}
	if report.PDFRef != "" {
		return report.PDFRef, nil
	}

	ref, err, shared := r.group.Do(reportID, func() (any, error) {
		return r.render(reportID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.logger.Debug("render shared with concurrent caller", "report_id", reportID)
	}
	return ref.(string), nil
}

// render runs inside the single flight. It re-reads the report so a render
// that finished between the caller's check and the flight start is detected
// and reused instead of repeated.
func (r *Renderer) render(reportID string) (string, error) {
	report, err := r.store.GetReport(reportID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fault.New(fault.NotFound, "report not found")
	}
	if err != nil {
		return "", fmt.Errorf("loading report: %w", err)
	}
	if report.PDFRef != "" {
		return report.PDFRef, nil
	}

	data, err := document(report)
	if err != nil {
		return "", err
	}

	ref, err := r.artifacts.Put(report.ID+".pdf", data)
	if err != nil {
		return "", fmt.Errorf("storing artifact: %w", err)
	}
	if err := r.store.SetReportPDFRef(report.ID, ref); err != nil {
		return "", fmt.Errorf("recording artifact ref: %w", err)
	}

	r.logger.Info("report rendered", "report_id", report.ID, "ref", ref, "bytes", len(data))
	return ref, nil
}

func (r *Renderer) authorizedReport(userID, reportID string) (storage.AuditReport, error) {
	report, err := r.store.GetReport(reportID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.AuditReport{}, fault.New(fault.NotFound, "report not found")
	}
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("loading report: %w", err)
	}

	project, err := r.store.GetProject(report.ProjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.AuditReport{}, fault.New(fault.NotFound, "report not found")
	}
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("loading project: %w", err)
	}
	if project.UserID != userID {
		// Foreign reports look identical to missing ones.
		return storage.AuditReport{}, fault.New(fault.NotFound, "report not found")
	}
	return report, nil
}
