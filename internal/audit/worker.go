package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pagelift/pagelift/internal/analyzer"
	"github.com/pagelift/pagelift/internal/fault"
	"github.com/pagelift/pagelift/internal/storage"
)

// JobStore abstracts the queue and report state operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	AbortJob(id string, errMsg string) error
	ResetOrphanJobs() (int, error)
	GetReport(id string) (storage.AuditReport, error)
	MarkReportRunning(id string) error
	CompleteReport(id string, result storage.ReportResult) error
	FailReport(id string, errMsg string) error
}

// Analyzer computes the technical score set for one audit.
type Analyzer interface {
	AnalyzeTechnicalSEO(ctx context.Context, auditID, domain, url string, opts analyzer.Options) (analyzer.Result, error)
}

// Worker claims audit_run jobs and drives their reports to a terminal state.
type Worker struct {
	store   JobStore
	engine  Analyzer
	poll    time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker. pollInterval defaults to 2s, jobTimeout is the
// hard cap on one analysis and defaults to 60s.
func NewWorker(store JobStore, engine Analyzer, pollInterval, jobTimeout time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if jobTimeout <= 0 {
		jobTimeout = 60 * time.Second
	}
	return &Worker{
		store:   store,
		engine:  engine,
		poll:    pollInterval,
		timeout: jobTimeout,
		logger:  slog.Default(),
	}
}

// RunPool resets jobs orphaned by a previous process, then runs n polling
// workers until ctx is cancelled.
func (w *Worker) RunPool(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	if count, err := w.store.ResetOrphanJobs(); err != nil {
		w.logger.Error("resetting orphaned jobs", "error", err)
	} else if count > 0 {
		w.logger.Info("reset orphaned jobs from previous run", "count", count)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for range n {
		g.Go(func() error {
			w.Run(gCtx)
			return nil
		})
	}
	g.Wait()
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single audit_run job. Returns true if a job
// was processed, regardless of its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeRun})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var p runPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		w.logger.Error("audit job has malformed payload", "job_id", job.ID, "error", err)
		if aerr := w.store.AbortJob(job.ID, "malformed payload: "+err.Error()); aerr != nil {
			w.logger.Error("failed to abort job", "job_id", job.ID, "error", aerr)
		}
		return true, nil
	}

	err = w.runAudit(ctx, p)
	if err == nil {
		if cerr := w.store.CompleteJob(job.ID); cerr != nil {
			return true, fmt.Errorf("completing job %s: %w", job.ID, cerr)
		}
		return true, nil
	}

	w.logger.Warn("audit attempt failed",
		"job_id", job.ID, "report_id", p.ReportID, "attempt", job.Attempts+1, "error", err)

	if !fault.Retryable(err) {
		w.failReport(p.ReportID, err)
		if aerr := w.store.AbortJob(job.ID, err.Error()); aerr != nil {
			w.logger.Error("failed to abort job", "job_id", job.ID, "error", aerr)
		}
		return true, nil
	}

	// FailJob counts this failure; the job goes terminal when the attempt
	// budget is spent, and so must the report.
	if job.Attempts+1 >= job.MaxAttempts {
		w.failReport(p.ReportID, err)
	}
	if ferr := w.store.FailJob(job.ID, err.Error()); ferr != nil {
		w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", ferr)
	}
	return true, nil
}

func (w *Worker) runAudit(ctx context.Context, p runPayload) error {
	report, err := w.store.GetReport(p.ReportID)
	if errors.Is(err, storage.ErrNotFound) {
		return fault.New(fault.NotFound, "report no longer exists")
	}
	if err != nil {
		return fmt.Errorf("loading report: %w", err)
	}

	switch report.Status {
	case storage.StatusCompleted, storage.StatusFailed:
		// Terminal already; a stale retry has nothing to do.
		return nil
	case storage.StatusPending:
		if err := w.store.MarkReportRunning(p.ReportID); err != nil {
			return fmt.Errorf("marking report running: %w", err)
		}
	}

	actx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res, err := w.engine.AnalyzeTechnicalSEO(actx, p.ReportID, p.Domain, p.URL,
		analyzer.Options{ForceRefresh: p.ForceRefresh})
	if err != nil {
		return err
	}

	result, err := reportResult(res)
	if err != nil {
		return err
	}
	if err := w.store.CompleteReport(p.ReportID, result); err != nil {
		return fmt.Errorf("completing report: %w", err)
	}

	w.logger.Info("audit completed",
		"report_id", p.ReportID, "domain", p.Domain,
		"score", res.OverallScore, "grade", res.OverallGrade, "from_cache", res.FromCache)
	return nil
}

func (w *Worker) failReport(reportID string, cause error) {
	if reportID == "" {
		return
	}
	err := w.store.FailReport(reportID, fault.Message(cause))
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrConflict) {
		w.logger.Error("failed to mark report failed", "report_id", reportID, "error", err)
	}
}

func reportResult(res analyzer.Result) (storage.ReportResult, error) {
	categories, err := json.Marshal(res.Categories)
	if err != nil {
		return storage.ReportResult{}, fmt.Errorf("encoding categories: %w", err)
	}
	issues := res.Issues
	if issues == nil {
		issues = []analyzer.Issue{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return storage.ReportResult{}, fmt.Errorf("encoding issues: %w", err)
	}
	recs := res.Recommendations
	if recs == nil {
		recs = []string{}
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return storage.ReportResult{}, fmt.Errorf("encoding recommendations: %w", err)
	}
	return storage.ReportResult{
		OverallScore:        res.OverallScore,
		OverallGrade:        res.OverallGrade,
		CategoriesJSON:      string(categories),
		IssuesJSON:          string(issuesJSON),
		RecommendationsJSON: string(recsJSON),
	}, nil
}
