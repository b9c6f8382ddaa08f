package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for projects, audit reports,
// score history, rewrites, competitor content, and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "pagelift.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	// Project deletion cascades to owned rows via FK constraints.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for callers that need raw SQL access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// jsonArray normalizes an optional JSON-as-text column value.
func jsonArray(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}

// jsonObject normalizes an optional JSON-as-text column value.
func jsonObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// --- Projects ---

func (s *Store) CreateProject(p Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, user_id, name, domain, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Domain, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, domain, created_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Domain, &createdAt)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

func (s *Store) ListProjects(userID string) ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, domain, created_at
		FROM projects WHERE user_id = ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Domain, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}

// DeleteProject removes a project; FK cascades remove its reports, rewrites,
// and competitor rows. Domain score history is deliberately untouched.
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit Reports ---

const reportColumns = `id, project_id, name, url, status, overall_score, overall_grade,
	categories_json, issues_json, recommendations_json, error_message, pdf_ref, created_at, updated_at`

func scanReport(scan func(...any) error) (AuditReport, error) {
	var r AuditReport
	var createdAt, updatedAt string
	if err := scan(
		&r.ID, &r.ProjectID, &r.Name, &r.URL, &r.Status, &r.OverallScore, &r.OverallGrade,
		&r.CategoriesJSON, &r.IssuesJSON, &r.RecommendationsJSON, &r.ErrorMessage, &r.PDFRef,
		&createdAt, &updatedAt,
	); err != nil {
		return AuditReport{}, err
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return AuditReport{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return AuditReport{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// CreateOrGetActiveReport inserts a pending report unless a pending or
// running one already exists for the same (project, url) pair, in which
// case the existing row is returned and created is false.
func (s *Store) CreateOrGetActiveReport(r AuditReport) (AuditReport, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return AuditReport{}, false, fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT `+reportColumns+`
		FROM audit_reports
		WHERE project_id = ? AND url = ? AND status IN ('pending', 'running')
		LIMIT 1`, r.ProjectID, r.URL,
	)
	existing, err := scanReport(row.Scan)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return AuditReport{}, false, fmt.Errorf("checking in-flight report: %w", err)
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt
	r.Status = StatusPending
	r.CategoriesJSON = jsonArray(r.CategoriesJSON)
	r.IssuesJSON = jsonArray(r.IssuesJSON)
	r.RecommendationsJSON = jsonArray(r.RecommendationsJSON)

	if _, err := tx.Exec(`
		INSERT INTO audit_reports (id, project_id, name, url, status, overall_score, overall_grade,
			categories_json, issues_json, recommendations_json, error_message, pdf_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Name, r.URL, r.Status, r.OverallScore, r.OverallGrade,
		r.CategoriesJSON, r.IssuesJSON, r.RecommendationsJSON, r.ErrorMessage, r.PDFRef,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
	); err != nil {
		tx.Rollback()
		// A create racing on another connection can slip past the read above
		// and trip the active-report unique index; hand back that row.
		if isUniqueViolation(err) {
			row := s.db.QueryRow(`
				SELECT `+reportColumns+`
				FROM audit_reports
				WHERE project_id = ? AND url = ? AND status IN ('pending', 'running')
				LIMIT 1`, r.ProjectID, r.URL,
			)
			if existing, serr := scanReport(row.Scan); serr == nil {
				return existing, false, nil
			}
		}
		return AuditReport{}, false, fmt.Errorf("inserting report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AuditReport{}, false, fmt.Errorf("committing report: %w", err)
	}
	return r, true, nil
}

func (s *Store) GetReport(id string) (AuditReport, error) {
	row := s.db.QueryRow(`SELECT `+reportColumns+` FROM audit_reports WHERE id = ?`, id)
	r, err := scanReport(row.Scan)
	if err == sql.ErrNoRows {
		return AuditReport{}, ErrNotFound
	}
	if err != nil {
		return AuditReport{}, err
	}
	return r, nil
}

func (s *Store) ListReports(projectID string) ([]AuditReport, error) {
	rows, err := s.db.Query(`
		SELECT `+reportColumns+`
		FROM audit_reports WHERE project_id = ? ORDER BY created_at DESC, id DESC`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AuditReport
	for rows.Next() {
		r, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// reportStateError distinguishes a missing report from one in the wrong state
// after a guarded UPDATE matched no rows.
func (s *Store) reportStateError(id string) error {
	var status string
	err := s.db.QueryRow(`SELECT status FROM audit_reports WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: report is %s", ErrConflict, status)
}

func (s *Store) MarkReportRunning(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE audit_reports SET status = 'running', updated_at = ?
		WHERE id = ? AND status = 'pending'`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.reportStateError(id)
	}
	return nil
}

func (s *Store) CompleteReport(id string, result ReportResult) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE audit_reports
		SET status = 'completed', overall_score = ?, overall_grade = ?,
			categories_json = ?, issues_json = ?, recommendations_json = ?,
			error_message = '', updated_at = ?
		WHERE id = ? AND status = 'running'`,
		result.OverallScore, result.OverallGrade,
		jsonArray(result.CategoriesJSON), jsonArray(result.IssuesJSON), jsonArray(result.RecommendationsJSON),
		now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.reportStateError(id)
	}
	return nil
}

func (s *Store) FailReport(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE audit_reports SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, errMsg, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.reportStateError(id)
	}
	return nil
}

// SetReportPDFRef records the rendered artifact on a completed report.
// Terminal rows stay immutable apart from this one column.
func (s *Store) SetReportPDFRef(id, ref string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE audit_reports SET pdf_ref = ?, updated_at = ?
		WHERE id = ? AND status = 'completed'`, ref, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.reportStateError(id)
	}
	return nil
}

// --- Technical Analyses ---

// AppendAnalysis inserts a new history entry. Existing entries are never
// updated; the newest row wins "latest" lookups.
func (s *Store) AppendAnalysis(a TechnicalAnalysis) error {
	computedAt := a.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO technical_analyses (id, domain, audit_id, overall_score, scores_json,
			issues_json, recommendations_json, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Domain, a.AuditID, a.OverallScore, jsonObject(a.ScoresJSON),
		jsonArray(a.IssuesJSON), jsonArray(a.RecommendationsJSON),
		computedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) LatestAnalysis(domain string) (TechnicalAnalysis, error) {
	var a TechnicalAnalysis
	var computedAt string
	err := s.db.QueryRow(`
		SELECT id, domain, audit_id, overall_score, scores_json,
			issues_json, recommendations_json, computed_at
		FROM technical_analyses WHERE domain = ?
		ORDER BY computed_at DESC, id DESC LIMIT 1`, domain,
	).Scan(&a.ID, &a.Domain, &a.AuditID, &a.OverallScore, &a.ScoresJSON,
		&a.IssuesJSON, &a.RecommendationsJSON, &computedAt)
	if err == sql.ErrNoRows {
		return TechnicalAnalysis{}, ErrNotFound
	}
	if err != nil {
		return TechnicalAnalysis{}, err
	}
	t, err := time.Parse(time.RFC3339, computedAt)
	if err != nil {
		return TechnicalAnalysis{}, fmt.Errorf("parsing computed_at: %w", err)
	}
	a.ComputedAt = t
	return a, nil
}

// DomainScoreHistory returns (time, score) samples for a domain ascending by
// time, excluding entries after the until bound.
func (s *Store) DomainScoreHistory(domain string, until time.Time) ([]ScorePoint, error) {
	rows, err := s.db.Query(`
		SELECT computed_at, overall_score
		FROM technical_analyses
		WHERE domain = ? AND computed_at <= ?
		ORDER BY computed_at ASC, id ASC`,
		domain, until.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScorePoint
	for rows.Next() {
		var p ScorePoint
		var computedAt string
		if err := rows.Scan(&computedAt, &p.OverallScore); err != nil {
			return nil, err
		}
		if p.ComputedAt, err = time.Parse(time.RFC3339, computedAt); err != nil {
			return nil, fmt.Errorf("parsing computed_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Rewrites ---

func (s *Store) SaveRewrite(rw Rewrite) error {
	createdAt := rw.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO rewrites (id, project_id, content_id, original_content, rewritten_content,
			target_keywords_json, preserve_eeat, keyword_coverage_incomplete, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rw.ID, rw.ProjectID, rw.ContentID, rw.OriginalContent, rw.RewrittenContent,
		jsonArray(rw.TargetKeywordsJSON), rw.PreserveEEAT, rw.KeywordCoverageIncomplete,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetRewrite(id string) (Rewrite, error) {
	var rw Rewrite
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, project_id, content_id, original_content, rewritten_content,
			target_keywords_json, preserve_eeat, keyword_coverage_incomplete, created_at
		FROM rewrites WHERE id = ?`, id,
	).Scan(&rw.ID, &rw.ProjectID, &rw.ContentID, &rw.OriginalContent, &rw.RewrittenContent,
		&rw.TargetKeywordsJSON, &rw.PreserveEEAT, &rw.KeywordCoverageIncomplete, &createdAt)
	if err == sql.ErrNoRows {
		return Rewrite{}, ErrNotFound
	}
	if err != nil {
		return Rewrite{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Rewrite{}, fmt.Errorf("parsing created_at: %w", err)
	}
	rw.CreatedAt = t
	return rw, nil
}

// ListContentRewrites returns a content item's rewrite versions newest-first,
// restricted to projects owned by userID.
func (s *Store) ListContentRewrites(contentID, userID string) ([]Rewrite, error) {
	where := `content_id = ? AND project_id IN (SELECT id FROM projects WHERE user_id = ?)`
	return s.listRewrites(where, []any{contentID, userID}, 0)
}

func (s *Store) ListProjectRewrites(projectID string, limit int) ([]Rewrite, error) {
	return s.listRewrites(`project_id = ?`, []any{projectID}, limit)
}

func (s *Store) listRewrites(where string, args []any, limit int) ([]Rewrite, error) {
	query := `
		SELECT id, project_id, content_id, original_content, rewritten_content,
			target_keywords_json, preserve_eeat, keyword_coverage_incomplete, created_at
		FROM rewrites WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Rewrite
	for rows.Next() {
		var rw Rewrite
		var createdAt string
		if err := rows.Scan(&rw.ID, &rw.ProjectID, &rw.ContentID, &rw.OriginalContent, &rw.RewrittenContent,
			&rw.TargetKeywordsJSON, &rw.PreserveEEAT, &rw.KeywordCoverageIncomplete, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		rw.CreatedAt = t
		results = append(results, rw)
	}
	return results, rows.Err()
}

// DeleteRewrite removes a single version; other versions of the same content
// are untouched.
func (s *Store) DeleteRewrite(id string) error {
	res, err := s.db.Exec(`DELETE FROM rewrites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Competitor Content ---

func (s *Store) SaveCompetitorContent(c CompetitorContent) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO competitor_contents (id, project_id, source_type, source_ref, title, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.SourceType, c.SourceRef, c.Title, c.Content,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetCompetitorContent(id string) (CompetitorContent, error) {
	var c CompetitorContent
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, project_id, source_type, source_ref, title, content, created_at
		FROM competitor_contents WHERE id = ?`, id,
	).Scan(&c.ID, &c.ProjectID, &c.SourceType, &c.SourceRef, &c.Title, &c.Content, &createdAt)
	if err == sql.ErrNoRows {
		return CompetitorContent{}, ErrNotFound
	}
	if err != nil {
		return CompetitorContent{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return CompetitorContent{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

func (s *Store) ListCompetitorContents(projectID string) ([]CompetitorContent, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, source_type, source_ref, title, content, created_at
		FROM competitor_contents WHERE project_id = ? ORDER BY created_at DESC, id DESC`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CompetitorContent
	for rows.Next() {
		var c CompetitorContent
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.SourceType, &c.SourceRef, &c.Title, &c.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) SaveCompetitorAnalysis(a CompetitorAnalysis) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO competitor_analyses (id, content_id, summary, strengths_json, gaps_json, keywords_json, word_count, readability_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ContentID, a.Summary, jsonArray(a.StrengthsJSON), jsonArray(a.GapsJSON),
		jsonArray(a.KeywordsJSON), a.WordCount, a.ReadabilityScore, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListCompetitorAnalyses(contentID string) ([]CompetitorAnalysis, error) {
	rows, err := s.db.Query(`
		SELECT id, content_id, summary, strengths_json, gaps_json, keywords_json, word_count, readability_score, created_at
		FROM competitor_analyses WHERE content_id = ? ORDER BY created_at DESC, id DESC`, contentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CompetitorAnalysis
	for rows.Next() {
		var a CompetitorAnalysis
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ContentID, &a.Summary, &a.StrengthsJSON, &a.GapsJSON,
			&a.KeywordsJSON, &a.WordCount, &a.ReadabilityScore, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.CreatedAt = t
		results = append(results, a)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// AbortJob marks a job failed immediately, regardless of remaining attempts.
// Used for errors that retrying cannot fix.
func (s *Store) AbortJob(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`, errMsg, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetOrphanJobs returns jobs left in 'running' by a previous process (crash,
// hard kill) to 'pending' so the worker can claim them again. Called once at
// startup before workers start.
func (s *Store) ResetOrphanJobs() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'pending', run_after = ?, updated_at = ?
		WHERE status = 'running'`, now, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
