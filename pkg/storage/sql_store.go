package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"aeo-audit/pkg/models"
	"aeo-audit/pkg/utils"
)

// ErrPageAlreadyProcessed is returned when a concurrent pass already wrote the page
var ErrPageAlreadyProcessed = errors.New("page already processed")

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Timestamps are stored as fixed-width UTC text so they order lexically in both dialects.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLStore implements Store over database/sql for SQLite and Postgres
type SQLStore struct {
	db     *sql.DB
	driver string
	log    *logrus.Entry
}

// NewSQLStore opens the database and applies the schema
func NewSQLStore(ctx context.Context, driver, dsn string, logger *logrus.Entry) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: unsupported storage driver %q", utils.ErrConfigValidation, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", utils.ErrDatabase, err)
	}

	schema := postgresSchema
	if driver == DriverSQLite {
		// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY and keeps :memory: alive
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%w: %s: %w", utils.ErrDatabase, pragma, err)
			}
		}
		schema = sqliteSchema
	} else {
		db.SetMaxOpenConns(10)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: connecting: %w", utils.ErrDatabase, err)
		}
	}

	s := &SQLStore{db: db, driver: driver, log: logger}
	for _, stmt := range schemaStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: running migrations: %w", utils.ErrDatabase, err)
		}
	}
	logger.WithField("driver", driver).Info("Database initialized")
	return s, nil
}

// Close closes the database
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders as $n for Postgres
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, q sqlExecer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// --- Audits ---

const auditColumns = `id, project_id, root_url, status, started_at, finished_at, fail_reason, fail_at,
	aeo_score, geo_score, citations_status, config_json, site_description, industry, industry_source, industry_confidence`

// CreateAudit implements AuditStore
func (s *SQLStore) CreateAudit(ctx context.Context, a *models.Audit) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cfgJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("%w: encoding audit config: %w", utils.ErrParsing, err)
	}
	var citations any
	if a.CitationsStatus != models.CitationsStatusNone {
		citations = string(a.CitationsStatus)
	}
	var failReason any
	if a.FailReason != "" {
		failReason = a.FailReason
	}

	_, err = s.exec(ctx, s.db, `INSERT INTO audits (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.RootURL, string(a.Status), formatTime(a.StartedAt), formatTimePtr(a.FinishedAt),
		failReason, formatTimePtr(a.FailAt), floatArg(a.AEOScore), floatArg(a.GEOScore), citations,
		string(cfgJSON), a.SiteDescription, a.Industry, a.IndustrySource, a.IndustryConfidence)
	if err != nil {
		return fmt.Errorf("%w: inserting audit: %w", utils.ErrDatabase, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudit(row rowScanner) (*models.Audit, error) {
	var (
		a                          models.Audit
		status, startedAt, cfgJSON string
		finishedAt, failReason     sql.NullString
		failAt, citations          sql.NullString
		aeo, geo                   sql.NullFloat64
		industry, industrySource   string
		projectID, siteDescription string
		industryConfidence         float64
	)
	if err := row.Scan(&a.ID, &projectID, &a.RootURL, &status, &startedAt, &finishedAt, &failReason, &failAt,
		&aeo, &geo, &citations, &cfgJSON, &siteDescription, &industry, &industrySource, &industryConfidence); err != nil {
		return nil, err
	}
	a.ProjectID = projectID
	a.Status = models.AuditStatus(status)
	a.StartedAt = parseTime(startedAt)
	a.FinishedAt = parseNullTime(finishedAt)
	a.FailReason = failReason.String
	a.FailAt = parseNullTime(failAt)
	a.AEOScore = nullFloat(aeo)
	a.GEOScore = nullFloat(geo)
	a.CitationsStatus = models.CitationsStatus(citations.String)
	a.SiteDescription = siteDescription
	a.Industry = industry
	a.IndustrySource = industrySource
	a.IndustryConfidence = industryConfidence
	if cfgJSON != "" {
		_ = json.Unmarshal([]byte(cfgJSON), &a.Config)
	}
	return &a, nil
}

// GetAudit implements AuditStore
func (s *SQLStore) GetAudit(ctx context.Context, id string) (*models.Audit, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+auditColumns+` FROM audits WHERE id = ?`), id)
	a, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", utils.ErrAuditNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading audit %s: %w", utils.ErrDatabase, id, err)
	}
	return a, nil
}

// ListRunningAudits implements AuditStore
func (s *SQLStore) ListRunningAudits(ctx context.Context) ([]models.Audit, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+auditColumns+` FROM audits WHERE status = ? ORDER BY started_at`),
		string(models.AuditStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("%w: listing running audits: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var out []models.Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning audit: %w", utils.ErrDatabase, err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CompleteAudit implements AuditStore
func (s *SQLStore) CompleteAudit(ctx context.Context, id string, aeo, geo float64, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.db, `UPDATE audits SET status = ?, aeo_score = ?, geo_score = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		string(models.AuditStatusCompleted), aeo, geo, formatTime(at), id, string(models.AuditStatusRunning))
	if err != nil {
		return false, fmt.Errorf("%w: completing audit %s: %w", utils.ErrDatabase, id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FailAudit implements AuditStore
func (s *SQLStore) FailAudit(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	ts := formatTime(at)
	res, err := s.exec(ctx, s.db, `UPDATE audits SET status = ?, fail_reason = ?, fail_at = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		string(models.AuditStatusFailed), reason, ts, ts, id, string(models.AuditStatusRunning))
	if err != nil {
		return false, fmt.Errorf("%w: failing audit %s: %w", utils.ErrDatabase, id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetCitationsStatus implements AuditStore
func (s *SQLStore) SetCitationsStatus(ctx context.Context, id string, status models.CitationsStatus) error {
	_, err := s.exec(ctx, s.db, `UPDATE audits SET citations_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("%w: setting citations status for %s: %w", utils.ErrDatabase, id, err)
	}
	return nil
}

// ResetForRecrawl implements AuditStore
func (s *SQLStore) ResetForRecrawl(ctx context.Context, id string, startedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin recrawl: %w", utils.ErrDatabase, err)
	}
	defer tx.Rollback()

	res, err := s.exec(ctx, tx, `UPDATE audits SET status = ?, started_at = ?, finished_at = NULL, fail_reason = NULL,
		fail_at = NULL, aeo_score = NULL, geo_score = NULL, citations_status = NULL WHERE id = ?`,
		string(models.AuditStatusRunning), formatTime(startedAt), id)
	if err != nil {
		return fmt.Errorf("%w: resetting audit %s: %w", utils.ErrDatabase, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", utils.ErrAuditNotFound, id)
	}
	if _, err := s.exec(ctx, tx, `DELETE FROM audit_page_analysis WHERE audit_id = ?`, id); err != nil {
		return fmt.Errorf("%w: deleting analyses for %s: %w", utils.ErrDatabase, id, err)
	}
	if _, err := s.exec(ctx, tx, `DELETE FROM audit_pages WHERE audit_id = ?`, id); err != nil {
		return fmt.Errorf("%w: deleting pages for %s: %w", utils.ErrDatabase, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit recrawl: %w", utils.ErrDatabase, err)
	}
	return nil
}

// --- Pages ---

// InsertPageIfAbsent implements PageStore. The unique (audit_id, url) constraint decides; there is no read first.
func (s *SQLStore) InsertPageIfAbsent(ctx context.Context, auditID, pageURL string) (bool, error) {
	res, err := s.exec(ctx, s.db, `INSERT INTO audit_pages (id, audit_id, url, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (audit_id, url) DO NOTHING`,
		uuid.New().String(), auditID, pageURL, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("%w: inserting page %s: %w", utils.ErrDatabase, pageURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", utils.ErrDatabase, err)
	}
	return n == 1, nil
}

const pageColumns = `p.id, p.audit_id, p.url, p.status_code, p.content_type, p.html_static, p.html_rendered, p.fetched_at, p.created_at`

func scanPage(row rowScanner, extra ...any) (*models.AuditPage, error) {
	var (
		p                   models.AuditPage
		statusCode          sql.NullInt64
		rendered, fetchedAt sql.NullString
		createdAt           string
	)
	dest := append([]any{&p.ID, &p.AuditID, &p.URL, &statusCode, &p.ContentType, &p.HTMLStatic, &rendered, &fetchedAt, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if statusCode.Valid {
		code := int(statusCode.Int64)
		p.StatusCode = &code
	}
	if rendered.Valid {
		r := rendered.String
		p.HTMLRendered = &r
	}
	p.FetchedAt = parseNullTime(fetchedAt)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// PendingPages implements PageStore
func (s *SQLStore) PendingPages(ctx context.Context, auditID string, limit int) ([]models.AuditPage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+pageColumns+` FROM audit_pages p
		WHERE p.audit_id = ? AND p.fetched_at IS NULL ORDER BY p.created_at, p.url LIMIT ?`), auditID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing pending pages: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var out []models.AuditPage
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning page: %w", utils.ErrDatabase, err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SavePageResult implements PageStore
func (s *SQLStore) SavePageResult(ctx context.Context, page *models.AuditPage, a *models.AuditPageAnalysis) error {
	schemaTypes, err := json.Marshal(nonNil(a.SchemaTypes))
	if err != nil {
		return fmt.Errorf("%w: encoding schema types: %w", utils.ErrParsing, err)
	}
	signals, err := json.Marshal(a.Signals)
	if err != nil {
		return fmt.Errorf("%w: encoding signals: %w", utils.ErrParsing, err)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ChecksJSON == "" {
		a.ChecksJSON = "{}"
	}
	fetchedAt := time.Now()
	if page.FetchedAt != nil {
		fetchedAt = *page.FetchedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin page write: %w", utils.ErrDatabase, err)
	}
	defer tx.Rollback()

	var statusCode any
	if page.StatusCode != nil {
		statusCode = *page.StatusCode
	}
	var rendered any
	if page.HTMLRendered != nil {
		rendered = *page.HTMLRendered
	}
	res, err := s.exec(ctx, tx, `UPDATE audit_pages SET status_code = ?, content_type = ?, html_static = ?, html_rendered = ?, fetched_at = ?
		WHERE id = ? AND fetched_at IS NULL`,
		statusCode, page.ContentType, page.HTMLStatic, rendered, formatTime(fetchedAt), page.ID)
	if err != nil {
		return fmt.Errorf("%w: updating page %s: %w", utils.ErrDatabase, page.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPageAlreadyProcessed
	}

	_, err = s.exec(ctx, tx, `INSERT INTO audit_page_analysis (id, page_id, audit_id, title, h1, canonical, schema_types,
		signals_json, checks_json, aeo_score, geo_score, render_gap_ratio, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, page.ID, page.AuditID, a.Title, a.H1, a.Canonical, string(schemaTypes), string(signals), a.ChecksJSON,
		floatArg(a.AEOScore), floatArg(a.GEOScore), floatArg(a.RenderGapRatio), formatTime(fetchedAt))
	if err != nil {
		return fmt.Errorf("%w: inserting analysis for %s: %w", utils.ErrDatabase, page.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit page write: %w", utils.ErrDatabase, err)
	}
	page.FetchedAt = &fetchedAt
	a.PageID = page.ID
	a.AnalyzedAt = fetchedAt
	return nil
}

// MarkPageProcessed implements PageStore
func (s *SQLStore) MarkPageProcessed(ctx context.Context, pageID string, statusCode *int, contentType string, at time.Time) error {
	var code any
	if statusCode != nil {
		code = *statusCode
	}
	_, err := s.exec(ctx, s.db, `UPDATE audit_pages SET status_code = ?, content_type = ?, fetched_at = ?
		WHERE id = ? AND fetched_at IS NULL`, code, contentType, formatTime(at), pageID)
	if err != nil {
		return fmt.Errorf("%w: marking page %s: %w", utils.ErrDatabase, pageID, err)
	}
	return nil
}

// PageStats implements PageStore
func (s *SQLStore) PageStats(ctx context.Context, auditID string) (models.PageStats, error) {
	var stats models.PageStats
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT
		(SELECT COUNT(*) FROM audit_pages WHERE audit_id = ?),
		(SELECT COUNT(*) FROM audit_page_analysis WHERE audit_id = ?),
		(SELECT COUNT(*) FROM audit_pages WHERE audit_id = ? AND fetched_at IS NULL)`),
		auditID, auditID, auditID).Scan(&stats.Discovered, &stats.Analyzed, &stats.Pending)
	if err != nil {
		return stats, fmt.Errorf("%w: page stats for %s: %w", utils.ErrDatabase, auditID, err)
	}
	return stats, nil
}

// ScoreSummary implements PageStore. AVG skips NULLs, so unscored pages do not drag the average down.
func (s *SQLStore) ScoreSummary(ctx context.Context, auditID string) (models.ScoreSummary, error) {
	var (
		summary       models.ScoreSummary
		aeo, geo, gap sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*), AVG(aeo_score), AVG(geo_score), AVG(render_gap_ratio)
		FROM audit_page_analysis WHERE audit_id = ?`), auditID).Scan(&summary.Analyzed, &aeo, &geo, &gap)
	if err != nil {
		return summary, fmt.Errorf("%w: score summary for %s: %w", utils.ErrDatabase, auditID, err)
	}
	summary.AvgAEO = nullFloat(aeo)
	summary.AvgGEO = nullFloat(geo)
	summary.AvgRenderGap = nullFloat(gap)
	return summary, nil
}

const analysisColumns = `a.id, a.page_id, a.title, a.h1, a.canonical, a.schema_types, a.signals_json, a.checks_json,
	a.aeo_score, a.geo_score, a.render_gap_ratio, a.analyzed_at`

func scanAnalyzedPage(row rowScanner) (*models.AnalyzedPage, error) {
	var (
		a                    models.AuditPageAnalysis
		schemaTypes, signals string
		aeo, geo, gap        sql.NullFloat64
		analyzedAt           string
	)
	page, err := scanPage(row, &a.ID, &a.PageID, &a.Title, &a.H1, &a.Canonical, &schemaTypes, &signals, &a.ChecksJSON,
		&aeo, &geo, &gap, &analyzedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(schemaTypes), &a.SchemaTypes)
	_ = json.Unmarshal([]byte(signals), &a.Signals)
	a.AEOScore = nullFloat(aeo)
	a.GEOScore = nullFloat(geo)
	a.RenderGapRatio = nullFloat(gap)
	a.AnalyzedAt = parseTime(analyzedAt)
	return &models.AnalyzedPage{Page: *page, Analysis: a}, nil
}

// ListAnalyzedPages implements PageStore
func (s *SQLStore) ListAnalyzedPages(ctx context.Context, auditID string, limit, offset int) ([]models.AnalyzedPage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+pageColumns+`, `+analysisColumns+`
		FROM audit_pages p JOIN audit_page_analysis a ON a.page_id = p.id
		WHERE p.audit_id = ? ORDER BY a.analyzed_at, p.url LIMIT ? OFFSET ?`), auditID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: listing analyzed pages: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var out []models.AnalyzedPage
	for rows.Next() {
		ap, err := scanAnalyzedPage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning analyzed page: %w", utils.ErrDatabase, err)
		}
		out = append(out, *ap)
	}
	return out, rows.Err()
}

// GetAnalyzedPage implements PageStore. Pages without analysis are reported as not found.
func (s *SQLStore) GetAnalyzedPage(ctx context.Context, auditID, pageID string) (*models.AnalyzedPage, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+pageColumns+`, `+analysisColumns+`
		FROM audit_pages p JOIN audit_page_analysis a ON a.page_id = p.id
		WHERE p.audit_id = ? AND p.id = ?`), auditID, pageID)
	ap, err := scanAnalyzedPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", utils.ErrPageNotFound, pageID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading page %s: %w", utils.ErrDatabase, pageID, err)
	}
	return ap, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
