package storage

import (
	"context"
	"time"

	"aeo-audit/pkg/models"
)

// AuditStore owns audit rows. Terminal transitions are conditional on status='running'
// and report whether this caller performed the transition.
type AuditStore interface {
	// CreateAudit inserts a new audit row in whatever status it carries
	CreateAudit(ctx context.Context, audit *models.Audit) error

	// GetAudit returns utils.ErrAuditNotFound for unknown ids
	GetAudit(ctx context.Context, id string) (*models.Audit, error)

	// ListRunningAudits returns every audit still in the running state
	ListRunningAudits(ctx context.Context) ([]models.Audit, error)

	// CompleteAudit moves running -> completed with final scores
	CompleteAudit(ctx context.Context, id string, aeo, geo float64, at time.Time) (bool, error)

	// FailAudit moves running -> failed with a reason
	FailAudit(ctx context.Context, id, reason string, at time.Time) (bool, error)

	// SetCitationsStatus records the citations handoff state
	SetCitationsStatus(ctx context.Context, id string, status models.CitationsStatus) error

	// ResetForRecrawl deletes all pages and analyses and puts the audit back into running.
	// The industry lock is left untouched.
	ResetForRecrawl(ctx context.Context, id string, startedAt time.Time) error
}

// PageStore owns audit_pages and audit_page_analysis rows
type PageStore interface {
	// InsertPageIfAbsent adds (auditID, url) unless it already exists. Returns true if a row was added.
	InsertPageIfAbsent(ctx context.Context, auditID, url string) (bool, error)

	// PendingPages returns pages never processed, oldest first
	PendingPages(ctx context.Context, auditID string, limit int) ([]models.AuditPage, error)

	// SavePageResult writes the page fetch columns and inserts the analysis in one transaction.
	// Returns ErrPageAlreadyProcessed if another pass got there first.
	SavePageResult(ctx context.Context, page *models.AuditPage, analysis *models.AuditPageAnalysis) error

	// MarkPageProcessed records a fetch without analysis (robots-disallowed, not found, not HTML)
	MarkPageProcessed(ctx context.Context, pageID string, statusCode *int, contentType string, at time.Time) error

	PageStats(ctx context.Context, auditID string) (models.PageStats, error)
	ScoreSummary(ctx context.Context, auditID string) (models.ScoreSummary, error)

	// ListAnalyzedPages returns only pages with an analysis row
	ListAnalyzedPages(ctx context.Context, auditID string, limit, offset int) ([]models.AnalyzedPage, error)
	GetAnalyzedPage(ctx context.Context, auditID, pageID string) (*models.AnalyzedPage, error)
}

// Store combines both for components that need full access
type Store interface {
	AuditStore
	PageStore
	Close() error
}

// KV is a byte-oriented key/value cache with per-entry expiry
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Close() error
}
