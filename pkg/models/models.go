package models

import "time"

// AuditConfig is the per-audit override blob stored as config_json
type AuditConfig struct {
	MaxPages int             `json:"max_pages,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
}

// Audit is one crawl session
type Audit struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id,omitempty"`
	RootURL            string          `json:"root_url"`
	Status             AuditStatus     `json:"status"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         *time.Time      `json:"finished_at,omitempty"`
	FailReason         string          `json:"fail_reason,omitempty"`
	FailAt             *time.Time      `json:"fail_at,omitempty"`
	AEOScore           *float64        `json:"aeo_score"`
	GEOScore           *float64        `json:"geo_score"`
	CitationsStatus    CitationsStatus `json:"citations_status,omitempty"`
	Config             AuditConfig     `json:"config"`
	SiteDescription    string          `json:"site_description,omitempty"`
	Industry           string          `json:"industry,omitempty"`
	IndustrySource     string          `json:"industry_source,omitempty"`
	IndustryConfidence float64         `json:"industry_confidence,omitempty"`
}

// AuditPage is one discovered URL within an audit. FetchedAt stays nil until a pass processes it.
type AuditPage struct {
	ID           string     `json:"id"`
	AuditID      string     `json:"audit_id"`
	URL          string     `json:"url"`
	StatusCode   *int       `json:"status_code,omitempty"`
	ContentType  string     `json:"content_type,omitempty"`
	HTMLStatic   string     `json:"-"`
	HTMLRendered *string    `json:"-"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PageSignals is the structured-data blob handed to the diagnostics collaborator
type PageSignals struct {
	MetaDescription string            `json:"meta_description,omitempty"`
	Lang            string            `json:"lang,omitempty"`
	OpenGraph       map[string]string `json:"open_graph,omitempty"`
	JSONLD          []string          `json:"json_ld,omitempty"` // raw blocks
	Headings        []string          `json:"headings,omitempty"`
	WordCount       int               `json:"word_count"`
	TokenCount      int               `json:"token_count"`
	ChunkCount      int               `json:"chunk_count"`
	AnswerPassages  int               `json:"answer_passages"`
	QuestionHeads   int               `json:"question_headings"`
	InternalLinks   int               `json:"internal_links"`
	ExternalLinks   int               `json:"external_links"`
	HasFAQMarkup    bool              `json:"has_faq_markup"`
	IsSPA           bool              `json:"is_spa"`
	Rendered        bool              `json:"rendered"`
	ContentHash     string            `json:"content_hash,omitempty"`
	Markdown        string            `json:"markdown,omitempty"`
}

// AuditPageAnalysis is the write-once extraction result for a page
type AuditPageAnalysis struct {
	ID             string      `json:"id"`
	PageID         string      `json:"page_id"`
	Title          string      `json:"title"`
	H1             string      `json:"h1"`
	Canonical      string      `json:"canonical"`
	SchemaTypes    []string    `json:"schema_types"`
	Signals        PageSignals `json:"signals"`
	RenderGapRatio *float64    `json:"render_gap_ratio"`
	ChecksJSON     string      `json:"checks_json"`
	AEOScore       *float64    `json:"aeo_score"`
	GEOScore       *float64    `json:"geo_score"`
	AnalyzedAt     time.Time   `json:"analyzed_at"`
}

// AnalyzedPage joins a page with its analysis for the read API
type AnalyzedPage struct {
	Page     AuditPage         `json:"page"`
	Analysis AuditPageAnalysis `json:"analysis"`
}

// PageStats are the aggregate counters for one audit
type PageStats struct {
	Discovered int `json:"pages_discovered"`
	Analyzed   int `json:"pages_analyzed"`
	Pending    int `json:"pages_pending"`
}

// AuditView is an audit plus its page stats
type AuditView struct {
	Audit
	Stats PageStats `json:"stats"`
}

// ScoreSummary holds audit-wide averages used by finalize
type ScoreSummary struct {
	AvgAEO       *float64
	AvgGEO       *float64
	AvgRenderGap *float64
	Analyzed     int
}

// RobotsPolicy is a cached robots.txt rule set for one origin
type RobotsPolicy struct {
	FetchedAt    time.Time     `json:"fetched_at"`
	MatchedGroup string        `json:"matched_group"` // "exact", "wildcard" or "none"
	Allow        []string      `json:"allow,omitempty"`
	Disallow     []string      `json:"disallow,omitempty"`
	CrawlDelay   time.Duration `json:"crawl_delay,omitempty"`
	Sitemaps     []string      `json:"sitemaps,omitempty"`
}

// Robots group match kinds
const (
	RobotsGroupExact    = "exact"
	RobotsGroupWildcard = "wildcard"
	RobotsGroupNone     = "none"
)
