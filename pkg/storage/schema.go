package storage

import "strings"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audits (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL DEFAULT '',
    root_url TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    fail_reason TEXT,
    fail_at TEXT,
    aeo_score REAL,
    geo_score REAL,
    citations_status TEXT,
    config_json TEXT NOT NULL DEFAULT '{}',
    site_description TEXT NOT NULL DEFAULT '',
    industry TEXT NOT NULL DEFAULT '',
    industry_source TEXT NOT NULL DEFAULT '',
    industry_confidence REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_pages (
    id TEXT PRIMARY KEY,
    audit_id TEXT NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    status_code INTEGER,
    content_type TEXT NOT NULL DEFAULT '',
    html_static TEXT NOT NULL DEFAULT '',
    html_rendered TEXT,
    fetched_at TEXT,
    created_at TEXT NOT NULL,
    UNIQUE (audit_id, url)
);

CREATE TABLE IF NOT EXISTS audit_page_analysis (
    id TEXT PRIMARY KEY,
    page_id TEXT NOT NULL UNIQUE REFERENCES audit_pages(id) ON DELETE CASCADE,
    audit_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    h1 TEXT NOT NULL DEFAULT '',
    canonical TEXT NOT NULL DEFAULT '',
    schema_types TEXT NOT NULL DEFAULT '[]',
    signals_json TEXT NOT NULL DEFAULT '{}',
    checks_json TEXT NOT NULL DEFAULT '{}',
    aeo_score REAL,
    geo_score REAL,
    render_gap_ratio REAL,
    analyzed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
CREATE INDEX IF NOT EXISTS idx_pages_pending ON audit_pages(audit_id, fetched_at);
CREATE INDEX IF NOT EXISTS idx_analysis_audit ON audit_page_analysis(audit_id);
`

// postgresSchema differs only in float types
var postgresSchema = strings.ReplaceAll(sqliteSchema, " REAL", " DOUBLE PRECISION")

// schemaStatements splits a schema into individual statements
func schemaStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
