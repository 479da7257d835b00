// Package export writes a finished audit to disk: one JSONL line per analyzed page, one per
// retrieval passage, and a YAML manifest with the audit summary.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"aeo-audit/pkg/models"
	"aeo-audit/pkg/process"
	"aeo-audit/pkg/utils"
)

// File names inside the export directory
const (
	PagesFile    = "pages.jsonl"
	PassagesFile = "passages.jsonl"
	ManifestFile = "audit.yaml"
)

const pageBatch = 200

// Source reads audits and their analyzed pages
type Source interface {
	Get(ctx context.Context, id string) (*models.AuditView, error)
	ListPages(ctx context.Context, id string, limit, offset int) ([]models.AnalyzedPage, error)
}

// PageRecord is one line of pages.jsonl
type PageRecord struct {
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	H1             string   `json:"h1,omitempty"`
	Canonical      string   `json:"canonical,omitempty"`
	SchemaTypes    []string `json:"schema_types,omitempty"`
	Headings       []string `json:"headings,omitempty"`
	Content        string   `json:"content"`
	ContentHash    string   `json:"content_hash"`
	WordCount      int      `json:"word_count"`
	TokenCount     int      `json:"token_count"`
	AEOScore       *float64 `json:"aeo_score,omitempty"`
	GEOScore       *float64 `json:"geo_score,omitempty"`
	RenderGapRatio *float64 `json:"render_gap_ratio,omitempty"`
	AnalyzedAt     string   `json:"analyzed_at"`
}

// PassageRecord is one line of passages.jsonl
type PassageRecord struct {
	URL          string `json:"url"`
	PassageIndex int    `json:"passage_index"`
	Content      string `json:"content"`
	TokenCount   int    `json:"token_count"`
	PageTitle    string `json:"page_title"`
}

// ManifestPage is the per-page entry of audit.yaml
type ManifestPage struct {
	URL         string   `yaml:"url"`
	Title       string   `yaml:"title"`
	ContentHash string   `yaml:"content_hash"`
	Passages    int      `yaml:"passages"`
	AEOScore    *float64 `yaml:"aeo_score,omitempty"`
	GEOScore    *float64 `yaml:"geo_score,omitempty"`
}

// Manifest is the content of audit.yaml
type Manifest struct {
	AuditID       string             `yaml:"audit_id"`
	RootURL       string             `yaml:"root_url"`
	Status        models.AuditStatus `yaml:"status"`
	FailReason    string             `yaml:"fail_reason,omitempty"`
	StartedAt     time.Time          `yaml:"started_at"`
	FinishedAt    *time.Time         `yaml:"finished_at,omitempty"`
	ExportedAt    time.Time          `yaml:"exported_at"`
	AEOScore      *float64           `yaml:"aeo_score,omitempty"`
	GEOScore      *float64           `yaml:"geo_score,omitempty"`
	Industry      string             `yaml:"industry,omitempty"`
	Stats         models.PageStats   `yaml:"stats"`
	TotalPassages int                `yaml:"total_passages"`
	Pages         []ManifestPage     `yaml:"pages"`
}

// Result summarizes what Export wrote
type Result struct {
	Dir      string `json:"dir"`
	Pages    int    `json:"pages"`
	Passages int    `json:"passages"`
}

// Exporter writes audits to a directory
type Exporter struct {
	src     Source
	chunker process.ChunkerConfig
	log     *logrus.Entry
	now     func() time.Time
}

// NewExporter creates an exporter using the default passage sizing
func NewExporter(src Source, log *logrus.Entry) *Exporter {
	return &Exporter{
		src:     src,
		chunker: process.DefaultChunkerConfig(),
		log:     log.WithField("component", "export"),
		now:     time.Now,
	}
}

// Export writes the audit's files into dir, replacing any previous export there
func (e *Exporter) Export(ctx context.Context, auditID, dir string) (*Result, error) {
	view, err := e.src.Get(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory %s: %w", dir, err)
	}

	pagesOut, err := newJSONLWriter(filepath.Join(dir, PagesFile))
	if err != nil {
		return nil, err
	}
	defer pagesOut.Close()
	passagesOut, err := newJSONLWriter(filepath.Join(dir, PassagesFile))
	if err != nil {
		return nil, err
	}
	defer passagesOut.Close()

	manifest := Manifest{
		AuditID:    view.ID,
		RootURL:    view.RootURL,
		Status:     view.Status,
		FailReason: view.FailReason,
		StartedAt:  view.StartedAt,
		FinishedAt: view.FinishedAt,
		ExportedAt: e.now().UTC(),
		AEOScore:   view.AEOScore,
		GEOScore:   view.GEOScore,
		Industry:   view.Industry,
		Stats:      view.Stats,
		Pages:      make([]ManifestPage, 0, view.Stats.Analyzed),
	}

	for offset := 0; ; offset += pageBatch {
		pages, err := e.src.ListPages(ctx, auditID, pageBatch, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range pages {
			entry, err := e.writePage(p, pagesOut, passagesOut)
			if err != nil {
				return nil, err
			}
			manifest.TotalPassages += entry.Passages
			manifest.Pages = append(manifest.Pages, entry)
		}
		if len(pages) < pageBatch {
			break
		}
	}

	if err := pagesOut.Close(); err != nil {
		return nil, err
	}
	if err := passagesOut.Close(); err != nil {
		return nil, err
	}
	if err := writeManifest(filepath.Join(dir, ManifestFile), &manifest); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"audit_id": auditID,
		"dir":      dir,
		"pages":    len(manifest.Pages),
		"passages": manifest.TotalPassages,
	}).Info("Audit exported")
	return &Result{Dir: dir, Pages: len(manifest.Pages), Passages: manifest.TotalPassages}, nil
}

func (e *Exporter) writePage(p models.AnalyzedPage, pagesOut, passagesOut *jsonlWriter) (ManifestPage, error) {
	a := p.Analysis
	markdown := a.Signals.Markdown
	hash := a.Signals.ContentHash
	if hash == "" {
		hash = utils.CalculateStringSHA256(markdown)
	}

	record := PageRecord{
		URL:            p.Page.URL,
		Title:          a.Title,
		H1:             a.H1,
		Canonical:      a.Canonical,
		SchemaTypes:    a.SchemaTypes,
		Headings:       a.Signals.Headings,
		Content:        markdown,
		ContentHash:    hash,
		WordCount:      a.Signals.WordCount,
		TokenCount:     a.Signals.TokenCount,
		AEOScore:       a.AEOScore,
		GEOScore:       a.GEOScore,
		RenderGapRatio: a.RenderGapRatio,
		AnalyzedAt:     a.AnalyzedAt.UTC().Format(time.RFC3339),
	}
	if record.TokenCount == 0 && markdown != "" {
		record.TokenCount = process.CountTokens(markdown)
	}
	if err := pagesOut.Write(record); err != nil {
		return ManifestPage{}, err
	}

	passages, err := process.SplitPassages(markdown, e.chunker)
	if err != nil {
		e.log.WithField("url", p.Page.URL).Warnf("Failed to split passages: %v", err)
		passages = nil
	}
	for i, passage := range passages {
		if err := passagesOut.Write(PassageRecord{
			URL:          p.Page.URL,
			PassageIndex: i,
			Content:      passage.Content,
			TokenCount:   passage.TokenCount,
			PageTitle:    a.Title,
		}); err != nil {
			return ManifestPage{}, err
		}
	}

	return ManifestPage{
		URL:         p.Page.URL,
		Title:       a.Title,
		ContentHash: hash,
		Passages:    len(passages),
		AEOScore:    a.AEOScore,
		GEOScore:    a.GEOScore,
	}, nil
}

// jsonlWriter appends one JSON document per line
type jsonlWriter struct {
	path string
	file *os.File
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &jsonlWriter{path: path, file: file}, nil
}

func (w *jsonlWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding line for %s: %w", w.path, err)
	}
	if _, err := w.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	return nil
}

// Close syncs and closes the file; later calls are no-ops
func (w *jsonlWriter) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", w.path, err)
	}
	return f.Close()
}

func writeManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshalling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}
