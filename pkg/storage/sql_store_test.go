package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeo-audit/pkg/models"
	"aeo-audit/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(context.Background(), DriverSQLite, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createRunningAudit(t *testing.T, s *SQLStore) *models.Audit {
	t.Helper()
	audit := &models.Audit{
		RootURL:   "https://example.com/",
		Status:    models.AuditStatusRunning,
		StartedAt: time.Now(),
		Config:    models.AuditConfig{MaxPages: 30},
		Industry:  "software",
	}
	require.NoError(t, s.CreateAudit(context.Background(), audit))
	return audit
}

func floatPtr(f float64) *float64 { return &f }

func saveAnalyzed(t *testing.T, s *SQLStore, auditID, url string, aeo, geo, gap *float64) string {
	t.Helper()
	ctx := context.Background()
	_, err := s.InsertPageIfAbsent(ctx, auditID, url)
	require.NoError(t, err)

	pending, err := s.PendingPages(ctx, auditID, 100)
	require.NoError(t, err)
	for _, p := range pending {
		if p.URL != url {
			continue
		}
		code := 200
		p.StatusCode = &code
		p.ContentType = "text/html"
		p.HTMLStatic = "<html></html>"
		analysis := &models.AuditPageAnalysis{Title: "T", AEOScore: aeo, GEOScore: geo, RenderGapRatio: gap}
		require.NoError(t, s.SavePageResult(ctx, &p, analysis))
		return p.ID
	}
	t.Fatalf("page %s not pending", url)
	return ""
}

func TestSQLStore_CreateAndGetAudit(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)

	got, err := s.GetAudit(context.Background(), audit.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.RootURL, got.RootURL)
	assert.Equal(t, models.AuditStatusRunning, got.Status)
	assert.Equal(t, 30, got.Config.MaxPages)
	assert.Equal(t, "software", got.Industry)
	assert.Nil(t, got.AEOScore)
	assert.Nil(t, got.FinishedAt)
	assert.WithinDuration(t, audit.StartedAt, got.StartedAt, time.Millisecond)
}

func TestSQLStore_GetAudit_NotFound(t *testing.T) {
	s := newTestSQLStore(t)
	_, err := s.GetAudit(context.Background(), "missing")
	assert.True(t, errors.Is(err, utils.ErrAuditNotFound))
}

func TestSQLStore_InsertPageIfAbsent_Idempotent(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	added, err := s.InsertPageIfAbsent(ctx, audit.ID, "https://example.com/faq")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.InsertPageIfAbsent(ctx, audit.ID, "https://example.com/faq")
	require.NoError(t, err)
	assert.False(t, added)

	stats, err := s.PageStats(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Discovered)
}

func TestSQLStore_InsertPageIfAbsent_Concurrent(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	var addedCount sync.Map
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			added, err := s.InsertPageIfAbsent(ctx, audit.ID, "https://example.com/pricing")
			assert.NoError(t, err)
			if added {
				addedCount.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	n := 0
	addedCount.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n, "exactly one insert reports a new row")

	stats, err := s.PageStats(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Discovered)
}

func TestSQLStore_SameURLDifferentAudits(t *testing.T) {
	s := newTestSQLStore(t)
	a1 := createRunningAudit(t, s)
	a2 := createRunningAudit(t, s)
	ctx := context.Background()

	added1, err := s.InsertPageIfAbsent(ctx, a1.ID, "https://example.com/")
	require.NoError(t, err)
	added2, err := s.InsertPageIfAbsent(ctx, a2.ID, "https://example.com/")
	require.NoError(t, err)
	assert.True(t, added1)
	assert.True(t, added2)
}

func TestSQLStore_SavePageResult_WriteOnce(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	_, err := s.InsertPageIfAbsent(ctx, audit.ID, "https://example.com/")
	require.NoError(t, err)
	pending, err := s.PendingPages(ctx, audit.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	page := pending[0]
	code := 200
	page.StatusCode = &code
	page.HTMLStatic = "<html><title>Home</title></html>"
	analysis := &models.AuditPageAnalysis{
		Title:       "Home",
		SchemaTypes: []string{"Organization"},
		Signals:     models.PageSignals{WordCount: 12, Headings: []string{"Welcome"}},
	}
	require.NoError(t, s.SavePageResult(ctx, &page, analysis))

	// A second pass racing on the same row must not create a second analysis
	dup := pending[0]
	err = s.SavePageResult(ctx, &dup, &models.AuditPageAnalysis{Title: "Again"})
	assert.True(t, errors.Is(err, ErrPageAlreadyProcessed))

	stats, err := s.PageStats(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PageStats{Discovered: 1, Analyzed: 1, Pending: 0}, stats)

	got, err := s.GetAnalyzedPage(ctx, audit.ID, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Home", got.Analysis.Title)
	assert.Equal(t, []string{"Organization"}, got.Analysis.SchemaTypes)
	assert.Equal(t, 12, got.Analysis.Signals.WordCount)
	assert.Equal(t, "{}", got.Analysis.ChecksJSON)
	assert.Nil(t, got.Analysis.RenderGapRatio)
	require.NotNil(t, got.Page.StatusCode)
	assert.Equal(t, 200, *got.Page.StatusCode)
}

func TestSQLStore_MarkPageProcessed_LeavesQueueWithoutAnalysis(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	_, err := s.InsertPageIfAbsent(ctx, audit.ID, "https://example.com/private")
	require.NoError(t, err)
	pending, err := s.PendingPages(ctx, audit.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkPageProcessed(ctx, pending[0].ID, nil, "", time.Now()))

	stats, err := s.PageStats(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PageStats{Discovered: 1, Analyzed: 0, Pending: 0}, stats)

	_, err = s.GetAnalyzedPage(ctx, audit.ID, pending[0].ID)
	assert.True(t, errors.Is(err, utils.ErrPageNotFound), "unanalyzed pages are hidden")
}

func TestSQLStore_PendingPages_Limit(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertPageIfAbsent(ctx, audit.ID, fmt.Sprintf("https://example.com/p%d", i))
		require.NoError(t, err)
	}
	pending, err := s.PendingPages(ctx, audit.ID, 3)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestSQLStore_ConditionalTransitions(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	t.Run("complete once", func(t *testing.T) {
		audit := createRunningAudit(t, s)
		ok, err := s.CompleteAudit(ctx, audit.ID, 70, 60, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.CompleteAudit(ctx, audit.ID, 10, 10, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "second finalize must not win")

		got, err := s.GetAudit(ctx, audit.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuditStatusCompleted, got.Status)
		require.NotNil(t, got.AEOScore)
		assert.Equal(t, 70.0, *got.AEOScore)
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("fail after complete is a no-op", func(t *testing.T) {
		audit := createRunningAudit(t, s)
		_, err := s.CompleteAudit(ctx, audit.ID, 50, 50, time.Now())
		require.NoError(t, err)

		ok, err := s.FailAudit(ctx, audit.ID, "late", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fail records reason", func(t *testing.T) {
		audit := createRunningAudit(t, s)
		ok, err := s.FailAudit(ctx, audit.ID, string(models.FailNoCrawlablePages), time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetAudit(ctx, audit.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuditStatusFailed, got.Status)
		assert.Equal(t, "no_crawlable_pages_found", got.FailReason)
		assert.NotNil(t, got.FailAt)
	})
}

func TestSQLStore_ScoreSummary(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	saveAnalyzed(t, s, audit.ID, "https://example.com/a", floatPtr(80), floatPtr(60), floatPtr(0.2))
	saveAnalyzed(t, s, audit.ID, "https://example.com/b", floatPtr(60), floatPtr(40), nil)
	saveAnalyzed(t, s, audit.ID, "https://example.com/c", nil, nil, floatPtr(0.4))

	summary, err := s.ScoreSummary(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Analyzed)
	require.NotNil(t, summary.AvgAEO)
	assert.InDelta(t, 70.0, *summary.AvgAEO, 0.001)
	assert.InDelta(t, 50.0, *summary.AvgGEO, 0.001)
	assert.InDelta(t, 0.3, *summary.AvgRenderGap, 0.001)
}

func TestSQLStore_ScoreSummary_Empty(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)

	summary, err := s.ScoreSummary(context.Background(), audit.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Analyzed)
	assert.Nil(t, summary.AvgAEO)
	assert.Nil(t, summary.AvgRenderGap)
}

func TestSQLStore_ListRunningAudits(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()
	running := createRunningAudit(t, s)
	done := createRunningAudit(t, s)
	_, err := s.CompleteAudit(ctx, done.ID, 1, 1, time.Now())
	require.NoError(t, err)

	audits, err := s.ListRunningAudits(ctx)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, running.ID, audits[0].ID)
}

func TestSQLStore_ResetForRecrawl(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	saveAnalyzed(t, s, audit.ID, "https://example.com/a", floatPtr(80), floatPtr(60), nil)
	_, err := s.CompleteAudit(ctx, audit.ID, 80, 60, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.SetCitationsStatus(ctx, audit.ID, models.CitationsStatusQueued))

	restart := time.Now().Add(time.Minute)
	require.NoError(t, s.ResetForRecrawl(ctx, audit.ID, restart))

	got, err := s.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditStatusRunning, got.Status)
	assert.Nil(t, got.AEOScore)
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, models.CitationsStatusNone, got.CitationsStatus)
	assert.Equal(t, "software", got.Industry, "industry lock survives recrawl")

	stats, err := s.PageStats(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PageStats{}, stats)

	assert.True(t, errors.Is(s.ResetForRecrawl(ctx, "missing", restart), utils.ErrAuditNotFound))
}

func TestSQLStore_ListAnalyzedPages(t *testing.T) {
	s := newTestSQLStore(t)
	audit := createRunningAudit(t, s)
	ctx := context.Background()

	saveAnalyzed(t, s, audit.ID, "https://example.com/a", nil, nil, nil)
	saveAnalyzed(t, s, audit.ID, "https://example.com/b", nil, nil, nil)
	_, err := s.InsertPageIfAbsent(ctx, audit.ID, "https://example.com/pending")
	require.NoError(t, err)

	pages, err := s.ListAnalyzedPages(ctx, audit.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	pages, err = s.ListAnalyzedPages(ctx, audit.ID, 1, 1)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestNewSQLStore_UnknownDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), "mysql", "", testLogger())
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements(sqliteSchema)
	assert.Len(t, stmts, 6)
	assert.Contains(t, postgresSchema, "DOUBLE PRECISION")
	assert.NotContains(t, postgresSchema, " REAL")
}
