package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeo-audit/pkg/lifecycle"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/utils"
)

func TestMain(m *testing.M) {
	_ = godotenv.Load()
	os.Exit(m.Run())
}

func TestDoValidate_ValidFile(t *testing.T) {
	content := `
batch:
  target_min_pages: 10
  target_max_pages: 30
render:
  enabled: false
storage:
  driver: sqlite
  dsn: "file::memory:"
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	var stdout bytes.Buffer
	require.NoError(t, doValidate(cfgPath, &stdout))
	assert.Contains(t, stdout.String(), "10-30 per audit")
	assert.Contains(t, stdout.String(), "Rendering: false")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_MissingFileUsesDefaults(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, doValidate(filepath.Join(t.TempDir(), "absent.yaml"), &stdout))
	assert.Contains(t, stdout.String(), "40-60 per audit")
	assert.Contains(t, stdout.String(), "WARN: storage.dsn is empty")
}

func TestDoValidate_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "{{invalid yaml",
		"inverted page": "batch:\n  target_min_pages: 80\n  target_max_pages: 20\n",
		"bad driver":    "storage:\n  driver: mysql\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

			var stdout bytes.Buffer
			err := doValidate(cfgPath, &stdout)
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.NotContains(t, stdout.String(), "Configuration valid")
		})
	}
}

type fakeRunner struct {
	final *models.AuditView
	pages []models.AnalyzedPage
	req   lifecycle.CreateRequest
}

func (f *fakeRunner) Create(_ context.Context, req lifecycle.CreateRequest) (*lifecycle.CreateResponse, error) {
	f.req = req
	return &lifecycle.CreateResponse{AuditID: f.final.ID, Status: models.AuditStatusRunning}, nil
}

func (f *fakeRunner) AwaitTerminal(context.Context, string, time.Duration) (*models.AuditView, error) {
	return f.final, nil
}

func (f *fakeRunner) ListPages(_ context.Context, _ string, limit, offset int) ([]models.AnalyzedPage, error) {
	if offset >= len(f.pages) {
		return nil, nil
	}
	return f.pages[offset:min(offset+limit, len(f.pages))], nil
}

func TestDoAudit_PrintsReport(t *testing.T) {
	score := 64.0
	runner := &fakeRunner{
		final: &models.AuditView{
			Audit: models.Audit{ID: "a1", RootURL: "https://x.com/", Status: models.AuditStatusCompleted, AEOScore: &score},
			Stats: models.PageStats{Discovered: 2, Analyzed: 2},
		},
		pages: []models.AnalyzedPage{
			{Page: models.AuditPage{ID: "p1", URL: "https://x.com/"}},
			{Page: models.AuditPage{ID: "p2", URL: "https://x.com/about"}},
		},
	}

	var out bytes.Buffer
	err := doAudit(context.Background(), runner, lifecycle.CreateRequest{URL: "https://x.com", MaxPages: 10}, time.Minute, true, &out)
	require.NoError(t, err)
	assert.Equal(t, 10, runner.req.MaxPages)

	var report auditReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, models.AuditStatusCompleted, report.Audit.Status)
	assert.Len(t, report.Pages, 2)
}

func TestDoAudit_FailedAuditIsAnError(t *testing.T) {
	runner := &fakeRunner{final: &models.AuditView{
		Audit: models.Audit{ID: "a2", Status: models.AuditStatusFailed, FailReason: "parked_or_empty"},
	}}

	var out bytes.Buffer
	err := doAudit(context.Background(), runner, lifecycle.CreateRequest{URL: "https://parked.example"}, time.Minute, false, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parked_or_empty")
	assert.Contains(t, out.String(), `"status": "failed"`)
}
