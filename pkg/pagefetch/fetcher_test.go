package pagefetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/utils"
)

const spaShell = `<!DOCTYPE html><html><head><title>App</title></head>
<body><div id="root"></div><script src="/static/js/main.js"></script></body></html>`

var renderedPage = `<html><body><div id="root"><h1>Pricing</h1><p>` +
	strings.Repeat("Plans start at ten dollars per month. ", 30) + `</p></div></body></html>`

type fakeRenderer struct {
	calls atomic.Int32
	html  string
	err   error
}

func (r *fakeRenderer) Render(context.Context, string) (string, error) {
	r.calls.Add(1)
	return r.html, r.err
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestFetcher(r *fakeRenderer) *Fetcher {
	cfg := config.Default().Render
	cfg.StaticTimeout = 2 * time.Second
	client := fetch.WrapClient(&http.Client{Timeout: 5 * time.Second}, 10, fetch.Identity{UserAgent: "AEOAuditBot/1.0"}, testLogger())
	httpFetcher := fetch.NewFetcher(client, fetch.RetryPolicy{}, testLogger())
	if r == nil {
		return NewFetcher(httpFetcher, nil, cfg, testLogger())
	}
	return NewFetcher(httpFetcher, r, cfg, testLogger())
}

func serve(contentType, body string, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
}

func TestFetchSmart_StaticPage(t *testing.T) {
	server := serve("text/html; charset=utf-8", renderedPage, http.StatusOK)
	defer server.Close()
	r := &fakeRenderer{html: renderedPage}

	res, err := newTestFetcher(r).FetchSmart(context.Background(), server.URL, 0, NewRenderBudget(3), true)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.False(t, res.IsSPA)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, renderedPage, res.StaticHTML)
	assert.Nil(t, res.RenderedHTML)
	assert.Nil(t, res.RenderGapRatio)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestFetchSmart_RendersSPA(t *testing.T) {
	server := serve("text/html", spaShell, http.StatusOK)
	defer server.Close()
	r := &fakeRenderer{html: renderedPage}
	budget := NewRenderBudget(3)

	res, err := newTestFetcher(r).FetchSmart(context.Background(), server.URL, 0, budget, false)
	require.NoError(t, err)

	assert.True(t, res.IsSPA)
	require.NotNil(t, res.RenderedHTML)
	assert.Equal(t, renderedPage, *res.RenderedHTML)
	require.NotNil(t, res.RenderGapRatio)
	assert.Less(t, *res.RenderGapRatio, 0.3)
	assert.Equal(t, 2, budget.Remaining())
}

func TestFetchSmart_RenderEligibility(t *testing.T) {
	server := serve("text/html", spaShell, http.StatusOK)
	defer server.Close()

	t.Run("late page skipped", func(t *testing.T) {
		r := &fakeRenderer{html: renderedPage}
		res, err := newTestFetcher(r).FetchSmart(context.Background(), server.URL, 10, NewRenderBudget(3), false)
		require.NoError(t, err)
		assert.True(t, res.IsSPA)
		assert.Nil(t, res.RenderedHTML)
		assert.Equal(t, int32(0), r.calls.Load())
	})

	t.Run("late homepage rendered", func(t *testing.T) {
		r := &fakeRenderer{html: renderedPage}
		res, err := newTestFetcher(r).FetchSmart(context.Background(), server.URL, 10, NewRenderBudget(3), true)
		require.NoError(t, err)
		assert.NotNil(t, res.RenderedHTML)
	})

	t.Run("budget spent", func(t *testing.T) {
		r := &fakeRenderer{html: renderedPage}
		res, err := newTestFetcher(r).FetchSmart(context.Background(), server.URL, 0, NewRenderBudget(0), true)
		require.NoError(t, err)
		assert.Nil(t, res.RenderedHTML)
		assert.Equal(t, int32(0), r.calls.Load())
	})

	t.Run("no renderer", func(t *testing.T) {
		res, err := newTestFetcher(nil).FetchSmart(context.Background(), server.URL, 0, NewRenderBudget(3), true)
		require.NoError(t, err)
		assert.True(t, res.IsSPA)
		assert.Nil(t, res.RenderedHTML)
	})
}

func TestFetchSmart_RenderFailureKeepsStatic(t *testing.T) {
	server := serve("text/html", spaShell, http.StatusOK)
	defer server.Close()
	r := &fakeRenderer{err: errors.New("chrome crashed")}

	res, err := newTestFetcher(r).FetchSmart(context.Background(), server.URL, 0, NewRenderBudget(1), false)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, spaShell, res.StaticHTML)
	assert.Nil(t, res.RenderedHTML)
	assert.Nil(t, res.RenderGapRatio)
}

func TestFetchSmart_NotFound(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		server := serve("text/html", "gone", http.StatusNotFound)
		defer server.Close()

		res, err := newTestFetcher(nil).FetchSmart(context.Background(), server.URL, 0, NewRenderBudget(1), false)
		require.Error(t, err)
		assert.False(t, res.Found)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("not html", func(t *testing.T) {
		server := serve("application/pdf", "%PDF-1.4", http.StatusOK)
		defer server.Close()

		res, err := newTestFetcher(nil).FetchSmart(context.Background(), server.URL, 0, NewRenderBudget(1), false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrNotHTML))
		assert.False(t, res.Found)
		assert.Equal(t, "application/pdf", res.ContentType)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := serve("text/html", "", http.StatusOK)
		url := server.URL
		server.Close()

		res, err := newTestFetcher(nil).FetchSmart(context.Background(), url, 0, NewRenderBudget(1), false)
		require.Error(t, err)
		assert.False(t, res.Found)
		assert.Equal(t, 0, res.StatusCode)
	})
}

func TestRenderGapRatio(t *testing.T) {
	ptr := func(s string) *string { return &s }

	r := RenderGapRatio(ptr(strings.Repeat("a", 100)), ptr(strings.Repeat("b", 1000)))
	require.NotNil(t, r)
	assert.InDelta(t, 0.1, *r, 1e-9)

	r = RenderGapRatio(ptr("same length"), ptr("other words"))
	require.NotNil(t, r)
	assert.Equal(t, 1.0, *r)

	r = RenderGapRatio(ptr("a  b\n\n c"), ptr("a b c"))
	require.NotNil(t, r)
	assert.Equal(t, 1.0, *r, "whitespace runs count once")

	r = RenderGapRatio(ptr(strings.Repeat("a", 50)), ptr(strings.Repeat("b", 10)))
	require.NotNil(t, r)
	assert.Equal(t, 1.0, *r, "clamped to 1")

	r = RenderGapRatio(ptr(""), ptr(""))
	require.NotNil(t, r)
	assert.Equal(t, 1.0, *r)

	assert.Nil(t, RenderGapRatio(nil, ptr("x")))
	assert.Nil(t, RenderGapRatio(ptr("x"), nil))
}

func TestRenderBudget_Concurrent(t *testing.T) {
	budget := NewRenderBudget(5)
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if budget.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), granted.Load())
	assert.Equal(t, 0, budget.Remaining())
	assert.False(t, budget.TryAcquire())

	var nilBudget *RenderBudget
	assert.False(t, nilBudget.TryAcquire())
}
