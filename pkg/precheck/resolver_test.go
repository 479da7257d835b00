package precheck

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func testConfig() config.PrecheckConfig {
	cfg := config.Default().Precheck
	cfg.Timeout = 2 * time.Second
	cfg.InitialRetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	cfg.MaxRetries = 2
	return cfg
}

func newTestResolver(cfg config.PrecheckConfig) *Resolver {
	identity := fetch.Identity{UserAgent: "AEOAuditBot/1.0", AcceptLanguage: "en-US,en;q=0.9"}
	client := fetch.WrapClient(&http.Client{Timeout: 5 * time.Second}, 10, identity, testLogger())
	fetcher := fetch.NewFetcher(client, RetryPolicy(cfg), testLogger())
	return NewResolver(fetcher, cfg, 500_000, testLogger())
}

func htmlPage(title, body string) string {
	return "<!DOCTYPE html><html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}
}

func TestCheck_OK(t *testing.T) {
	server := httptest.NewServer(serveHTML(htmlPage("Acme", "<h1>Welcome to Acme</h1><p>We build rockets.</p>")))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL+"/")
	require.True(t, res.OK, "reason: %s", res.Reason)
	assert.Equal(t, server.URL+"/", res.FinalURL)
}

func TestCheck_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/home/", http.StatusMovedPermanently)
			return
		}
		serveHTML(htmlPage("Home", "<p>content</p>"))(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	require.True(t, res.OK)
	assert.Equal(t, server.URL+"/home", res.FinalURL)
}

func TestCheck_ParkedDomain(t *testing.T) {
	server := httptest.NewServer(serveHTML(htmlPage("example.com", "<h1>This domain is for sale!</h1><p>Contact the broker.</p>")))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	assert.False(t, res.OK)
	assert.Equal(t, models.FailParkedOrEmpty, res.Reason)
	assert.Empty(t, res.FinalURL)
}

func TestCheck_BroadPhraseTolerantWithSkeleton(t *testing.T) {
	page := htmlPage("Acme", "<p>New product line coming soon. Meanwhile read our docs.</p>")
	server := httptest.NewServer(serveHTML(page))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	assert.True(t, res.OK, "a full page mentioning 'coming soon' is real content")
}

func TestCheck_BroadPhraseWithoutSkeleton(t *testing.T) {
	page := "<div>Coming Soon</div>" + strings.Repeat("<!-- padding -->", 100)
	server := httptest.NewServer(serveHTML(page))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	assert.False(t, res.OK)
	assert.Equal(t, models.FailParkedOrEmpty, res.Reason)
}

func TestCheck_TinyBodyWithoutSkeleton(t *testing.T) {
	server := httptest.NewServer(serveHTML("<p>hi</p>"))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	assert.Equal(t, models.FailParkedOrEmpty, res.Reason)
}

func TestCheck_NonRetryableStatus(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	assert.Equal(t, models.FailReason("http_403"), res.Reason)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCheck_RetryableStatusExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	assert.Equal(t, models.FailReason("http_429_after_retries"), res.Reason)
	assert.Equal(t, int32(3), hits.Load(), "initial attempt plus two retries")
}

func TestCheck_RetryableStatusRecovers(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(521)
			return
		}
		serveHTML(htmlPage("Up", "<p>back online</p>"))(w, r)
	}))
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	assert.True(t, res.OK)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCheck_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), addr)
	assert.Equal(t, models.FailUnreachable, res.Reason)
}

func TestCheck_InvalidURL(t *testing.T) {
	r := newTestResolver(testConfig())
	assert.Equal(t, models.FailInvalidURL, r.Check(context.Background(), "").Reason)
	assert.Equal(t, models.FailInvalidURL, r.Check(context.Background(), "ftp://example.com").Reason)
}

func TestCheck_BlockedPlatform(t *testing.T) {
	r := newTestResolver(testConfig())
	for _, u := range []string{"https://app.hubspot.com/contacts", "docs.google.com/document/d/1", "https://www.linkedin.com/company/acme"} {
		res := r.Check(context.Background(), u)
		assert.Equal(t, models.FailBlockedPlatform, res.Reason, u)
	}
}

func TestCheck_RedirectTable(t *testing.T) {
	server := httptest.NewServer(serveHTML(htmlPage("Real", "<p>the real site</p>")))
	defer server.Close()

	cfg := testConfig()
	cfg.RedirectTable = map[string]string{"old-brand.test": server.URL + "/"}

	res := newTestResolver(cfg).Check(context.Background(), "https://www.old-brand.test")
	require.True(t, res.OK, "reason: %s", res.Reason)
	assert.Equal(t, server.URL+"/", res.FinalURL)
}

func TestCheck_LocaleRewrite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/fr-fr/", http.StatusFound)
	})
	mux.HandleFunc("/fr-fr/", serveHTML(htmlPage("Accueil", "<p>Bienvenue</p>")))
	mux.HandleFunc("/en-us/", serveHTML(htmlPage("Home", "<p>Welcome</p>")))
	server := httptest.NewServer(mux)
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	require.True(t, res.OK)
	assert.Equal(t, server.URL+"/en-us", res.FinalURL)
}

func TestCheck_LocaleFallsBackToEn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/de/", http.StatusFound)
	})
	mux.HandleFunc("/de/", serveHTML(htmlPage("Start", "<p>Willkommen</p>")))
	mux.HandleFunc("/en/", serveHTML(htmlPage("Home", "<p>Welcome</p>")))
	server := httptest.NewServer(mux)
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	require.True(t, res.OK)
	assert.Equal(t, server.URL+"/en", res.FinalURL)
}

func TestCheck_LocaleFallsBackToOrigin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/ja-jp/", http.StatusFound)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/ja-jp/") {
			serveHTML(htmlPage("ホーム", "<p>ようこそ</p>"))(w, r)
			return
		}
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	res := newTestResolver(testConfig()).Check(context.Background(), server.URL)
	require.True(t, res.OK)
	assert.Equal(t, server.URL+"/", res.FinalURL)
}

func TestFailReasonFor(t *testing.T) {
	assert.Equal(t, models.FailUnreachable, failReasonFor(assert.AnError))
}
