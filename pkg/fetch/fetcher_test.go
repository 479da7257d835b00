package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeo-audit/pkg/utils"
)

// testPolicy returns a retry policy with fast delays for testing
func testPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testIdentity() Identity {
	return Identity{
		UserAgent:      "TestBot/1.0 (+https://example.org/bot)",
		HeaderName:     "X-Test-Bot",
		HeaderValue:    "1",
		AcceptLanguage: "en-US,en;q=0.9",
	}
}

func testFetcher(maxRetries int) *Fetcher {
	client := WrapClient(&http.Client{Timeout: 30 * time.Second}, 10, testIdentity(), testLogger())
	return NewFetcher(client, testPolicy(maxRetries), testLogger())
}

// mockServer creates an httptest.Server that returns status codes in sequence.
// Returns the server and an atomic counter tracking request attempts.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1 // repeat last status
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCodes[idx])
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestGetWithRetry_Success(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusOK})

	resp, err := testFetcher(3).GetWithRetry(context.Background(), server.URL, time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsHTML())
	assert.Contains(t, string(resp.Body), "ok")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestGetWithRetry_RetriesRateLimitThenSucceeds(t *testing.T) {
	server, attempts := mockServer(t, []int{429, 521, 200})

	resp, err := testFetcher(3).GetWithRetry(context.Background(), server.URL, time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGetWithRetry_RetryCeiling(t *testing.T) {
	server, attempts := mockServer(t, []int{521})

	resp, err := testFetcher(2).GetWithRetry(context.Background(), server.URL, time.Second, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrRetryFailed))
	assert.True(t, errors.Is(err, utils.ErrServerHTTPError))
	assert.Equal(t, 521, utils.StatusCodeOf(err))
	require.NotNil(t, resp)
	assert.Equal(t, int32(3), attempts.Load(), "initial attempt plus two retries")
}

func TestGetWithRetry_OtherStatusesNotRetried(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"404", http.StatusNotFound, utils.ErrClientHTTPError},
		{"403", http.StatusForbidden, utils.ErrClientHTTPError},
		{"500", http.StatusInternalServerError, utils.ErrServerHTTPError},
		{"503", http.StatusServiceUnavailable, utils.ErrServerHTTPError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, []int{tt.status})

			_, err := testFetcher(3).GetWithRetry(context.Background(), server.URL, time.Second, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.False(t, errors.Is(err, utils.ErrRetryFailed))
			assert.Equal(t, tt.status, utils.StatusCodeOf(err))
			assert.Equal(t, int32(1), attempts.Load())
		})
	}
}

func TestGetWithRetry_HonoursRetryAfter(t *testing.T) {
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	f := testFetcher(3)
	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := f.GetWithRetry(context.Background(), server.URL, time.Second, 0)
	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.Equal(t, time.Duration(0), slept[0], "Retry-After: 0 replaces the backoff")
}

func TestGetWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	server, _ := mockServer(t, []int{429})

	f := testFetcher(3)
	f.retry.InitialDelay = time.Second
	f.retry.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.GetWithRetry(ctx, server.URL, time.Second, 0)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGet_AppliesIdentityHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	resp, err := testFetcher(0).Get(context.Background(), server.URL+"/start", time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/final", resp.URL)

	id := testIdentity()
	assert.Equal(t, id.UserAgent, got.Get("User-Agent"))
	assert.Equal(t, "1", got.Get("X-Test-Bot"))
	assert.Equal(t, "en-US,en;q=0.9", got.Get("Accept-Language"))
}

func TestGet_TruncatesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("0123456789"))
	}))
	t.Cleanup(server.Close)

	resp, err := testFetcher(0).Get(context.Background(), server.URL, time.Second, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(resp.Body))
	assert.False(t, resp.IsHTML())
}

func TestGet_DecodesCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	}))
	t.Cleanup(server.Close)

	resp, err := testFetcher(0).Get(context.Background(), server.URL, time.Second, 0)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "café")
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("5", now)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("soon", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("-3", now)
	assert.False(t, ok)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
	assert.Equal(t, time.Second, p.Backoff(5), "capped")
}
