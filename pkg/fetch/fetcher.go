package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"aeo-audit/pkg/utils"
)

// RetryPolicy bounds retries of transient statuses
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Response is a fully-read HTTP response
type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// IsHTML reports whether the response declares an HTML content type
func (r *Response) IsHTML() bool {
	ct := strings.ToLower(r.ContentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// Fetcher makes identity-stamped GET requests through the shared client
type Fetcher struct {
	client *http.Client
	retry  RetryPolicy
	log    *logrus.Entry
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, retry RetryPolicy, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		retry:  retry,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Get performs a single GET with its own timeout. Non-2xx responses are returned together with an *utils.HTTPStatusError.
func (f *Fetcher) Get(ctx context.Context, rawURL string, timeout time.Duration, maxBytes int64) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrRequestCreation, rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return out, utils.NewHTTPStatusError(resp.StatusCode, out.URL)
	}

	body, err := readBody(resp.Body, out.ContentType, maxBytes)
	if err != nil {
		return out, fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, rawURL, err)
	}
	out.Body = body
	return out, nil
}

// GetWithRetry retries 429 and 521 with exponential backoff, honouring Retry-After on 429.
// Every other non-2xx status fails immediately.
func (f *Fetcher) GetWithRetry(ctx context.Context, rawURL string, timeout time.Duration, maxBytes int64) (*Response, error) {
	reqLog := f.log.WithField("url", rawURL)
	var lastErr error
	var lastResp *Response

	for attempt := 0; attempt <= f.retry.MaxRetries; attempt++ {
		resp, err := f.Get(ctx, rawURL, timeout, maxBytes)
		if err == nil {
			return resp, nil
		}
		lastErr, lastResp = err, resp

		if ctx.Err() != nil {
			return resp, err
		}

		code := utils.StatusCodeOf(err)
		if !IsRetryableStatus(code) {
			return resp, err
		}
		if attempt == f.retry.MaxRetries {
			break
		}

		delay := f.retry.Backoff(attempt)
		if code == http.StatusTooManyRequests && resp != nil {
			if ra, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				delay = min(ra, f.retry.MaxDelay)
			}
		}

		reqLog.WithFields(logrus.Fields{"attempt": attempt + 1, "status_code": code, "delay": delay}).Warn("Retrying request...")
		if err := f.sleep(ctx, delay); err != nil {
			return lastResp, fmt.Errorf("context cancelled during retry delay after error: %w", lastErr)
		}
	}

	reqLog.Warnf("All %d attempts failed. Last error: %v", f.retry.MaxRetries+1, lastErr)
	return lastResp, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// IsRetryableStatus reports whether a status is worth retrying (rate limiting or origin unreachable behind a CDN)
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == 521
}

// Backoff returns InitialDelay * 2^attempt, capped at MaxDelay
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(2, float64(attempt)))
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	return delay
}

// ParseRetryAfter accepts delta-seconds or an HTTP date
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		d := when.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func readBody(body io.Reader, contentType string, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		body = io.LimitReader(body, maxBytes)
	}
	if strings.Contains(strings.ToLower(contentType), "html") {
		decoded, err := charset.NewReader(body, contentType)
		if err == nil {
			body = decoded
		}
	}
	return io.ReadAll(body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsNetworkError reports whether err came from the transport rather than a status code
func IsNetworkError(err error) bool {
	return err != nil && utils.StatusCodeOf(err) == 0 && !errors.Is(err, utils.ErrRequestCreation)
}
