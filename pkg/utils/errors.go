package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrNotHTML          = errors.New("response is not HTML")
	ErrParsing          = errors.New("parsing error") // Wraps specific parsing error (HTML, URL, XML)
	ErrDatabase         = errors.New("database error")
	ErrCache            = errors.New("cache error") // Wraps badger errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrRender           = errors.New("browser render failed")
	ErrConfigValidation = errors.New("configuration validation error")

	ErrNoURLsDiscovered = errors.New("no crawlable URLs discovered")
	ErrAuditNotFound    = errors.New("audit not found")
	ErrAuditBusy        = errors.New("audit already has work in progress")
	ErrPageNotFound     = errors.New("page not found")
	ErrInvalidRequest   = errors.New("invalid request")
)

// HTTPStatusError carries the final status code of a failed request
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Err        error // one of the HTTP sentinels
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%v: status %d for %s", e.Err, e.StatusCode, e.URL)
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

// NewHTTPStatusError picks the sentinel matching the status class
func NewHTTPStatusError(statusCode int, url string) *HTTPStatusError {
	var sentinel error
	switch {
	case statusCode >= 400 && statusCode < 500:
		sentinel = ErrClientHTTPError
	case statusCode >= 500:
		sentinel = ErrServerHTTPError
	default:
		sentinel = ErrOtherHTTPError
	}
	return &HTTPStatusError{StatusCode: statusCode, URL: url, Err: sentinel}
}

// StatusCodeOf extracts the HTTP status code from an error chain, or 0
func StatusCodeOf(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		underlying := errors.Unwrap(err)
		if underlying != nil {
			if errors.Is(underlying, ErrServerHTTPError) {
				return "RetryFailed_HTTPServer"
			}
			if errors.Is(underlying, ErrClientHTTPError) {
				return "RetryFailed_HTTPClient"
			}
			return "RetryFailed_" + networkCategory(underlying)
		}
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrClientHTTPError):
		if code := StatusCodeOf(err); code != 0 {
			return fmt.Sprintf("HTTP_%d", code)
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrNotHTML):
		return "Content_NotHTML"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "XML") {
			return "Content_ParsingXML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrRender):
		return "Render_Failed"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrCache):
		return "Cache_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrNoURLsDiscovered):
		return "Discovery_Empty"
	case errors.Is(err, ErrAuditNotFound), errors.Is(err, ErrPageNotFound):
		return "NotFound"
	case errors.Is(err, ErrAuditBusy):
		return "Audit_Busy"
	case errors.Is(err, ErrInvalidRequest):
		return "Request_Invalid"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}
	return networkCategory(err)
}

// networkCategory classifies raw transport errors
func networkCategory(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"), strings.Contains(lowerErrMsg, "deadline exceeded"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls"), strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	}
	return "Unknown"
}
