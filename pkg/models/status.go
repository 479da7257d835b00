package models

import (
	"fmt"
	"strings"
)

// AuditStatus represents the lifecycle state of an audit
type AuditStatus string

const (
	AuditStatusRunning   AuditStatus = "running"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusFailed    AuditStatus = "failed"
)

// String implements fmt.Stringer for logging
func (s AuditStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known lifecycle value
func (s AuditStatus) IsValid() bool {
	switch s {
	case AuditStatusRunning, AuditStatusCompleted, AuditStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further batch work may run
func (s AuditStatus) IsTerminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusFailed
}

// CitationsStatus is owned by the citations subsystem; this service only moves it to queued.
type CitationsStatus string

const (
	CitationsStatusNone       CitationsStatus = ""
	CitationsStatusQueued     CitationsStatus = "queued"
	CitationsStatusProcessing CitationsStatus = "processing"
	CitationsStatusCompleted  CitationsStatus = "completed"
	CitationsStatusFailed     CitationsStatus = "failed"
)

// IsValid returns true for null or a known value
func (s CitationsStatus) IsValid() bool {
	switch s {
	case CitationsStatusNone, CitationsStatusQueued, CitationsStatusProcessing, CitationsStatusCompleted, CitationsStatusFailed:
		return true
	}
	return false
}

// FailReason is the recorded cause of a failed audit
type FailReason string

const (
	FailBlockedPlatform   FailReason = "blocked_platform"
	FailUnreachable       FailReason = "unreachable"
	FailParkedOrEmpty     FailReason = "parked_or_empty"
	FailInvalidURL        FailReason = "invalid_url"
	FailNoURLsDiscovered  FailReason = "no_urls_discovered"
	FailNoCrawlablePages  FailReason = "no_crawlable_pages_found"
	FailNoPagesAfter10Min FailReason = "timeout_no_pages_after_10min"
)

const (
	timeoutInsufficientPrefix = "timeout_insufficient_pages_"
	httpPrefix                = "http_"
	afterRetriesSuffix        = "_after_retries"
)

// FailHTTPStatus is a non-retryable status seen during precheck
func FailHTTPStatus(code int) FailReason {
	return FailReason(fmt.Sprintf("%s%d", httpPrefix, code))
}

// FailHTTPAfterRetries is a retryable status that outlasted the retry ceiling
func FailHTTPAfterRetries(code int) FailReason {
	return FailReason(fmt.Sprintf("%s%d%s", httpPrefix, code, afterRetriesSuffix))
}

// FailTimeoutInsufficientPages embeds the analyzed count for diagnosability
func FailTimeoutInsufficientPages(analyzed int) FailReason {
	return FailReason(fmt.Sprintf("%s%d", timeoutInsufficientPrefix, analyzed))
}

// IsKnown reports whether r belongs to the fixed taxonomy (admin reasons do not)
func (r FailReason) IsKnown() bool {
	switch r {
	case FailBlockedPlatform, FailUnreachable, FailParkedOrEmpty,
		FailInvalidURL, FailNoURLsDiscovered, FailNoCrawlablePages, FailNoPagesAfter10Min:
		return true
	}
	s := string(r)
	return strings.HasPrefix(s, timeoutInsufficientPrefix) || strings.HasPrefix(s, httpPrefix)
}
