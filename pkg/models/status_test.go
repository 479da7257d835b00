package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditStatus_String(t *testing.T) {
	tests := []struct {
		status AuditStatus
		want   string
	}{
		{AuditStatus(""), "unset"},
		{AuditStatusRunning, "running"},
		{AuditStatusCompleted, "completed"},
		{AuditStatusFailed, "failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestAuditStatus_IsTerminal(t *testing.T) {
	assert.False(t, AuditStatusRunning.IsTerminal())
	assert.True(t, AuditStatusCompleted.IsTerminal())
	assert.True(t, AuditStatusFailed.IsTerminal())
	assert.False(t, AuditStatus("paused").IsValid())
}

func TestCitationsStatus_IsValid(t *testing.T) {
	assert.True(t, CitationsStatusNone.IsValid())
	assert.True(t, CitationsStatusQueued.IsValid())
	assert.False(t, CitationsStatus("sent").IsValid())
}

func TestFailReason_Constructors(t *testing.T) {
	assert.Equal(t, FailReason("timeout_insufficient_pages_7"), FailTimeoutInsufficientPages(7))
	assert.Equal(t, FailReason("http_404"), FailHTTPStatus(404))
	assert.Equal(t, FailReason("http_429_after_retries"), FailHTTPAfterRetries(429))
}

func TestFailReason_IsKnown(t *testing.T) {
	tests := []struct {
		reason FailReason
		want   bool
	}{
		{FailNoCrawlablePages, true},
		{FailNoPagesAfter10Min, true},
		{FailTimeoutInsufficientPages(3), true},
		{FailHTTPStatus(500), true},
		{FailReason("operator cancelled"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.reason.IsKnown(), string(tt.reason))
	}
}
