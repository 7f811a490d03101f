package domain

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// SyncOperation identifies what a sync attempt did to the external representation.
type SyncOperation string

const (
	SyncOperationCreate SyncOperation = "create"
	SyncOperationUpdate SyncOperation = "update"
	SyncOperationDelete SyncOperation = "delete"
	SyncOperationSync   SyncOperation = "sync"
)

// SyncLogStatus represents the state of a single sync attempt.
type SyncLogStatus string

const (
	SyncLogStatusPending    SyncLogStatus = "pending"
	SyncLogStatusSyncing    SyncLogStatus = "syncing"
	SyncLogStatusSuccess    SyncLogStatus = "success"
	SyncLogStatusError      SyncLogStatus = "error"
	SyncLogStatusRolledBack SyncLogStatus = "rolled_back"
)

// ErrorCategory is a best-effort classification of a sync failure.
// Used only for observability, never for control flow.
type ErrorCategory string

const (
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryRateLimit      ErrorCategory = "rate_limit"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryExternalAPI    ErrorCategory = "external_api"
	ErrorCategoryDatabase       ErrorCategory = "database"
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// SyncLogEntry is one row of the sync audit trail. Entries are append-on-start
// and receive a single completion update; one entry per attempt.
type SyncLogEntry struct {
	ID            string        `json:"id"`
	ProjectID     *string       `json:"project_id,omitempty"` // nil for board-wide syncs
	Operation     SyncOperation `json:"operation"`
	Status        SyncLogStatus `json:"status"`
	ItemsCreated  []string      `json:"items_created,omitempty"`
	ItemsUpdated  []string      `json:"items_updated,omitempty"`
	ItemsDeleted  []string      `json:"items_deleted,omitempty"`
	ErrorMessage  *string       `json:"error_message,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	RetryCount    int           `json:"retry_count"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	DurationMs    *int64        `json:"duration_ms,omitempty"`
}

// NewSyncLogEntry creates a log entry for a freshly claimed attempt.
func NewSyncLogEntry(projectID *string, op SyncOperation, retryCount int) *SyncLogEntry {
	return &SyncLogEntry{
		ID:         GenerateID(),
		ProjectID:  projectID,
		Operation:  op,
		Status:     SyncLogStatusSyncing,
		RetryCount: retryCount,
		StartedAt:  time.Now(),
	}
}

// SyncOutcome is the completion update applied to a log entry.
type SyncOutcome struct {
	Status        SyncLogStatus
	ItemsCreated  []string
	ItemsUpdated  []string
	ItemsDeleted  []string
	ErrorMessage  string
	ErrorCategory ErrorCategory
}

// Complete applies the outcome and derives the duration.
func (e *SyncLogEntry) Complete(outcome SyncOutcome) {
	now := time.Now()
	e.Status = outcome.Status
	e.ItemsCreated = outcome.ItemsCreated
	e.ItemsUpdated = outcome.ItemsUpdated
	e.ItemsDeleted = outcome.ItemsDeleted
	e.ErrorCategory = outcome.ErrorCategory
	if outcome.ErrorMessage != "" {
		msg := outcome.ErrorMessage
		e.ErrorMessage = &msg
	}
	e.CompletedAt = &now
	ms := now.Sub(e.StartedAt).Milliseconds()
	e.DurationMs = &ms
}

// CategorizeError classifies a failure by error type and message keywords.
// Deliberately coarse: the category feeds dashboards, nothing else.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return ErrorCategoryTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		return ErrorCategoryRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "invalid token"):
		return ErrorCategoryAuthentication
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe"):
		return ErrorCategoryNetwork
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid input") ||
		strings.Contains(msg, "bad request") || strings.Contains(msg, "400"):
		return ErrorCategoryValidation
	case strings.Contains(msg, "database") || strings.Contains(msg, "sql") ||
		strings.Contains(msg, "pq:"):
		return ErrorCategoryDatabase
	case strings.Contains(msg, "whiteboard") || strings.Contains(msg, "miro") ||
		strings.Contains(msg, "circuit") || strings.Contains(msg, "board"):
		return ErrorCategoryExternalAPI
	}
	return ErrorCategoryUnknown
}

// SyncLogStats summarizes the audit trail over a window.
type SyncLogStats struct {
	Total         int64                   `json:"total"`
	ByStatus      map[SyncLogStatus]int64 `json:"by_status"`
	ByOperation   map[SyncOperation]int64 `json:"by_operation"`
	ByCategory    map[ErrorCategory]int64 `json:"by_category"`
	AvgDurationMs float64                 `json:"avg_duration_ms"`
}
