package domain

import "time"

// SyncHealthMetrics is the dashboard view of the population-wide sync state.
type SyncHealthMetrics struct {
	TotalProjects    int64 `json:"total_projects"`
	SyncedCount      int64 `json:"synced_count"`
	PendingCount     int64 `json:"pending_count"`
	SyncingCount     int64 `json:"syncing_count"`
	ErrorCount       int64 `json:"error_count"`
	NotRequiredCount int64 `json:"not_required_count"`

	// SyncSuccessRate is synced/total*100; defined as 100 with zero projects.
	SyncSuccessRate float64 `json:"sync_success_rate"`
	AvgRetryCount   float64 `json:"avg_retry_count"`

	LastSyncError        *string    `json:"last_sync_error,omitempty"`
	LastErrorProjectName *string    `json:"last_error_project_name,omitempty"`
	LastErrorAt          *time.Time `json:"last_error_at,omitempty"`
}

// RetryResult summarizes a RetryFailedSyncs batch.
type RetryResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
