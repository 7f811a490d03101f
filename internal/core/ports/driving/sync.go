package driving

import (
	"context"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// SyncOrchestrator coordinates project-to-whiteboard reconciliation
type SyncOrchestrator interface {
	// SyncProject runs one reconciliation attempt for a project.
	// Manual attempts bypass the retry bound and the suppression window,
	// but never the claim guard.
	SyncProject(ctx context.Context, projectID string, manual bool) (*domain.SyncResult, error)

	// SweepPending claims and syncs every project ListNeedingSync returns
	SweepPending(ctx context.Context) ([]*domain.SyncResult, error)
}

// SyncHealthService is the read-side health surface polled by the dashboard
type SyncHealthService interface {
	// GetSyncHealthMetrics aggregates the current status distribution
	GetSyncHealthMetrics(ctx context.Context) (*domain.SyncHealthMetrics, error)

	// GetLogStats aggregates the audit trail over a window
	GetLogStats(ctx context.Context, window time.Duration) (*domain.SyncLogStats, error)

	// ListRecentLog returns the newest audit entries, optionally per project
	ListRecentLog(ctx context.Context, projectID *string, limit int) ([]*domain.SyncLogEntry, error)

	// RetryFailedSyncs re-queues every retry-eligible failed project and
	// reports batch counts. Synchronous from the caller's perspective.
	RetryFailedSyncs(ctx context.Context) (*domain.RetryResult, error)
}
