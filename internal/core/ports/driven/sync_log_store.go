package driven

import (
	"context"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// SyncLogStore persists the sync audit trail (PostgreSQL).
// Entries are append-on-start with a single completion update; the
// application never deletes them.
type SyncLogStore interface {
	// StartAttempt appends a log entry for a freshly claimed attempt and
	// returns its id. Callers must treat a failure here as an observability
	// degradation, not a sync failure.
	StartAttempt(ctx context.Context, entry *domain.SyncLogEntry) (string, error)

	// CompleteAttempt applies the one-and-only completion update
	CompleteAttempt(ctx context.Context, id string, outcome domain.SyncOutcome) error

	// GetByID retrieves a log entry
	GetByID(ctx context.Context, id string) (*domain.SyncLogEntry, error)

	// ListRecent returns the newest entries, optionally scoped to a project
	ListRecent(ctx context.Context, projectID *string, limit int) ([]*domain.SyncLogEntry, error)

	// ListFailedForRetry returns the latest error entry per project whose
	// recorded failure still left the project below maxRetries. Entries
	// carry the pre-attempt retry count, so eligibility is
	// retry_count + 1 < maxRetries.
	ListFailedForRetry(ctx context.Context, maxRetries, limit int) ([]*domain.SyncLogEntry, error)

	// GetStats aggregates entries started within the window
	GetStats(ctx context.Context, window time.Duration) (*domain.SyncLogStats, error)
}
