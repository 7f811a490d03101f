package driven

import (
	"context"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// ProjectStore handles project persistence (PostgreSQL).
// It is the only component permitted to mutate project rows; every write is
// atomic at the storage layer so concurrent readers never observe a
// half-updated project.
type ProjectStore interface {
	// GetByID retrieves a project by id
	GetByID(ctx context.Context, id string) (*domain.Project, error)

	// List retrieves all projects, newest first
	List(ctx context.Context) ([]*domain.Project, error)

	// Create inserts a new project row
	Create(ctx context.Context, project *domain.Project) error

	// Update replaces the mutable project fields and returns the stored row
	Update(ctx context.Context, project *domain.Project) error

	// Delete removes the project row
	Delete(ctx context.Context, id string) error

	// Archive marks the project archived
	Archive(ctx context.Context, id string) error

	// UpdateSyncStatus sets the sync status as a single conditional UPDATE,
	// rejecting writes that would leave the row in the same syncing state
	// another worker owns. Returns domain.ErrNotFound for a deleted row.
	UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error

	// ClaimForSync is the concurrency guard: an atomic compare-and-swap
	// that moves pending|sync_error → syncing and stamps lastSyncAttempt.
	// maxRetries bounds claims out of sync_error; pass 0 to disable the
	// bound (manual attempts). Returns domain.ErrSyncInProgress when
	// another worker holds the claim or the state is not claimable,
	// domain.ErrRetriesExhausted past the bound, domain.ErrNotFound when
	// the row is gone.
	ClaimForSync(ctx context.Context, id string, maxRetries int) (*domain.Project, error)

	// MarkSynced completes a successful attempt: synced, retry count 0,
	// error cleared, lastSyncedAt stamped, external refs stored.
	MarkSynced(ctx context.Context, id string, refs domain.ExternalRefs, at time.Time) error

	// MarkSyncError completes a failed attempt: sync_error, retry count
	// incremented, message recorded.
	MarkSyncError(ctx context.Context, id string, message string) error

	// ClearExternalReferences drops the whiteboard ids and moves the
	// project to not_required (board unlinked)
	ClearExternalReferences(ctx context.Context, id string) error

	// ListNeedingSync returns projects in pending, or in sync_error with
	// retry count below maxRetries, oldest lastSyncAttempt first (nulls first)
	ListNeedingSync(ctx context.Context, maxRetries int) ([]*domain.Project, error)

	// GetSyncHealthMetrics aggregates the current status distribution
	GetSyncHealthMetrics(ctx context.Context) (*domain.SyncHealthMetrics, error)
}
