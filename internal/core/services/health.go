package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
	"github.com/tracklane/tracklane-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.SyncHealthService = (*SyncHealthService)(nil)

const retryBatchLimit = 50

// SyncHealthService is the read-side surface over sync state and the audit
// trail, plus the retry-failed batch operation.
type SyncHealthService struct {
	projects     driven.ProjectStore
	syncLog      driven.SyncLogStore
	orchestrator driving.SyncOrchestrator
	logger       *slog.Logger
	maxRetries   int
}

// NewSyncHealthService creates a new sync health service.
func NewSyncHealthService(
	projects driven.ProjectStore,
	syncLog driven.SyncLogStore,
	orchestrator driving.SyncOrchestrator,
	maxRetries int,
	logger *slog.Logger,
) *SyncHealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &SyncHealthService{
		projects:     projects,
		syncLog:      syncLog,
		orchestrator: orchestrator,
		logger:       logger,
		maxRetries:   maxRetries,
	}
}

// GetSyncHealthMetrics aggregates the current status distribution.
func (s *SyncHealthService) GetSyncHealthMetrics(ctx context.Context) (*domain.SyncHealthMetrics, error) {
	metrics, err := s.projects.GetSyncHealthMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync health metrics: %w", err)
	}
	return metrics, nil
}

// GetLogStats aggregates the audit trail over a window.
func (s *SyncHealthService) GetLogStats(ctx context.Context, window time.Duration) (*domain.SyncLogStats, error) {
	stats, err := s.syncLog.GetStats(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("sync log stats: %w", err)
	}
	return stats, nil
}

// ListRecentLog returns the newest audit entries, optionally per project.
func (s *SyncHealthService) ListRecentLog(ctx context.Context, projectID *string, limit int) ([]*domain.SyncLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.syncLog.ListRecent(ctx, projectID, limit)
}

// RetryFailedSyncs runs one attempt for every retry-eligible failed project.
// Projects past the retry bound are excluded; those need a manual requeue.
func (s *SyncHealthService) RetryFailedSyncs(ctx context.Context) (*domain.RetryResult, error) {
	entries, err := s.syncLog.ListFailedForRetry(ctx, s.maxRetries, retryBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list failed syncs: %w", err)
	}

	result := &domain.RetryResult{}
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.ProjectID == nil || seen[*entry.ProjectID] {
			continue
		}
		seen[*entry.ProjectID] = true

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		result.Attempted++
		syncResult, err := s.orchestrator.SyncProject(ctx, *entry.ProjectID, false)
		if err != nil {
			s.logger.Error("retry batch sync failed", "project_id", *entry.ProjectID, "error", err)
			result.Failed++
			continue
		}
		if syncResult.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	s.logger.Info("retry batch finished",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}
