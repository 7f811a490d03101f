package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
	"github.com/tracklane/tracklane-core/internal/core/ports/driving"
	"github.com/tracklane/tracklane-core/internal/events"
)

// Verify interface compliance
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

const (
	// DefaultMaxRetries bounds consecutive automatic retry attempts.
	DefaultMaxRetries = 3
	// DefaultCallTimeout is the deadline imposed on each whiteboard call.
	DefaultCallTimeout = 10 * time.Second
	// DefaultSuppressWindow is how long a freshly synced project id is
	// shielded from echo-triggered re-syncs.
	DefaultSuppressWindow = 5 * time.Second
)

// SyncOrchestrator guarantees at-most-one concurrent sync attempt per
// project while tolerating an unreliable whiteboard API, and durably logs
// every attempt.
//
// The flow per attempt: suppression check → DB claim (CAS) → audit entry →
// whiteboard reconcile under deadline → completion write + events. Multiple
// workers in different processes may race; the claim arbitrates, never an
// in-process mutex.
type SyncOrchestrator struct {
	projects   driven.ProjectStore
	syncLog    driven.SyncLogStore
	whiteboard driven.WhiteboardClient
	taskQueue  driven.TaskQueue
	bus        *events.Bus
	logger     *slog.Logger

	maxRetries  int
	callTimeout time.Duration
	suppress    *suppressionList
}

// SyncOrchestratorConfig holds dependencies for SyncOrchestrator.
type SyncOrchestratorConfig struct {
	ProjectStore    driven.ProjectStore
	SyncLogStore    driven.SyncLogStore
	Whiteboard      driven.WhiteboardClient
	TaskQueue       driven.TaskQueue // optional: event triggers run inline without it
	Bus             *events.Bus
	Logger          *slog.Logger
	MaxRetries      int           // default 3
	CallTimeout     time.Duration // default 10s
	SuppressWindow  time.Duration // default 5s
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(cfg SyncOrchestratorConfig) *SyncOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	suppressWindow := cfg.SuppressWindow
	if suppressWindow <= 0 {
		suppressWindow = DefaultSuppressWindow
	}

	return &SyncOrchestrator{
		projects:    cfg.ProjectStore,
		syncLog:     cfg.SyncLogStore,
		whiteboard:  cfg.Whiteboard,
		taskQueue:   cfg.TaskQueue,
		bus:         cfg.Bus,
		logger:      logger,
		maxRetries:  maxRetries,
		callTimeout: callTimeout,
		suppress:    newSuppressionList(suppressWindow),
	}
}

// MaxRetries returns the configured retry bound.
func (o *SyncOrchestrator) MaxRetries() int {
	return o.maxRetries
}

// RegisterHandlers subscribes the orchestrator to the domain events that
// imply a re-sync. Handlers only enqueue; the actual work happens on a
// worker so a slow whiteboard never blocks Publish.
func (o *SyncOrchestrator) RegisterHandlers() {
	o.bus.Subscribe(domain.EventProjectCreated, func(ctx context.Context, event domain.Event) error {
		e, ok := event.(domain.ProjectCreated)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", event.Kind())
		}
		return o.triggerIfNeeded(ctx, e.Project)
	})
	o.bus.Subscribe(domain.EventProjectUpdated, func(ctx context.Context, event domain.Event) error {
		e, ok := event.(domain.ProjectUpdated)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", event.Kind())
		}
		return o.triggerIfNeeded(ctx, e.Project)
	})
	o.bus.Subscribe(domain.EventProjectStatusChanged, func(ctx context.Context, event domain.Event) error {
		e, ok := event.(domain.ProjectStatusChanged)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", event.Kind())
		}
		return o.triggerIfNeeded(ctx, e.Project)
	})
}

// triggerIfNeeded queues one sync attempt for a project that needs one.
// The suppression window absorbs change-feed echoes of our own writes.
func (o *SyncOrchestrator) triggerIfNeeded(ctx context.Context, project *domain.Project) error {
	if project == nil || !project.NeedsSync(o.maxRetries) {
		return nil
	}
	if o.suppress.Contains(project.ID) {
		o.logger.Debug("sync trigger suppressed", "project_id", project.ID)
		return nil
	}

	if o.taskQueue != nil {
		if err := o.taskQueue.Enqueue(ctx, domain.NewSyncProjectTask(project.ID, false)); err != nil {
			return fmt.Errorf("enqueue sync task: %w", err)
		}
		return nil
	}

	// No queue configured: run inline (single-process mode).
	_, err := o.SyncProject(ctx, project.ID, false)
	return err
}

// SyncProject runs one reconciliation attempt for a project.
// Manual attempts bypass the retry bound and the suppression window, but
// never the claim guard.
func (o *SyncOrchestrator) SyncProject(ctx context.Context, projectID string, manual bool) (*domain.SyncResult, error) {
	startTime := time.Now()

	if !manual && o.suppress.Contains(projectID) {
		return &domain.SyncResult{ProjectID: projectID, Skipped: true}, nil
	}

	if manual {
		// A manual request on a synced or unlinked-then-relinked project
		// first moves it to pending so the claim below can take it.
		if err := o.projects.UpdateSyncStatus(ctx, projectID, domain.SyncStatusPending); err != nil &&
			!errors.Is(err, domain.ErrInvalidTransition) {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.SyncResult{ProjectID: projectID, Skipped: true}, nil
			}
			return nil, fmt.Errorf("prepare manual sync: %w", err)
		}
	}

	// Claim: the single atomic arbitration point across all workers.
	bound := o.maxRetries
	if manual {
		bound = 0
	}
	project, err := o.projects.ClaimForSync(ctx, projectID, bound)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			// Another worker owns the attempt; no log entry, no mutation.
			o.logger.Debug("claim lost", "project_id", projectID)
			return &domain.SyncResult{ProjectID: projectID, Skipped: true}, nil
		case errors.Is(err, domain.ErrRetriesExhausted):
			o.logger.Debug("retries exhausted, skipping", "project_id", projectID)
			return &domain.SyncResult{ProjectID: projectID, Skipped: true, Error: err.Error()}, nil
		case errors.Is(err, domain.ErrNotFound):
			// Deleted before we got to it; treated as cancelled.
			return &domain.SyncResult{ProjectID: projectID, Skipped: true}, nil
		}
		return nil, fmt.Errorf("claim project %s: %w", projectID, err)
	}

	operation := operationFor(project)
	attempt := project.SyncRetryCount + 1

	o.logger.Info("sync started",
		"project_id", projectID,
		"operation", string(operation),
		"attempt", attempt,
	)
	o.publish(ctx, domain.SyncStarted{
		ProjectID: projectID,
		Operation: operation,
		Attempt:   attempt,
	})

	// Audit entry. A log write failure degrades observability only; the
	// attempt proceeds.
	entry := domain.NewSyncLogEntry(&project.ID, operation, project.SyncRetryCount)
	logID, logErr := o.syncLog.StartAttempt(ctx, entry)
	if logErr != nil {
		o.logger.Warn("sync log unavailable, proceeding unlogged",
			"project_id", projectID, "error", logErr)
		logID = ""
	}

	// The whiteboard SDK enforces no timeout of its own; impose ours.
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	outcome, refs, syncErr := o.reconcile(callCtx, project, operation)
	cancel()

	if syncErr != nil {
		return o.failAttempt(ctx, project, logID, startTime, syncErr)
	}
	return o.completeAttempt(ctx, project, operation, logID, startTime, outcome, refs)
}

// operationFor decides what the external representation needs.
func operationFor(p *domain.Project) domain.SyncOperation {
	if p.Status == domain.ProjectStatusArchived {
		return domain.SyncOperationDelete
	}
	if p.CardID == nil || *p.CardID == "" {
		return domain.SyncOperationCreate
	}
	return domain.SyncOperationUpdate
}

// reconcile performs the external calls for one attempt and reports the
// touched item ids. Update follows get-compare-update: an unchanged card
// results in no write (idempotence).
func (o *SyncOrchestrator) reconcile(
	ctx context.Context,
	project *domain.Project,
	operation domain.SyncOperation,
) (domain.SyncOutcome, domain.ExternalRefs, error) {
	outcome := domain.SyncOutcome{Status: domain.SyncLogStatusSuccess}
	refs := domain.ExternalRefs{BoardID: project.BoardID}

	if !project.HasBoard() {
		return outcome, refs, domain.ErrNoBoard
	}
	boardID := *project.BoardID

	switch operation {
	case domain.SyncOperationDelete:
		if project.CardID != nil && *project.CardID != "" {
			if err := o.whiteboard.DeleteItem(ctx, boardID, *project.CardID); err != nil &&
				!errors.Is(err, domain.ErrNotFound) {
				return outcome, refs, fmt.Errorf("delete card: %w", err)
			}
			outcome.ItemsDeleted = append(outcome.ItemsDeleted, *project.CardID)
		}
		if project.FrameID != nil && *project.FrameID != "" {
			if err := o.whiteboard.DeleteItem(ctx, boardID, *project.FrameID); err != nil &&
				!errors.Is(err, domain.ErrNotFound) {
				return outcome, refs, fmt.Errorf("delete frame: %w", err)
			}
			outcome.ItemsDeleted = append(outcome.ItemsDeleted, *project.FrameID)
		}
		refs.CardID = nil
		refs.FrameID = nil
		return outcome, refs, nil

	case domain.SyncOperationCreate:
		frame, err := o.whiteboard.CreateItem(ctx, boardID, &domain.WhiteboardItem{
			Type:  domain.WhiteboardItemFrame,
			Title: project.Name,
		})
		if err != nil {
			return outcome, refs, fmt.Errorf("create frame: %w", err)
		}
		outcome.ItemsCreated = append(outcome.ItemsCreated, frame.ID)
		refs.FrameID = &frame.ID

		card, err := o.whiteboard.CreateItem(ctx, boardID, domain.CardForProject(project))
		if err != nil {
			return outcome, refs, fmt.Errorf("create card: %w", err)
		}
		outcome.ItemsCreated = append(outcome.ItemsCreated, card.ID)
		refs.CardID = &card.ID
		return outcome, refs, nil

	case domain.SyncOperationUpdate:
		desired := domain.CardForProject(project)
		current, err := o.whiteboard.GetItem(ctx, boardID, *project.CardID)
		if errors.Is(err, domain.ErrNotFound) {
			// Card vanished externally; recreate rather than fail.
			card, createErr := o.whiteboard.CreateItem(ctx, boardID, desired)
			if createErr != nil {
				return outcome, refs, fmt.Errorf("recreate card: %w", createErr)
			}
			outcome.ItemsCreated = append(outcome.ItemsCreated, card.ID)
			refs.CardID = &card.ID
			refs.FrameID = project.FrameID
			return outcome, refs, nil
		}
		if err != nil {
			return outcome, refs, fmt.Errorf("get card: %w", err)
		}

		refs.CardID = project.CardID
		refs.FrameID = project.FrameID
		if current.Equal(desired) {
			// Nothing visible changed; no write.
			return outcome, refs, nil
		}
		updated, err := o.whiteboard.UpdateItem(ctx, boardID, *project.CardID, desired)
		if err != nil {
			return outcome, refs, fmt.Errorf("update card: %w", err)
		}
		outcome.ItemsUpdated = append(outcome.ItemsUpdated, updated.ID)
		return outcome, refs, nil
	}

	return outcome, refs, fmt.Errorf("%w: unknown operation %s", domain.ErrInvalidInput, operation)
}

// completeAttempt records a successful attempt.
func (o *SyncOrchestrator) completeAttempt(
	ctx context.Context,
	project *domain.Project,
	operation domain.SyncOperation,
	logID string,
	startTime time.Time,
	outcome domain.SyncOutcome,
	refs domain.ExternalRefs,
) (*domain.SyncResult, error) {
	now := time.Now()

	var markErr error
	if operation == domain.SyncOperationDelete {
		markErr = o.projects.ClearExternalReferences(ctx, project.ID)
	} else {
		markErr = o.projects.MarkSynced(ctx, project.ID, refs, now)
	}
	if errors.Is(markErr, domain.ErrNotFound) {
		// Project deleted mid-flight: the completion write is a no-op
		// against a missing row. Not a failure; record and move on.
		o.logger.Info("project deleted during sync, dropping completion",
			"project_id", project.ID)
		o.completeLog(ctx, logID, domain.SyncOutcome{
			Status:       domain.SyncLogStatusRolledBack,
			ItemsCreated: outcome.ItemsCreated,
			ItemsUpdated: outcome.ItemsUpdated,
			ItemsDeleted: outcome.ItemsDeleted,
			ErrorMessage: "project deleted during sync",
		})
		return &domain.SyncResult{ProjectID: project.ID, Skipped: true, LogEntryID: logID}, nil
	}
	if markErr != nil {
		// External items exist but the status write failed; surface as a
		// database-category failure so the sweep retries.
		return o.failAttempt(ctx, project, logID, startTime,
			fmt.Errorf("database: persist sync completion: %w", markErr))
	}

	o.completeLog(ctx, logID, outcome)
	o.suppress.Add(project.ID)

	durationMs := time.Since(startTime).Milliseconds()
	o.logger.Info("sync completed",
		"project_id", project.ID,
		"operation", string(operation),
		"items_created", len(outcome.ItemsCreated),
		"items_updated", len(outcome.ItemsUpdated),
		"items_deleted", len(outcome.ItemsDeleted),
		"duration_ms", durationMs,
	)
	o.publish(ctx, domain.SyncCompleted{
		ProjectID:    project.ID,
		LogEntryID:   logID,
		ItemsCreated: outcome.ItemsCreated,
		ItemsUpdated: outcome.ItemsUpdated,
		ItemsDeleted: outcome.ItemsDeleted,
		DurationMs:   durationMs,
	})

	return &domain.SyncResult{
		ProjectID:  project.ID,
		Success:    true,
		LogEntryID: logID,
		DurationMs: durationMs,
	}, nil
}

// failAttempt records a failed attempt. Failures stay contained here: the
// caller gets a result, never a propagated sync error.
func (o *SyncOrchestrator) failAttempt(
	ctx context.Context,
	project *domain.Project,
	logID string,
	startTime time.Time,
	syncErr error,
) (*domain.SyncResult, error) {
	category := domain.CategorizeError(syncErr)
	retryCount := project.SyncRetryCount + 1

	o.logger.Error("sync failed",
		"project_id", project.ID,
		"category", string(category),
		"retry_count", retryCount,
		"error", syncErr,
	)

	if err := o.projects.MarkSyncError(ctx, project.ID, syncErr.Error()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Info("project deleted during sync, dropping failure write",
				"project_id", project.ID)
		} else {
			o.logger.Error("failed to persist sync error", "project_id", project.ID, "error", err)
		}
	}

	o.completeLog(ctx, logID, domain.SyncOutcome{
		Status:        domain.SyncLogStatusError,
		ErrorMessage:  syncErr.Error(),
		ErrorCategory: category,
	})

	o.publish(ctx, domain.SyncFailed{
		ProjectID:  project.ID,
		LogEntryID: logID,
		RetryCount: retryCount,
		Error:      syncErr.Error(),
		Category:   category,
	})

	if retryCount >= o.maxRetries {
		o.logger.Warn("sync retries exhausted, awaiting manual action",
			"project_id", project.ID, "retry_count", retryCount)
	}

	return &domain.SyncResult{
		ProjectID:  project.ID,
		LogEntryID: logID,
		Error:      syncErr.Error(),
		Category:   category,
		RetryCount: retryCount,
		DurationMs: time.Since(startTime).Milliseconds(),
	}, nil
}

// completeLog applies the completion update, tolerating log-store outages.
func (o *SyncOrchestrator) completeLog(ctx context.Context, logID string, outcome domain.SyncOutcome) {
	if logID == "" {
		return
	}
	if err := o.syncLog.CompleteAttempt(ctx, logID, outcome); err != nil {
		o.logger.Warn("failed to complete sync log entry", "log_id", logID, "error", err)
	}
}

// SweepPending claims and syncs every project the needs-sync query returns.
// This is the safety net for lost event deliveries and process restarts.
func (o *SyncOrchestrator) SweepPending(ctx context.Context) ([]*domain.SyncResult, error) {
	projects, err := o.projects.ListNeedingSync(ctx, o.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("list needing sync: %w", err)
	}

	var results []*domain.SyncResult
	for _, project := range projects {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result, err := o.SyncProject(ctx, project.ID, false)
		if err != nil {
			o.logger.Error("sweep sync failed", "project_id", project.ID, "error", err)
			results = append(results, &domain.SyncResult{
				ProjectID: project.ID,
				Error:     err.Error(),
			})
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (o *SyncOrchestrator) publish(ctx context.Context, event domain.Event) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, event); err != nil {
		o.logger.Warn("event delivery degraded", "kind", string(event.Kind()), "error", err)
	}
}
