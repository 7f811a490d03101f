package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
	"github.com/tracklane/tracklane-core/internal/core/ports/driving"
	"github.com/tracklane/tracklane-core/internal/events"
)

// Verify interface compliance
var _ driving.ProjectService = (*ProjectService)(nil)

// ProjectService is the only writer of project rows. Every successful
// mutation publishes the corresponding domain event carrying the
// post-mutation entity; a failed event delivery never fails the mutation.
type ProjectService struct {
	store  driven.ProjectStore
	bus    *events.Bus
	logger *slog.Logger
}

// NewProjectService creates a new project service.
func NewProjectService(store driven.ProjectStore, bus *events.Bus, logger *slog.Logger) *ProjectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectService{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// publish delivers an event, logging (not propagating) handler failures.
func (s *ProjectService) publish(ctx context.Context, event domain.Event) {
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event delivery degraded", "kind", string(event.Kind()), "error", err)
	}
}

// Create creates a new project. SyncStatus starts pending when a board is
// attached, not_required otherwise.
func (s *ProjectService) Create(ctx context.Context, req driving.CreateProjectRequest) (*domain.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", domain.ErrInvalidInput)
	}

	project := domain.NewProject(name, req.Description, req.BoardID)
	if err := s.store.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	s.publish(ctx, domain.ProjectCreated{Project: project})
	return project, nil
}

// Get retrieves a project by ID.
func (s *ProjectService) Get(ctx context.Context, id string) (*domain.Project, error) {
	return s.store.GetByID(ctx, id)
}

// List retrieves all projects.
func (s *ProjectService) List(ctx context.Context) ([]*domain.Project, error) {
	return s.store.List(ctx)
}

// Update applies the non-nil request fields, marks the project pending for
// re-sync when a synced representation went stale, and publishes
// project:updated (plus project:status-changed when status changed).
func (s *ProjectService) Update(ctx context.Context, id string, req driving.UpdateProjectRequest) (*domain.Project, error) {
	project, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := project.Status
	changed := false

	if req.Name != nil && *req.Name != project.Name {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("%w: project name is required", domain.ErrInvalidInput)
		}
		project.Name = strings.TrimSpace(*req.Name)
		changed = true
	}
	if req.Description != nil && *req.Description != project.Description {
		project.Description = *req.Description
		changed = true
	}
	if req.Status != nil && *req.Status != project.Status {
		project.Status = *req.Status
		changed = true
	}
	if req.BoardID != nil && !sameBoard(project.BoardID, req.BoardID) {
		project.BoardID = req.BoardID
		changed = true
	}

	if !changed {
		return project, nil
	}

	if err := s.store.Update(ctx, project); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}

	// A domain change invalidates the external representation.
	if project.HasBoard() {
		s.markPending(ctx, id)
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.ProjectUpdated{Project: updated})
	if oldStatus != updated.Status {
		s.publish(ctx, domain.ProjectStatusChanged{
			Project:   updated,
			OldStatus: oldStatus,
			NewStatus: updated.Status,
		})
	}
	return updated, nil
}

// markPending moves the project into pending for re-sync. A project already
// pending or mid-claim stays where it is; the claim CAS owns correctness.
func (s *ProjectService) markPending(ctx context.Context, id string) {
	err := s.store.UpdateSyncStatus(ctx, id, domain.SyncStatusPending)
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Already pending or syncing; the in-flight attempt or the sweep
		// will pick up the new field values.
		s.logger.Debug("project already queued for sync", "project_id", id)
		return
	}
	s.logger.Warn("failed to mark project pending", "project_id", id, "error", err)
}

// Delete removes a project. An in-flight sync becomes a cancelled attempt:
// its completion write will hit a missing row and be swallowed upstream.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	project, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}

	s.publish(ctx, domain.ProjectDeleted{
		ProjectID: id,
		BoardID:   project.BoardID,
		CardID:    project.CardID,
		FrameID:   project.FrameID,
	})
	return nil
}

// Archive marks a project archived and schedules removal of its whiteboard
// items by queuing one more sync (the orchestrator turns archived into a
// delete reconciliation).
func (s *ProjectService) Archive(ctx context.Context, id string) error {
	project, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	oldStatus := project.Status

	if err := s.store.Archive(ctx, id); err != nil {
		return fmt.Errorf("archive project: %w", err)
	}

	if project.HasBoard() {
		s.markPending(ctx, id)
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, domain.ProjectUpdated{Project: updated})
	if oldStatus != updated.Status {
		s.publish(ctx, domain.ProjectStatusChanged{
			Project:   updated,
			OldStatus: oldStatus,
			NewStatus: updated.Status,
		})
	}
	return nil
}

// UnlinkBoard detaches the whiteboard: external references are dropped and
// the sync status falls back to not_required from any state.
func (s *ProjectService) UnlinkBoard(ctx context.Context, id string) error {
	if err := s.store.ClearExternalReferences(ctx, id); err != nil {
		return fmt.Errorf("unlink board: %w", err)
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, domain.ProjectUpdated{Project: updated})
	return nil
}

// RequeueSync is the manual escape hatch after retries are exhausted: it
// moves a sync_error project back to pending so the sweep selects it again.
func (s *ProjectService) RequeueSync(ctx context.Context, id string) (*domain.Project, error) {
	project, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.SyncStatus != domain.SyncStatusError {
		return nil, fmt.Errorf("%w: project is %s, not sync_error", domain.ErrInvalidInput, project.SyncStatus)
	}

	if err := s.store.UpdateSyncStatus(ctx, id, domain.SyncStatusPending); err != nil {
		return nil, fmt.Errorf("requeue sync: %w", err)
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.ProjectUpdated{Project: updated})
	return updated, nil
}

func sameBoard(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
