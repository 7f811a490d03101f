package driving

import (
	"context"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// CreateProjectRequest represents a request to create a new project
type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	BoardID     *string `json:"board_id,omitempty"`
}

// UpdateProjectRequest represents a request to update a project.
// Nil fields are left untouched.
type UpdateProjectRequest struct {
	Name        *string               `json:"name,omitempty"`
	Description *string               `json:"description,omitempty"`
	Status      *domain.ProjectStatus `json:"status,omitempty"`
	BoardID     *string               `json:"board_id,omitempty"`
}

// ProjectService manages projects. Every successful mutation publishes the
// corresponding domain event carrying the post-mutation entity.
type ProjectService interface {
	// Create creates a new project
	Create(ctx context.Context, req CreateProjectRequest) (*domain.Project, error)

	// Get retrieves a project by ID
	Get(ctx context.Context, id string) (*domain.Project, error)

	// List retrieves all projects
	List(ctx context.Context) ([]*domain.Project, error)

	// Update updates a project and publishes project:status-changed when
	// the status actually changed
	Update(ctx context.Context, id string, req UpdateProjectRequest) (*domain.Project, error)

	// Delete deletes a project; an in-flight sync for the id is treated
	// as cancelled
	Delete(ctx context.Context, id string) error

	// Archive marks the project archived, which schedules removal of its
	// whiteboard items
	Archive(ctx context.Context, id string) error

	// UnlinkBoard detaches the whiteboard and clears external references
	UnlinkBoard(ctx context.Context, id string) error

	// RequeueSync moves a sync_error project back to pending so the sweep
	// picks it up again (manual human action after retries exhausted)
	RequeueSync(ctx context.Context, id string) (*domain.Project, error)
}
