package domain

// EventKind identifies a domain event type on the bus.
type EventKind string

const (
	EventProjectCreated       EventKind = "project:created"
	EventProjectUpdated       EventKind = "project:updated"
	EventProjectDeleted       EventKind = "project:deleted"
	EventProjectStatusChanged EventKind = "project:status-changed"
	EventSyncStarted          EventKind = "sync:started"
	EventSyncCompleted        EventKind = "sync:completed"
	EventSyncFailed           EventKind = "sync:failed"
)

// Event is an immutable, typed notification of a state change.
// The set of kinds is closed; each kind has exactly one payload struct.
// Events are not persisted and are lost if the process restarts mid-delivery;
// the periodic sweep catches anything a lost delivery missed.
type Event interface {
	Kind() EventKind
}

// ProjectCreated carries the committed entity after Create.
type ProjectCreated struct {
	Project *Project
}

func (ProjectCreated) Kind() EventKind { return EventProjectCreated }

// ProjectUpdated carries the post-mutation entity after Update.
type ProjectUpdated struct {
	Project *Project
}

func (ProjectUpdated) Kind() EventKind { return EventProjectUpdated }

// ProjectDeleted is published after a project row is removed.
// Any in-flight sync for the id is treated as cancelled.
type ProjectDeleted struct {
	ProjectID string
	BoardID   *string
	CardID    *string
	FrameID   *string
}

func (ProjectDeleted) Kind() EventKind { return EventProjectDeleted }

// ProjectStatusChanged is published when Update changed the project status.
type ProjectStatusChanged struct {
	Project   *Project
	OldStatus ProjectStatus
	NewStatus ProjectStatus
}

func (ProjectStatusChanged) Kind() EventKind { return EventProjectStatusChanged }

// SyncStarted is published after a claim succeeds.
type SyncStarted struct {
	ProjectID string
	Operation SyncOperation
	Attempt   int
}

func (SyncStarted) Kind() EventKind { return EventSyncStarted }

// SyncCompleted is published after a successful attempt.
type SyncCompleted struct {
	ProjectID    string
	LogEntryID   string
	ItemsCreated []string
	ItemsUpdated []string
	ItemsDeleted []string
	DurationMs   int64
}

func (SyncCompleted) Kind() EventKind { return EventSyncCompleted }

// SyncFailed is published after a failed attempt with the current retry count.
type SyncFailed struct {
	ProjectID  string
	LogEntryID string
	RetryCount int
	Error      string
	Category   ErrorCategory
}

func (SyncFailed) Kind() EventKind { return EventSyncFailed }
