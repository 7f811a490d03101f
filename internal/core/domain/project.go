package domain

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// SyncStatus represents where a project sits in its sync lifecycle.
type SyncStatus string

const (
	SyncStatusNotRequired SyncStatus = "not_required"
	SyncStatusPending     SyncStatus = "pending"
	SyncStatusSyncing     SyncStatus = "syncing"
	SyncStatusSynced      SyncStatus = "synced"
	SyncStatusError       SyncStatus = "sync_error"
)

// Valid reports whether the status is one of the five persisted states.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusNotRequired, SyncStatusPending, SyncStatusSyncing,
		SyncStatusSynced, SyncStatusError:
		return true
	}
	return false
}

// legalTransitions is the closed transition table for the sync lifecycle.
// Any state may additionally transition to not_required (board unlinked).
var legalTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusNotRequired: {SyncStatusPending},
	SyncStatusPending:     {SyncStatusSyncing},
	SyncStatusSyncing:     {SyncStatusSynced, SyncStatusError},
	SyncStatusSynced:      {SyncStatusPending},
	SyncStatusError:       {SyncStatusSyncing, SyncStatusPending},
}

// CanTransition reports whether from → to is a legal sync status transition.
func CanTransition(from, to SyncStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == SyncStatusNotRequired {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProjectStatus is the user-facing project lifecycle state, independent of sync.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusOnHold   ProjectStatus = "on_hold"
	ProjectStatusDone     ProjectStatus = "done"
	ProjectStatusArchived ProjectStatus = "archived"
)

// Project is a project row mirrored onto the whiteboard.
// Mutated only through the project store, never directly.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`

	// External whiteboard references (nil until first successful sync).
	BoardID *string `json:"board_id,omitempty"`
	CardID  *string `json:"card_id,omitempty"`
	FrameID *string `json:"frame_id,omitempty"`

	SyncStatus       SyncStatus `json:"sync_status"`
	SyncErrorMessage *string    `json:"sync_error_message,omitempty"`
	SyncRetryCount   int        `json:"sync_retry_count"`
	LastSyncAttempt  *time.Time `json:"last_sync_attempt,omitempty"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalRefs are the whiteboard item ids a successful sync leaves behind.
type ExternalRefs struct {
	BoardID *string
	CardID  *string
	FrameID *string
}

// NewProject creates a project with the initial sync status derived from
// whether a board is attached.
func NewProject(name, description string, boardID *string) *Project {
	now := time.Now()
	p := &Project{
		ID:          GenerateID(),
		Name:        name,
		Description: description,
		Status:      ProjectStatusActive,
		BoardID:     boardID,
		SyncStatus:  SyncStatusNotRequired,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if boardID != nil && *boardID != "" {
		p.SyncStatus = SyncStatusPending
	}
	return p
}

// SyncResult is the per-attempt outcome the orchestrator reports to callers.
type SyncResult struct {
	ProjectID  string        `json:"project_id"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped,omitempty"` // suppressed or claim lost
	LogEntryID string        `json:"log_entry_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	Category   ErrorCategory `json:"error_category,omitempty"`
	RetryCount int           `json:"retry_count"`
	DurationMs int64         `json:"duration_ms"`
}

// NeedsSync reports whether the project is eligible for an automatic sync
// attempt given the configured retry bound.
func (p *Project) NeedsSync(maxRetries int) bool {
	switch p.SyncStatus {
	case SyncStatusPending:
		return true
	case SyncStatusError:
		return p.SyncRetryCount < maxRetries
	}
	return false
}

// HasBoard reports whether the project is linked to a whiteboard.
func (p *Project) HasBoard() bool {
	return p.BoardID != nil && *p.BoardID != ""
}

// TransitionSyncStatus moves the project to the given status, rejecting
// anything outside the legal table. Retry count resets exactly on entry
// into synced.
func (p *Project) TransitionSyncStatus(to SyncStatus) error {
	if !CanTransition(p.SyncStatus, to) {
		return ErrInvalidTransition
	}
	p.SyncStatus = to
	if to == SyncStatusSynced {
		p.SyncRetryCount = 0
		p.SyncErrorMessage = nil
	}
	return nil
}
