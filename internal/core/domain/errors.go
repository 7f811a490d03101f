package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates another worker already claimed the project
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidTransition indicates an illegal sync status transition.
	// This is a coordination bug upstream, not an ordinary sync failure.
	ErrInvalidTransition = errors.New("invalid sync status transition")

	// ErrRetriesExhausted indicates the project reached the retry bound
	ErrRetriesExhausted = errors.New("sync retries exhausted")

	// ErrNoBoard indicates the project has no whiteboard attached
	ErrNoBoard = errors.New("project has no board attached")
)
