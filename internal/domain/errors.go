// Package domain defines the core task entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownTaskType is returned when a submission names a task type
	// with no registered processor. The submission is rejected before a
	// record is created.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrEmptyTaskID is returned when a task record has a nil id.
	ErrEmptyTaskID = errors.New("task ID cannot be empty")

	// ErrEmptyTaskType is returned when a task record has an empty type.
	ErrEmptyTaskType = errors.New("task type cannot be empty")

	// ErrInvalidTaskStatus is returned when a status is outside the closed
	// status set.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status update would move a
	// record backwards or mutate a terminal record.
	ErrInvalidTransition = errors.New("invalid status transition")
)
