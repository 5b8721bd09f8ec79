package task

import "errors"

// Errors returned by the task engine.
var (
	// ErrProcessorNotFound is returned when a dispatched task's type has no
	// registered processor. This is a configuration error, classified
	// separately from processor execution failures so operators can tell
	// misconfiguration from genuine job failures.
	ErrProcessorNotFound = errors.New("no processor registered for task type")

	// ErrProcessorRegistered is returned when registering a processor for a
	// type that already has one.
	ErrProcessorRegistered = errors.New("processor already registered for task type")

	// ErrQueueStarted is returned when Start is called on a queue that is
	// already running.
	ErrQueueStarted = errors.New("task queue is already started")
)
