package queue

import "errors"

// Common errors
var (
	// ErrBackendNil is returned when a nil backend is provided to the engine.
	ErrBackendNil = errors.New("backend cannot be nil")

	// ErrQueueNameEmpty is returned when an operation is given an empty queue name.
	ErrQueueNameEmpty = errors.New("queue name cannot be empty")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload.
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrNoItemsToEnqueue is returned when batch enqueue is called with no items.
	ErrNoItemsToEnqueue = errors.New("no items to enqueue")

	// ErrJobNotFound is returned when a job cannot be located by id.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnsupported is returned by backends for operations their transport
	// cannot express (e.g. random access on a broker or log backend).
	ErrUnsupported = errors.New("operation not supported by this backend")

	// ErrInvalidConcurrency is returned when Process is called with concurrency < 1.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")

	// ErrHandlerNil is returned when Process is called without a handler.
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrAlreadyProcessing is returned when a processor is already registered
	// for the queue.
	ErrAlreadyProcessing = errors.New("queue already has a registered processor")

	// ErrEngineClosed is returned when an operation is invoked after Shutdown.
	ErrEngineClosed = errors.New("engine has been shut down")

	// ErrJobTimeout marks a handler execution that exceeded its timeout.
	ErrJobTimeout = errors.New("job execution timed out")

	// ErrInvalidTransition is returned when a status change would violate the
	// job state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidSchedule is returned when a cron expression cannot be parsed.
	ErrInvalidSchedule = errors.New("invalid cron schedule")
)
