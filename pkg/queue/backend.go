package queue

import (
	"context"
	"time"
)

// Backend is the low-level transport contract. Every variant implements the
// same external semantics regardless of the storage mechanism underneath:
// FetchJob returns at most one ready job and never hands the same job to two
// concurrent fetchers; random-access operations return ErrUnsupported on
// transports without addressable storage.
type Backend interface {
	// CreateQueue ensures the queue's underlying resources exist.
	// Queues are otherwise created lazily on first use.
	CreateQueue(ctx context.Context, queueName string) error

	// AddJob appends a single job to its queue.
	AddJob(ctx context.Context, job *Job) error

	// AddJobs appends a batch of jobs, all destined for the same queue.
	AddJobs(ctx context.Context, jobs []*Job) error

	// FetchJob claims the next ready job or returns (nil, nil) when none is
	// available. Priority jobs are preferred over plain pending jobs on
	// backends that support the distinction.
	FetchJob(ctx context.Context, queueName string) (*Job, error)

	// UpdateJob persists mutated job metadata (progress, metadata, status).
	UpdateJob(ctx context.Context, job *Job) error

	// CompleteJob marks the job completed and releases its claim.
	CompleteJob(ctx context.Context, job *Job) error

	// FailJob moves the job to the failure-tracking structure.
	FailJob(ctx context.Context, job *Job) error

	// RetryJob re-schedules the job to become fetchable after delay.
	RetryJob(ctx context.Context, job *Job, delay time.Duration) error

	// GetJob looks up a job by id. Unsupported on non-addressable transports.
	GetJob(ctx context.Context, queueName, jobID string) (*Job, error)

	// GetJobs lists up to limit jobs with the given status.
	// Unsupported on non-addressable transports.
	GetJobs(ctx context.Context, queueName string, status Status, limit int) ([]*Job, error)

	// RemoveJob deletes a job by id. Unsupported on non-addressable transports.
	RemoveJob(ctx context.Context, queueName, jobID string) error

	// UpdateProgress persists a job's progress value (0-100).
	UpdateProgress(ctx context.Context, queueName, jobID string, progress int) error

	// AddLog appends a line to the job's log side-channel.
	AddLog(ctx context.Context, queueName, jobID, message string) error

	// PauseQueue and ResumeQueue toggle the queue's paused flag. Both are
	// idempotent.
	PauseQueue(ctx context.Context, queueName string) error
	ResumeQueue(ctx context.Context, queueName string) error

	// EmptyQueue removes all non-active jobs and returns the count removed.
	EmptyQueue(ctx context.Context, queueName string) (int64, error)

	// Stats reports per-status counts and the paused flag for a queue.
	Stats(ctx context.Context, queueName string) (*QueueStats, error)

	// Disconnect releases the backend connection.
	Disconnect(ctx context.Context) error
}

// QueueStats holds per-queue counters as reported by the backend.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int64  `json:"pending"`
	Delayed   int64  `json:"delayed"`
	Priority  int64  `json:"priority"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Paused    bool   `json:"paused"`
}
