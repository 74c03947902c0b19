package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is used when no queue is specified.
const DefaultQueueName = "default"

// DeadLetterSuffix is appended to a queue name to form its dead-letter sibling.
const DeadLetterSuffix = ":dead"

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// validTransitions encodes the job state machine. A transition not listed
// here is invalid; terminal states (completed, failed) have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusActive},
	StatusDelayed:  {StatusActive, StatusPending},
	StatusActive:   {StatusCompleted, StatusFailed, StatusRetrying},
	StatusRetrying: {StatusPending, StatusDelayed},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of work submitted to a queue. The payload is opaque JSON;
// everything else is engine-managed metadata.
type Job struct {
	ID           string            `json:"id"`
	Queue        string            `json:"queue"`
	Data         json.RawMessage   `json:"data,omitempty"`
	Attempts     int               `json:"attempts"`
	MaxRetries   int               `json:"max_retries"`
	Timeout      time.Duration     `json:"timeout"`
	Delay        time.Duration     `json:"delay"`
	Priority     int               `json:"priority"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ProcessAfter *time.Time        `json:"process_after,omitempty"`
	Progress     int               `json:"progress"`
	Result       json.RawMessage   `json:"result,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewJob builds a job with defaults applied. If id is empty a UUID is
// generated. A positive delay makes the job start out delayed with
// ProcessAfter set; otherwise it is immediately pending.
func NewJob(queueName string, data json.RawMessage, opts *EnqueueOptions) *Job {
	now := time.Now()

	job := &Job{
		ID:         opts.ID,
		Queue:      queueName,
		Data:       data,
		MaxRetries: opts.Retries,
		Timeout:    opts.Timeout,
		Delay:      opts.Delay,
		Priority:   opts.Priority,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   opts.Metadata,
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if opts.Delay > 0 {
		job.Status = StatusDelayed
		after := now.Add(opts.Delay)
		job.ProcessAfter = &after
	}
	return job
}

// Ready reports whether the job is eligible for fetching at time now.
func (j *Job) Ready(now time.Time) bool {
	return j.ProcessAfter == nil || !j.ProcessAfter.After(now)
}

// DeadLetterQueue returns the name of the dead-letter sibling of queueName.
func DeadLetterQueue(queueName string) string {
	return queueName + DeadLetterSuffix
}
