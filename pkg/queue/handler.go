package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes one fetched job. Returning an error (or panicking) counts
// as a failed attempt and triggers the retry policy.
type Handler func(ctx context.Context, job *JobContext) error

// JobContext is the view of a job handed to a handler. Beyond read access to
// the job's fields it exposes the progress and log side channels.
type JobContext struct {
	engine *Engine
	job    *Job
}

// ID returns the job id.
func (jc *JobContext) ID() string { return jc.job.ID }

// Queue returns the name of the queue the job was fetched from.
func (jc *JobContext) Queue() string { return jc.job.Queue }

// Data returns the raw job payload.
func (jc *JobContext) Data() json.RawMessage { return jc.job.Data }

// Attempts returns how many failed executions the job has accumulated.
func (jc *JobContext) Attempts() int { return jc.job.Attempts }

// Metadata returns the job's free-form metadata map.
func (jc *JobContext) Metadata() map[string]string { return jc.job.Metadata }

// Unmarshal decodes the job payload into v.
func (jc *JobContext) Unmarshal(v any) error {
	if err := json.Unmarshal(jc.job.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal job %s payload: %w", jc.job.ID, err)
	}
	return nil
}

// Progress persists the job's progress value, clamped to 0-100, and emits a
// job:progress event. Backends without addressable storage return
// ErrUnsupported.
func (jc *JobContext) Progress(ctx context.Context, value int) error {
	value = min(max(value, 0), 100)
	if err := jc.engine.backend.UpdateProgress(ctx, jc.job.Queue, jc.job.ID, value); err != nil {
		return err
	}
	jc.job.Progress = value
	jc.engine.bus.Emit(Event{Name: EventJobProgress, Queue: jc.job.Queue, Job: jc.job})
	return nil
}

// Log appends a line to the job's log side-channel. Backends without
// addressable storage return ErrUnsupported.
func (jc *JobContext) Log(ctx context.Context, message string) error {
	return jc.engine.backend.AddLog(ctx, jc.job.Queue, jc.job.ID, message)
}

// SetResult records the handler's result; it is persisted with the job when
// the job completes.
func (jc *JobContext) SetResult(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal result for job %s: %w", jc.job.ID, err)
	}
	jc.job.Result = b
	return nil
}
