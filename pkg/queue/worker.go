package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/queuekit/pkg/async"
)

// runWorker is one cooperative worker loop. It repeatedly performs
// fetch -> execute -> report and never holds more than one job at a time.
// Backend errors are treated as recoverable: the loop sleeps and retries
// rather than terminating.
func (e *Engine) runWorker(p *processor, index int) {
	defer e.wg.Done()
	defer e.metrics.addWorkers(p.queueName, -1)

	logger := e.logger.With(
		slog.String("queue", p.queueName),
		slog.Int("worker", index))

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		if e.isPaused(p.queueName) {
			if !e.sleep(e.opts.pollInterval) {
				return
			}
			continue
		}

		job, err := e.backend.FetchJob(e.ctx, p.queueName)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			logger.Error("failed to fetch job", slog.String("error", err.Error()))
			e.bus.Emit(Event{Name: EventError, Queue: p.queueName, Err: err})
			if !e.sleep(e.opts.errorBackoff) {
				return
			}
			continue
		}
		if job == nil {
			if !e.sleep(e.opts.pollInterval) {
				return
			}
			continue
		}

		e.executeJob(p, job, logger)
	}
}

// sleep waits for d or until shutdown, reporting false on shutdown.
func (e *Engine) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// executeJob runs the per-job pipeline: mark active, race the handler against
// its timeout, then report completion, retry, or terminal failure back to the
// backend.
func (e *Engine) executeJob(p *processor, job *Job, logger *slog.Logger) {
	start := time.Now()

	// Report operations are detached from the engine context so a job that is
	// in flight during graceful shutdown can still record its outcome.
	rctx := context.WithoutCancel(e.ctx)

	job.Status = StatusActive
	job.UpdatedAt = start
	if err := e.backend.UpdateJob(rctx, job); err != nil {
		logger.Error("failed to mark job active",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
	e.metrics.active.Add(1)
	defer e.metrics.active.Add(-1)
	e.bus.Emit(Event{Name: EventJobActive, Queue: job.Queue, Job: job})

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = e.opts.defaultTimeout
	}

	// The handler context is detached from the engine context so graceful
	// shutdown lets in-flight jobs finish. The timeout is both a context
	// deadline (for handlers that honor cancellation) and an await deadline
	// (for those that do not).
	hctx, hcancel := context.WithTimeout(context.Background(), timeout)
	defer hcancel()

	jc := &JobContext{engine: e, job: job}
	fut := async.Run(hctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.invokeHandler(ctx, p.handler, jc)
	})

	_, err := fut.AwaitTimeout(timeout)
	if errors.Is(err, async.ErrTimeout) {
		err = fmt.Errorf("%w after %s", ErrJobTimeout, timeout)
	}
	duration := time.Since(start)

	if err != nil {
		e.handleFailure(rctx, job, err, duration, logger)
		return
	}
	e.handleSuccess(rctx, job, duration, logger)
}

// invokeHandler calls the handler with panic recovery; a panic counts as a
// failed attempt.
func (e *Engine) invokeHandler(ctx context.Context, handler Handler, jc *JobContext) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return handler(ctx, jc)
}

func (e *Engine) handleSuccess(ctx context.Context, job *Job, duration time.Duration, logger *slog.Logger) {
	job.Status = StatusCompleted
	job.Progress = 100
	job.UpdatedAt = time.Now()

	if err := e.backend.CompleteJob(ctx, job); err != nil {
		logger.Error("failed to mark job completed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		e.bus.Emit(Event{Name: EventError, Queue: job.Queue, Err: err})
		return
	}

	e.metrics.processed.Add(1)
	e.bus.Emit(Event{Name: EventJobCompleted, Queue: job.Queue, Job: job})
	logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.Duration("duration", duration))
}

// handleFailure increments the attempt counter and either re-schedules the
// job with backoff or routes it to the dead-letter queue once the retry
// budget is exhausted.
func (e *Engine) handleFailure(ctx context.Context, job *Job, execErr error, duration time.Duration, logger *slog.Logger) {
	job.Attempts++
	job.LastError = execErr.Error()
	job.UpdatedAt = time.Now()

	logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if job.Attempts < job.MaxRetries {
		delay := e.opts.retryStrategy(job.Attempts)
		job.Status = StatusRetrying

		if err := e.backend.RetryJob(ctx, job, delay); err != nil {
			logger.Error("failed to re-schedule job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			e.bus.Emit(Event{Name: EventError, Queue: job.Queue, Err: err})
			return
		}

		e.metrics.retried.Add(1)
		e.metrics.delayed.Add(1)
		e.bus.Emit(Event{Name: EventJobRetry, Queue: job.Queue, Job: job, Delay: delay})
		return
	}

	job.Status = StatusFailed
	if err := e.backend.FailJob(ctx, job); err != nil {
		logger.Error("failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		e.bus.Emit(Event{Name: EventError, Queue: job.Queue, Err: err})
		return
	}

	if err := e.enqueueDeadLetter(ctx, job); err != nil {
		logger.Error("failed to route job to dead-letter queue",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		e.bus.Emit(Event{Name: EventError, Queue: job.Queue, Err: err})
	}

	e.metrics.failed.Add(1)
	e.bus.Emit(Event{Name: EventJobFailed, Queue: job.Queue, Job: job})
	logger.Warn("job moved to dead-letter queue",
		slog.String("job_id", job.ID),
		slog.String("dead_queue", DeadLetterQueue(job.Queue)))
}

// enqueueDeadLetter appends a copy of the exhausted job to the queue's
// dead-letter sibling, tagged with its origin queue, original job id, and
// terminal error. The copy gets a fresh id so a job that is retried from the
// failed set and exhausts its budget again produces a second record instead
// of colliding with the first.
func (e *Engine) enqueueDeadLetter(ctx context.Context, job *Job) error {
	now := time.Now()

	md := make(map[string]string, len(job.Metadata)+4)
	for k, v := range job.Metadata {
		md[k] = v
	}
	md["origin-queue"] = job.Queue
	md["origin-job"] = job.ID
	md["failed-at"] = now.UTC().Format(time.RFC3339)
	md["error"] = job.LastError

	dead := &Job{
		ID:         uuid.NewString(),
		Queue:      DeadLetterQueue(job.Queue),
		Data:       job.Data,
		MaxRetries: job.MaxRetries,
		Timeout:    job.Timeout,
		Priority:   job.Priority,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastError:  job.LastError,
		Metadata:   md,
	}

	if err := e.backend.AddJob(ctx, dead); err != nil {
		return fmt.Errorf("failed to enqueue job %s to %q: %w", dead.ID, dead.Queue, err)
	}
	return nil
}
