package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Engine is the public queue API. It owns one Backend instance, the worker
// loops registered via Process, the event bus, and the global metrics.
type Engine struct {
	backend Backend
	bus     *EventBus
	metrics *metrics
	logger  *slog.Logger
	opts    engineOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	processors map[string]*processor
	paused     map[string]bool
	schedules  []*Schedule
	closed     bool
}

// processor is one Process registration: a queue name, a handler, and a
// number of worker loops.
type processor struct {
	queueName   string
	concurrency int
	handler     Handler
}

// New creates an engine on top of the given backend.
func New(backend Backend, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, ErrBackendNil
	}

	options := engineOptions{
		defaultQueue:    DefaultQueueName,
		defaultRetries:  3,
		defaultTimeout:  30 * time.Second,
		retryStrategy:   DefaultRetryStrategy,
		pollInterval:    time.Second,
		errorBackoff:    5 * time.Second,
		shutdownTimeout: 30 * time.Second,
		metricsInterval: 15 * time.Second,
		eventBuffer:     64,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		backend:    backend,
		bus:        NewEventBus(options.eventBuffer),
		metrics:    newMetrics(),
		logger:     options.logger,
		opts:       options,
		ctx:        ctx,
		cancel:     cancel,
		processors: make(map[string]*processor),
		paused:     make(map[string]bool),
	}, nil
}

// Initialize prepares the default queue, starts the periodic metrics emitter,
// and emits the ready event.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.backend.CreateQueue(ctx, e.opts.defaultQueue); err != nil {
		return fmt.Errorf("failed to create default queue %q: %w", e.opts.defaultQueue, err)
	}

	if e.opts.metricsInterval > 0 {
		e.wg.Add(1)
		go e.metricsLoop()
	}

	e.bus.Emit(Event{Name: EventReady})
	e.logger.Info("queue engine ready",
		slog.String("default_queue", e.opts.defaultQueue))
	return nil
}

// Subscribe registers an event listener. The channel is closed when ctx is
// cancelled or the engine shuts down.
func (e *Engine) Subscribe(ctx context.Context) <-chan Event {
	return e.bus.Subscribe(ctx)
}

// CreateQueue eagerly creates a queue's backend resources. Queues are
// otherwise created lazily on first enqueue.
func (e *Engine) CreateQueue(ctx context.Context, queueName string) error {
	if queueName == "" {
		return ErrQueueNameEmpty
	}
	return e.backend.CreateQueue(ctx, queueName)
}

// Enqueue adds a single job to the named queue. An empty queue name targets
// the default queue.
func (e *Engine) Enqueue(ctx context.Context, queueName string, payload any, opts ...EnqueueOption) (*Job, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	if payload == nil {
		return nil, ErrPayloadNil
	}

	job, err := e.buildJob(queueName, payload, opts)
	if err != nil {
		return nil, err
	}

	if err := e.backend.AddJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s to queue %q: %w", job.ID, job.Queue, err)
	}

	e.metrics.enqueued.Add(1)
	if job.Status == StatusDelayed {
		e.metrics.delayed.Add(1)
	}
	e.bus.Emit(Event{Name: EventJobEnqueued, Queue: job.Queue, Job: job})
	e.logger.Debug("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("queue", job.Queue),
		slog.Int("priority", job.Priority),
		slog.Duration("delay", job.Delay))

	return job, nil
}

// EnqueueMany adds a batch of jobs to the named queue with the same per-job
// defaulting rules as Enqueue. It emits one jobs:enqueued summary event.
func (e *Engine) EnqueueMany(ctx context.Context, queueName string, payloads []any, opts ...EnqueueOption) ([]*Job, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	if len(payloads) == 0 {
		return nil, ErrNoItemsToEnqueue
	}

	jobs := make([]*Job, 0, len(payloads))
	for _, payload := range payloads {
		if payload == nil {
			return nil, ErrPayloadNil
		}
		job, err := e.buildJob(queueName, payload, opts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := e.backend.AddJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to enqueue %d jobs to queue %q: %w", len(jobs), jobs[0].Queue, err)
	}

	e.metrics.enqueued.Add(int64(len(jobs)))
	for _, job := range jobs {
		if job.Status == StatusDelayed {
			e.metrics.delayed.Add(1)
		}
	}
	e.bus.Emit(Event{Name: EventJobsEnqueued, Queue: jobs[0].Queue, Count: int64(len(jobs))})

	return jobs, nil
}

// buildJob resolves defaults and constructs the job record.
func (e *Engine) buildJob(queueName string, payload any, opts []EnqueueOption) (*Job, error) {
	if queueName == "" {
		queueName = e.opts.defaultQueue
	}

	options := &EnqueueOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if !options.retriesSet {
		options.Retries = e.opts.defaultRetries
	}
	if !options.timeoutSet {
		options.Timeout = e.opts.defaultTimeout
	}
	if !options.delaySet {
		options.Delay = e.opts.defaultDelay
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	return NewJob(queueName, data, options), nil
}

// Process registers a handler with the given concurrency level for a queue
// and starts that many independent worker loops. A queue can have at most one
// registered processor per engine.
func (e *Engine) Process(queueName string, concurrency int, handler Handler) error {
	if queueName == "" {
		queueName = e.opts.defaultQueue
	}
	if concurrency < 1 {
		return ErrInvalidConcurrency
	}
	if handler == nil {
		return ErrHandlerNil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if _, exists := e.processors[queueName]; exists {
		e.mu.Unlock()
		return ErrAlreadyProcessing
	}
	p := &processor{queueName: queueName, concurrency: concurrency, handler: handler}
	e.processors[queueName] = p
	e.mu.Unlock()

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(p, i)
	}
	e.metrics.addWorkers(queueName, concurrency)

	e.logger.Info("processor registered",
		slog.String("queue", queueName),
		slog.Int("concurrency", concurrency))

	return nil
}

// PauseQueue stops worker loops for a queue from fetching further jobs.
// In-flight executions are not interrupted. Idempotent: pausing an already
// paused queue has no additional effect.
func (e *Engine) PauseQueue(ctx context.Context, queueName string) error {
	if queueName == "" {
		return ErrQueueNameEmpty
	}

	e.mu.Lock()
	already := e.paused[queueName]
	e.paused[queueName] = true
	e.mu.Unlock()

	if already {
		return nil
	}

	if err := e.backend.PauseQueue(ctx, queueName); err != nil {
		return fmt.Errorf("failed to pause queue %q: %w", queueName, err)
	}

	e.bus.Emit(Event{Name: EventQueuePaused, Queue: queueName})
	e.logger.Info("queue paused", slog.String("queue", queueName))
	return nil
}

// ResumeQueue re-enables fetching for a paused queue. Idempotent.
func (e *Engine) ResumeQueue(ctx context.Context, queueName string) error {
	if queueName == "" {
		return ErrQueueNameEmpty
	}

	e.mu.Lock()
	wasPaused := e.paused[queueName]
	delete(e.paused, queueName)
	e.mu.Unlock()

	if !wasPaused {
		return nil
	}

	if err := e.backend.ResumeQueue(ctx, queueName); err != nil {
		return fmt.Errorf("failed to resume queue %q: %w", queueName, err)
	}

	e.bus.Emit(Event{Name: EventQueueResumed, Queue: queueName})
	e.logger.Info("queue resumed", slog.String("queue", queueName))
	return nil
}

// EmptyQueue removes all non-active jobs from a queue and returns the count
// removed.
func (e *Engine) EmptyQueue(ctx context.Context, queueName string) (int64, error) {
	if queueName == "" {
		return 0, ErrQueueNameEmpty
	}

	count, err := e.backend.EmptyQueue(ctx, queueName)
	if err != nil {
		return 0, fmt.Errorf("failed to empty queue %q: %w", queueName, err)
	}

	e.bus.Emit(Event{Name: EventQueueEmptied, Queue: queueName, Count: count})
	e.logger.Info("queue emptied",
		slog.String("queue", queueName),
		slog.Int64("removed", count))
	return count, nil
}

// GetJob looks up a job by id. Backends without addressable storage return
// ErrUnsupported.
func (e *Engine) GetJob(ctx context.Context, queueName, jobID string) (*Job, error) {
	return e.backend.GetJob(ctx, queueName, jobID)
}

// GetJobs lists up to limit jobs with the given status. Backends without
// addressable storage return ErrUnsupported.
func (e *Engine) GetJobs(ctx context.Context, queueName string, status Status, limit int) ([]*Job, error) {
	return e.backend.GetJobs(ctx, queueName, status, limit)
}

// RemoveJob deletes a job by id and emits job:removed. Backends without
// addressable storage return ErrUnsupported.
func (e *Engine) RemoveJob(ctx context.Context, queueName, jobID string) error {
	if err := e.backend.RemoveJob(ctx, queueName, jobID); err != nil {
		return err
	}
	e.bus.Emit(Event{Name: EventJobRemoved, Queue: queueName, Job: &Job{ID: jobID, Queue: queueName}})
	return nil
}

// QueueInfo describes a queue's identity and pause state.
type QueueInfo struct {
	Name       string `json:"name"`
	DeadLetter string `json:"dead_letter"`
	Paused     bool   `json:"paused"`
}

// GetQueue describes a queue. Queues exist implicitly, so the lookup reflects
// current backend state rather than failing on unknown names.
func (e *Engine) GetQueue(ctx context.Context, queueName string) (*QueueInfo, error) {
	if queueName == "" {
		queueName = e.opts.defaultQueue
	}

	stats, err := e.backend.Stats(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue %q: %w", queueName, err)
	}
	return &QueueInfo{
		Name:       queueName,
		DeadLetter: DeadLetterQueue(queueName),
		Paused:     stats.Paused,
	}, nil
}

// GetQueueStats reports per-status counts for a queue.
func (e *Engine) GetQueueStats(ctx context.Context, queueName string) (*QueueStats, error) {
	if queueName == "" {
		queueName = e.opts.defaultQueue
	}
	return e.backend.Stats(ctx, queueName)
}

// GetMetrics returns a snapshot of the engine's global counters and the
// number of active worker loops per queue.
func (e *Engine) GetMetrics() *Metrics {
	return e.metrics.snapshot()
}

// RetryFilter narrows RetryFailed to jobs that failed inside a time window.
// Zero bounds are open.
type RetryFilter struct {
	After  time.Time
	Before time.Time
}

func (f *RetryFilter) matches(job *Job) bool {
	if f == nil {
		return true
	}
	if !f.After.IsZero() && job.UpdatedAt.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && job.UpdatedAt.After(f.Before) {
		return false
	}
	return true
}

// RetryFailed re-enqueues jobs currently in failed status, resetting their
// attempt counter to zero. Requires a backend with random access; others
// return ErrUnsupported.
func (e *Engine) RetryFailed(ctx context.Context, queueName string, filter *RetryFilter) (int, error) {
	if queueName == "" {
		queueName = e.opts.defaultQueue
	}

	failed, err := e.backend.GetJobs(ctx, queueName, StatusFailed, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed jobs in queue %q: %w", queueName, err)
	}

	var retried int
	for _, job := range failed {
		if !filter.matches(job) {
			continue
		}

		if err := e.backend.RemoveJob(ctx, queueName, job.ID); err != nil {
			return retried, fmt.Errorf("failed to remove failed job %s: %w", job.ID, err)
		}

		job.Attempts = 0
		job.Status = StatusPending
		job.ProcessAfter = nil
		job.LastError = ""
		job.UpdatedAt = time.Now()
		if err := e.backend.AddJob(ctx, job); err != nil {
			return retried, fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, err)
		}

		e.bus.Emit(Event{Name: EventJobEnqueued, Queue: queueName, Job: job})
		retried++
	}

	e.logger.Info("failed jobs re-enqueued",
		slog.String("queue", queueName),
		slog.Int("count", retried))
	return retried, nil
}

// Shutdown signals all worker loops and schedules to stop, waits up to the
// configured grace period for in-flight jobs, then disconnects the backend.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	schedules := e.schedules
	e.schedules = nil
	e.mu.Unlock()

	for _, s := range schedules {
		s.Stop()
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.opts.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("shutdown grace period elapsed with workers still running")
	case <-ctx.Done():
		e.logger.Warn("shutdown cancelled", slog.String("error", ctx.Err().Error()))
	}

	e.bus.Close()

	if err := e.backend.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect backend: %w", err)
	}
	e.logger.Info("queue engine stopped")
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) isPaused(queueName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused[queueName]
}

// metricsLoop periodically emits the metrics event until shutdown.
func (e *Engine) metricsLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.bus.Emit(Event{Name: EventMetrics, Metrics: e.metrics.snapshot()})
		}
	}
}
