package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

// Backend is an in-process implementation of the queue backend contract.
// A single mutex guards all queues; fetch, promotion, and claim happen under
// one critical section, so two concurrent fetchers can never observe the same
// due job as eligible.
type Backend struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	seq    int64
}

// prioEntry orders priority jobs: higher priority first, insertion order
// within a tier.
type prioEntry struct {
	id       string
	priority int
	seq      int64
}

type memQueue struct {
	jobs    map[string]*queue.Job
	pending []string // FIFO of ready jobs without priority
	prio    []prioEntry
	delayed []string
	active  map[string]struct{}
	logs    map[string][]string
	paused  bool
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{queues: make(map[string]*memQueue)}
}

// getQueue returns the queue, creating it lazily. Caller must hold b.mu.
func (b *Backend) getQueue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{
			jobs:   make(map[string]*queue.Job),
			active: make(map[string]struct{}),
			logs:   make(map[string][]string),
		}
		b.queues[name] = q
	}
	return q
}

// CreateQueue ensures the queue exists.
func (b *Backend) CreateQueue(_ context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getQueue(queueName)
	return nil
}

// AddJob appends a job to its queue.
func (b *Backend) AddJob(_ context.Context, job *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJobLocked(job)
}

// AddJobs appends a batch of jobs.
func (b *Backend) AddJobs(_ context.Context, jobs []*queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, job := range jobs {
		if err := b.addJobLocked(job); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) addJobLocked(job *queue.Job) error {
	q := b.getQueue(job.Queue)
	if _, exists := q.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists in queue %q", job.ID, job.Queue)
	}

	jobCopy := cloneJob(job)
	q.jobs[job.ID] = jobCopy
	b.placeLocked(q, jobCopy)
	return nil
}

// placeLocked routes a stored job into the right ready/delayed structure.
func (b *Backend) placeLocked(q *memQueue, job *queue.Job) {
	switch {
	case job.Status == queue.StatusDelayed:
		q.delayed = append(q.delayed, job.ID)
	case job.Priority > 0:
		b.seq++
		q.prio = append(q.prio, prioEntry{id: job.ID, priority: job.Priority, seq: b.seq})
		sort.SliceStable(q.prio, func(i, j int) bool {
			if q.prio[i].priority != q.prio[j].priority {
				return q.prio[i].priority > q.prio[j].priority
			}
			return q.prio[i].seq < q.prio[j].seq
		})
	default:
		q.pending = append(q.pending, job.ID)
	}
}

// FetchJob promotes due delayed jobs, then claims the next ready job:
// priority entries first, plain pending FIFO second. Returns (nil, nil) when
// nothing is ready or the queue is paused.
func (b *Backend) FetchJob(_ context.Context, queueName string) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	if q.paused {
		return nil, nil
	}

	b.promoteDueLocked(q)

	var id string
	switch {
	case len(q.prio) > 0:
		id = q.prio[0].id
		q.prio = q.prio[1:]
	case len(q.pending) > 0:
		id = q.pending[0]
		q.pending = q.pending[1:]
	default:
		return nil, nil
	}

	job := q.jobs[id]
	job.Status = queue.StatusActive
	job.UpdatedAt = time.Now()
	q.active[id] = struct{}{}

	return cloneJob(job), nil
}

// promoteDueLocked moves delayed jobs whose due time has passed into the
// ready structures, earliest due time first.
func (b *Backend) promoteDueLocked(q *memQueue) {
	now := time.Now()

	var due []*queue.Job
	remaining := q.delayed[:0]
	for _, id := range q.delayed {
		job := q.jobs[id]
		if job.Ready(now) {
			due = append(due, job)
		} else {
			remaining = append(remaining, id)
		}
	}
	q.delayed = remaining

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ProcessAfter.Before(*due[j].ProcessAfter)
	})
	for _, job := range due {
		job.Status = queue.StatusPending
		job.ProcessAfter = nil
		b.placeLocked(q, job)
	}
}

// UpdateJob persists mutated job metadata.
func (b *Backend) UpdateJob(_ context.Context, job *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(job.Queue)
	if _, exists := q.jobs[job.ID]; !exists {
		return queue.ErrJobNotFound
	}
	q.jobs[job.ID] = cloneJob(job)
	return nil
}

// CompleteJob marks the job completed and releases its claim.
func (b *Backend) CompleteJob(_ context.Context, job *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(job.Queue)
	stored, exists := q.jobs[job.ID]
	if !exists {
		return queue.ErrJobNotFound
	}
	if !stored.Status.CanTransition(queue.StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", queue.ErrInvalidTransition, stored.Status, queue.StatusCompleted)
	}

	delete(q.active, job.ID)
	q.jobs[job.ID] = cloneJob(job)
	q.jobs[job.ID].Status = queue.StatusCompleted
	return nil
}

// FailJob marks the job failed and releases its claim.
func (b *Backend) FailJob(_ context.Context, job *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(job.Queue)
	if _, exists := q.jobs[job.ID]; !exists {
		return queue.ErrJobNotFound
	}

	delete(q.active, job.ID)
	q.jobs[job.ID] = cloneJob(job)
	q.jobs[job.ID].Status = queue.StatusFailed
	return nil
}

// RetryJob re-schedules the job to become fetchable after delay.
func (b *Backend) RetryJob(_ context.Context, job *queue.Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(job.Queue)
	if _, exists := q.jobs[job.ID]; !exists {
		return queue.ErrJobNotFound
	}
	delete(q.active, job.ID)

	stored := cloneJob(job)
	if delay > 0 {
		after := time.Now().Add(delay)
		stored.Status = queue.StatusDelayed
		stored.ProcessAfter = &after
	} else {
		stored.Status = queue.StatusPending
		stored.ProcessAfter = nil
	}
	stored.UpdatedAt = time.Now()

	q.jobs[job.ID] = stored
	b.placeLocked(q, stored)
	return nil
}

// GetJob returns a job by id.
func (b *Backend) GetJob(_ context.Context, queueName, jobID string) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	job, exists := q.jobs[jobID]
	if !exists {
		return nil, queue.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// GetJobs lists up to limit jobs with the given status, oldest first.
// A limit of zero means no limit.
func (b *Backend) GetJobs(_ context.Context, queueName string, status queue.Status, limit int) ([]*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	var jobs []*queue.Job
	for _, job := range q.jobs {
		if job.Status == status {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// RemoveJob deletes a job by id. Active jobs cannot be removed.
func (b *Backend) RemoveJob(_ context.Context, queueName, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	if _, exists := q.jobs[jobID]; !exists {
		return queue.ErrJobNotFound
	}
	if _, isActive := q.active[jobID]; isActive {
		return fmt.Errorf("cannot remove active job %s", jobID)
	}

	delete(q.jobs, jobID)
	delete(q.logs, jobID)
	q.pending = slices.DeleteFunc(q.pending, func(id string) bool { return id == jobID })
	q.delayed = slices.DeleteFunc(q.delayed, func(id string) bool { return id == jobID })
	q.prio = slices.DeleteFunc(q.prio, func(e prioEntry) bool { return e.id == jobID })
	return nil
}

// UpdateProgress sets a job's progress value.
func (b *Backend) UpdateProgress(_ context.Context, queueName, jobID string, progress int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	job, exists := q.jobs[jobID]
	if !exists {
		return queue.ErrJobNotFound
	}
	job.Progress = progress
	job.UpdatedAt = time.Now()
	return nil
}

// AddLog appends a line to the job's log.
func (b *Backend) AddLog(_ context.Context, queueName, jobID, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	if _, exists := q.jobs[jobID]; !exists {
		return queue.ErrJobNotFound
	}
	q.logs[jobID] = append(q.logs[jobID], message)
	return nil
}

// GetLogs returns the accumulated log lines for a job.
func (b *Backend) GetLogs(_ context.Context, queueName, jobID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	if _, exists := q.jobs[jobID]; !exists {
		return nil, queue.ErrJobNotFound
	}
	return slices.Clone(q.logs[jobID]), nil
}

// PauseQueue sets the paused flag. Idempotent.
func (b *Backend) PauseQueue(_ context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getQueue(queueName).paused = true
	return nil
}

// ResumeQueue clears the paused flag. Idempotent.
func (b *Backend) ResumeQueue(_ context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getQueue(queueName).paused = false
	return nil
}

// EmptyQueue removes all non-active jobs and returns the count removed.
func (b *Backend) EmptyQueue(_ context.Context, queueName string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	var removed int64
	for id := range q.jobs {
		if _, isActive := q.active[id]; isActive {
			continue
		}
		delete(q.jobs, id)
		delete(q.logs, id)
		removed++
	}
	q.pending = nil
	q.delayed = nil
	q.prio = nil
	return removed, nil
}

// Stats reports per-status counts for a queue.
func (b *Backend) Stats(_ context.Context, queueName string) (*queue.QueueStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.getQueue(queueName)
	stats := &queue.QueueStats{
		Queue:    queueName,
		Pending:  int64(len(q.pending)),
		Delayed:  int64(len(q.delayed)),
		Priority: int64(len(q.prio)),
		Active:   int64(len(q.active)),
		Paused:   q.paused,
	}
	for _, job := range q.jobs {
		switch job.Status {
		case queue.StatusCompleted:
			stats.Completed++
		case queue.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Disconnect releases all state.
func (b *Backend) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = make(map[string]*memQueue)
	return nil
}

func cloneJob(job *queue.Job) *queue.Job {
	jobCopy := *job
	if job.ProcessAfter != nil {
		after := *job.ProcessAfter
		jobCopy.ProcessAfter = &after
	}
	if job.Metadata != nil {
		jobCopy.Metadata = make(map[string]string, len(job.Metadata))
		for k, v := range job.Metadata {
			jobCopy.Metadata[k] = v
		}
	}
	jobCopy.Data = slices.Clone(job.Data)
	jobCopy.Result = slices.Clone(job.Result)
	return &jobCopy
}
