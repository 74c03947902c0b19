package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

const (
	// DefaultPrefix namespaces all broker resources unless overridden.
	DefaultPrefix = "queuekit."

	// MaxPriority bounds the broker-native priority range. Job priorities
	// outside 0..MaxPriority are clamped.
	MaxPriority = 10

	// DefaultPrefetch is the per-channel unacknowledged message limit.
	DefaultPrefetch = 10
)

// Backend implements the queue backend contract on an AMQP connection. The
// connection is an explicit handle owned by this instance.
type Backend struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	prefix   string
	prefetch int
	logger   *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
	paused   map[string]bool
	unacked  map[string]amqp091.Delivery // job id -> pending delivery
}

// Option configures the backend.
type Option func(*Backend)

// WithPrefix overrides the broker resource namespace.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithPrefetch sets the maximum number of unacknowledged deliveries the
// channel may hold.
func WithPrefetch(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.prefetch = n
		}
	}
}

// WithLogger sets the backend's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Dial connects to the broker and builds a backend on the connection.
func Dial(url string, opts ...Option) (*Backend, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queuekit/amqp: dial %q: %w", url, err)
	}
	return New(conn, opts...)
}

// New builds a backend on an established connection, opening one channel
// with the configured prefetch.
func New(conn *amqp091.Connection, opts ...Option) (*Backend, error) {
	if conn == nil {
		return nil, queue.ErrBackendNil
	}

	b := &Backend{
		conn:     conn,
		prefix:   DefaultPrefix,
		prefetch: DefaultPrefetch,
		logger:   slog.Default(),
		declared: make(map[string]bool),
		paused:   make(map[string]bool),
		unacked:  make(map[string]amqp091.Delivery),
	}
	for _, opt := range opts {
		opt(b)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queuekit/amqp: open channel: %w", err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queuekit/amqp: set prefetch: %w", err)
	}
	b.ch = ch

	return b, nil
}

func (b *Backend) queueName(name string) string        { return b.prefix + name }
func (b *Backend) delayedQueueName(name string) string { return b.queueName(name) + ".delayed" }
func (b *Backend) dlxName(name string) string          { return b.queueName(name) + ".dlx" }
func (b *Backend) dlqName(name string) string          { return b.queueName(name) + ".dlq" }

// CreateQueue declares the queue topology: the main queue with bounded
// priority and dead-letter routing, the TTL-based delay queue, and the
// dead-letter exchange/queue pair.
func (b *Backend) CreateQueue(_ context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.declareLocked(queueName)
}

func (b *Backend) declareLocked(queueName string) error {
	if b.declared[queueName] {
		return nil
	}

	main := b.queueName(queueName)
	dlx := b.dlxName(queueName)
	dlq := b.dlqName(queueName)

	if err := b.ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("queuekit/amqp: declare exchange %q: %w", dlx, err)
	}
	if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queuekit/amqp: declare queue %q: %w", dlq, err)
	}
	if err := b.ch.QueueBind(dlq, main, dlx, false, nil); err != nil {
		return fmt.Errorf("queuekit/amqp: bind %q to %q: %w", dlq, dlx, err)
	}

	_, err := b.ch.QueueDeclare(main, true, false, false, false, amqp091.Table{
		"x-max-priority":         int32(MaxPriority),
		"x-dead-letter-exchange": dlx,
	})
	if err != nil {
		return fmt.Errorf("queuekit/amqp: declare queue %q: %w", main, err)
	}

	// Expired messages dead-letter through the default exchange straight
	// back into the main queue.
	_, err = b.ch.QueueDeclare(b.delayedQueueName(queueName), true, false, false, false, amqp091.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": main,
	})
	if err != nil {
		return fmt.Errorf("queuekit/amqp: declare queue %q: %w", b.delayedQueueName(queueName), err)
	}

	b.declared[queueName] = true
	return nil
}

// clampPriority bounds a job priority to the broker's 0..MaxPriority range.
func clampPriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return uint8(p)
}

// AddJob publishes the job to its queue, or to the delay queue with a
// per-message TTL when the job is delayed.
func (b *Backend) AddJob(ctx context.Context, job *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishLocked(ctx, job)
}

// AddJobs publishes a batch of jobs.
func (b *Backend) AddJobs(ctx context.Context, jobs []*queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, job := range jobs {
		if err := b.publishLocked(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) publishLocked(ctx context.Context, job *queue.Job) error {
	if err := b.declareLocked(job.Queue); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queuekit/amqp: marshal job %s: %w", job.ID, err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    job.ID,
		Priority:     clampPriority(job.Priority),
		Body:         body,
	}

	target := b.queueName(job.Queue)
	if job.Status == queue.StatusDelayed && job.ProcessAfter != nil {
		ttl := time.Until(*job.ProcessAfter)
		if ttl > 0 {
			target = b.delayedQueueName(job.Queue)
			msg.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
		}
	}

	if err := b.ch.PublishWithContext(ctx, "", target, false, false, msg); err != nil {
		return fmt.Errorf("queuekit/amqp: publish job %s to %q: %w", job.ID, target, err)
	}
	return nil
}

// FetchJob pulls at most one message off the queue. The delivery stays
// unacknowledged until CompleteJob, FailJob, or RetryJob reports the outcome.
func (b *Backend) FetchJob(_ context.Context, queueName string) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused[queueName] {
		return nil, nil
	}
	if err := b.declareLocked(queueName); err != nil {
		return nil, err
	}

	delivery, ok, err := b.ch.Get(b.queueName(queueName), false)
	if err != nil {
		return nil, fmt.Errorf("queuekit/amqp: get from %q: %w", queueName, err)
	}
	if !ok {
		return nil, nil
	}

	var job queue.Job
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		// Poison message: reject without requeue so it dead-letters.
		_ = delivery.Nack(false, false)
		return nil, fmt.Errorf("queuekit/amqp: unmarshal message %s: %w", delivery.MessageId, err)
	}

	job.Status = queue.StatusActive
	job.ProcessAfter = nil
	job.UpdatedAt = time.Now()
	b.unacked[job.ID] = delivery

	return &job, nil
}

// UpdateJob is a no-op: an in-flight message has no addressable record on the
// broker, so mutated metadata lives only on the engine's copy until the
// outcome is reported.
func (b *Backend) UpdateJob(_ context.Context, _ *queue.Job) error {
	return nil
}

// CompleteJob acknowledges the pending delivery.
func (b *Backend) CompleteJob(_ context.Context, job *queue.Job) error {
	delivery, err := b.takeUnacked(job.ID)
	if err != nil {
		return err
	}
	if err := delivery.Ack(false); err != nil {
		return fmt.Errorf("queuekit/amqp: ack job %s: %w", job.ID, err)
	}
	return nil
}

// FailJob rejects the pending delivery without requeue, routing it through
// the dead-letter exchange into the dead-letter queue.
func (b *Backend) FailJob(_ context.Context, job *queue.Job) error {
	delivery, err := b.takeUnacked(job.ID)
	if err != nil {
		return err
	}
	if err := delivery.Nack(false, false); err != nil {
		return fmt.Errorf("queuekit/amqp: nack job %s: %w", job.ID, err)
	}
	return nil
}

// RetryJob republishes the job to the delay queue with a TTL equal to the
// backoff delay, then acknowledges the original delivery.
func (b *Backend) RetryJob(ctx context.Context, job *queue.Job, delay time.Duration) error {
	delivery, err := b.takeUnacked(job.ID)
	if err != nil {
		return err
	}

	rescheduled := *job
	now := time.Now()
	rescheduled.UpdatedAt = now
	if delay > 0 {
		after := now.Add(delay)
		rescheduled.Status = queue.StatusDelayed
		rescheduled.ProcessAfter = &after
	} else {
		rescheduled.Status = queue.StatusPending
		rescheduled.ProcessAfter = nil
	}

	b.mu.Lock()
	err = b.publishLocked(ctx, &rescheduled)
	b.mu.Unlock()
	if err != nil {
		// Put the delivery back so the job is not lost; the broker will
		// redeliver it.
		_ = delivery.Nack(false, true)
		return err
	}

	if err := delivery.Ack(false); err != nil {
		return fmt.Errorf("queuekit/amqp: ack retried job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob is unsupported: the broker exposes no addressable message lookup.
func (b *Backend) GetJob(_ context.Context, _, _ string) (*queue.Job, error) {
	return nil, queue.ErrUnsupported
}

// GetJobs is unsupported.
func (b *Backend) GetJobs(_ context.Context, _ string, _ queue.Status, _ int) ([]*queue.Job, error) {
	return nil, queue.ErrUnsupported
}

// RemoveJob is unsupported.
func (b *Backend) RemoveJob(_ context.Context, _, _ string) error {
	return queue.ErrUnsupported
}

// UpdateProgress is unsupported.
func (b *Backend) UpdateProgress(_ context.Context, _, _ string, _ int) error {
	return queue.ErrUnsupported
}

// AddLog is unsupported.
func (b *Backend) AddLog(_ context.Context, _, _, _ string) error {
	return queue.ErrUnsupported
}

// PauseQueue stops this backend instance from fetching further messages.
// The flag is process-local: the broker itself has no pause primitive.
func (b *Backend) PauseQueue(_ context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused[queueName] = true
	return nil
}

// ResumeQueue re-enables fetching. Idempotent.
func (b *Backend) ResumeQueue(_ context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.paused, queueName)
	return nil
}

// EmptyQueue purges the main and delay queues, returning the message count
// removed.
func (b *Backend) EmptyQueue(_ context.Context, queueName string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.declareLocked(queueName); err != nil {
		return 0, err
	}

	purged, err := b.ch.QueuePurge(b.queueName(queueName), false)
	if err != nil {
		return 0, fmt.Errorf("queuekit/amqp: purge %q: %w", queueName, err)
	}
	delayed, err := b.ch.QueuePurge(b.delayedQueueName(queueName), false)
	if err != nil {
		return int64(purged), fmt.Errorf("queuekit/amqp: purge %q delay queue: %w", queueName, err)
	}
	return int64(purged + delayed), nil
}

// Stats reports the broker's view of the queue: ready messages count as
// pending, messages in the delay queue as delayed, unacknowledged deliveries
// held by this instance as active, and the dead-letter queue depth as failed.
func (b *Backend) Stats(_ context.Context, queueName string) (*queue.QueueStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.declareLocked(queueName); err != nil {
		return nil, err
	}

	main, err := b.ch.QueueInspect(b.queueName(queueName))
	if err != nil {
		return nil, fmt.Errorf("queuekit/amqp: inspect %q: %w", queueName, err)
	}
	delayed, err := b.ch.QueueInspect(b.delayedQueueName(queueName))
	if err != nil {
		return nil, fmt.Errorf("queuekit/amqp: inspect %q delay queue: %w", queueName, err)
	}
	dlq, err := b.ch.QueueInspect(b.dlqName(queueName))
	if err != nil {
		return nil, fmt.Errorf("queuekit/amqp: inspect %q dead-letter queue: %w", queueName, err)
	}

	return &queue.QueueStats{
		Queue:   queueName,
		Pending: int64(main.Messages),
		Delayed: int64(delayed.Messages),
		Active:  int64(len(b.unacked)),
		Failed:  int64(dlq.Messages),
		Paused:  b.paused[queueName],
	}, nil
}

// Disconnect closes the channel and connection.
func (b *Backend) Disconnect(_ context.Context) error {
	if err := b.ch.Close(); err != nil && !b.conn.IsClosed() {
		_ = b.conn.Close()
		return fmt.Errorf("queuekit/amqp: close channel: %w", err)
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("queuekit/amqp: close connection: %w", err)
	}
	return nil
}

func (b *Backend) takeUnacked(jobID string) (amqp091.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivery, ok := b.unacked[jobID]
	if !ok {
		return amqp091.Delivery{}, fmt.Errorf("%w: no pending delivery for job %s", queue.ErrJobNotFound, jobID)
	}
	delete(b.unacked, jobID)
	return delivery, nil
}
