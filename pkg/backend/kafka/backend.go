package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

const (
	// DefaultPrefix namespaces all topics unless overridden.
	DefaultPrefix = "queuekit."

	// DefaultGroupID is the consumer group used for offset tracking.
	DefaultGroupID = "queuekit"

	// DeadLetterTopicSuffix is appended to a topic to form its dead-letter
	// sibling.
	DeadLetterTopicSuffix = ".dlq"

	// defaultFetchWait bounds how long a single FetchJob call blocks on the
	// log before reporting an empty queue.
	defaultFetchWait = time.Second

	headerProcessAfter = "processAfter"
	headerPriority     = "priority"
	headerAttempts     = "attempts"
)

// held is a fetched message whose processAfter has not arrived yet. Its
// offset stays uncommitted and fetching from its queue is suspended until it
// comes due, so no later commit can advance past it.
type held struct {
	msg kafkago.Message
	job *queue.Job
	due time.Time
}

// pending is a fetched, in-flight message awaiting its outcome.
type pending struct {
	queueName string
	msg       kafkago.Message
}

// Backend implements the queue backend contract on Kafka topics.
type Backend struct {
	brokers   []string
	prefix    string
	groupID   string
	fetchWait time.Duration
	logger    *slog.Logger

	writer *kafkago.Writer

	mu      sync.Mutex
	readers map[string]*kafkago.Reader
	heldMsg map[string][]held  // queue -> not-yet-due messages
	pending map[string]pending // job id -> in-flight message
	paused  map[string]bool
}

// Option configures the backend.
type Option func(*Backend)

// WithPrefix overrides the topic namespace.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithGroupID sets the consumer group for offset tracking.
func WithGroupID(groupID string) Option {
	return func(b *Backend) {
		if groupID != "" {
			b.groupID = groupID
		}
	}
}

// WithFetchWait bounds how long one fetch blocks on an empty topic.
func WithFetchWait(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.fetchWait = d
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

// New creates a Kafka-backed queue backend for the given brokers.
func New(brokers []string, opts ...Option) (*Backend, error) {
	if len(brokers) == 0 {
		return nil, errors.New("queuekit/kafka: at least one broker is required")
	}

	b := &Backend{
		brokers:   brokers,
		prefix:    DefaultPrefix,
		groupID:   DefaultGroupID,
		fetchWait: defaultFetchWait,
		logger:    slog.Default(),
		readers:   make(map[string]*kafkago.Reader),
		heldMsg:   make(map[string][]held),
		pending:   make(map[string]pending),
		paused:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.writer = &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return b, nil
}

func (b *Backend) topic(queueName string) string { return b.prefix + queueName }

func (b *Backend) dlqTopic(queueName string) string {
	return b.topic(queueName) + DeadLetterTopicSuffix
}

// CreateQueue creates the queue's topic and its dead-letter sibling.
func (b *Backend) CreateQueue(_ context.Context, queueName string) error {
	conn, err := kafkago.Dial("tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("queuekit/kafka: dial %q: %w", b.brokers[0], err)
	}
	defer conn.Close()

	err = conn.CreateTopics(
		kafkago.TopicConfig{Topic: b.topic(queueName), NumPartitions: 1, ReplicationFactor: 1},
		kafkago.TopicConfig{Topic: b.dlqTopic(queueName), NumPartitions: 1, ReplicationFactor: 1},
	)
	if err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
		return fmt.Errorf("queuekit/kafka: create topics for %q: %w", queueName, err)
	}
	return nil
}

func jobMessage(topic string, job *queue.Job) (kafkago.Message, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("queuekit/kafka: marshal job %s: %w", job.ID, err)
	}

	headers := []kafkago.Header{
		{Key: headerPriority, Value: []byte(strconv.Itoa(job.Priority))},
		{Key: headerAttempts, Value: []byte(strconv.Itoa(job.Attempts))},
	}
	if job.ProcessAfter != nil {
		headers = append(headers, kafkago.Header{
			Key:   headerProcessAfter,
			Value: []byte(job.ProcessAfter.UTC().Format(time.RFC3339Nano)),
		})
	}

	return kafkago.Message{
		Topic:   topic,
		Key:     []byte(job.ID),
		Value:   body,
		Headers: headers,
	}, nil
}

// AddJob appends the job to its topic.
func (b *Backend) AddJob(ctx context.Context, job *queue.Job) error {
	msg, err := jobMessage(b.topic(job.Queue), job)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("queuekit/kafka: write job %s: %w", job.ID, err)
	}
	return nil
}

// AddJobs appends a batch of jobs in one produce request.
func (b *Backend) AddJobs(ctx context.Context, jobs []*queue.Job) error {
	msgs := make([]kafkago.Message, 0, len(jobs))
	for _, job := range jobs {
		msg, err := jobMessage(b.topic(job.Queue), job)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := b.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("queuekit/kafka: write %d jobs: %w", len(jobs), err)
	}
	return nil
}

// reader returns the consumer-group reader for a queue, creating it lazily.
func (b *Backend) reader(queueName string) *kafkago.Reader {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.readers[queueName]
	if !ok {
		r = kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  b.brokers,
			GroupID:  b.groupID,
			Topic:    b.topic(queueName),
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
		b.readers[queueName] = r
	}
	return r
}

// FetchJob returns at most one job. A message whose processAfter is still in
// the future is held back uncommitted and (nil, nil) is returned; no further
// messages are fetched from that queue until the held one comes due. Reading
// past it would let a later commit advance the group offset beyond the held
// record, losing it on restart or rebalance. Queue topics have a single
// partition, so the held message is always the next record anyway.
func (b *Backend) FetchJob(ctx context.Context, queueName string) (*queue.Job, error) {
	b.mu.Lock()
	if b.paused[queueName] {
		b.mu.Unlock()
		return nil, nil
	}
	if job := b.takeDueHeldLocked(queueName); job != nil {
		b.mu.Unlock()
		return job, nil
	}
	if len(b.heldMsg[queueName]) > 0 {
		b.mu.Unlock()
		return nil, nil
	}
	b.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, b.fetchWait)
	defer cancel()

	msg, err := b.reader(queueName).FetchMessage(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("queuekit/kafka: fetch from %q: %w", queueName, err)
	}

	var job queue.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return nil, fmt.Errorf("queuekit/kafka: unmarshal message at offset %d: %w", msg.Offset, err)
	}

	now := time.Now()
	if !job.Ready(now) {
		b.mu.Lock()
		b.heldMsg[queueName] = append(b.heldMsg[queueName], held{
			msg: msg,
			job: &job,
			due: *job.ProcessAfter,
		})
		b.mu.Unlock()
		return nil, nil
	}

	job.Status = queue.StatusActive
	job.ProcessAfter = nil
	job.UpdatedAt = now
	b.mu.Lock()
	b.pending[job.ID] = pending{queueName: queueName, msg: msg}
	b.mu.Unlock()

	return &job, nil
}

// takeDueHeldLocked pops the first held message whose due time has passed.
// Caller must hold b.mu.
func (b *Backend) takeDueHeldLocked(queueName string) *queue.Job {
	now := time.Now()
	for i, h := range b.heldMsg[queueName] {
		if h.due.After(now) {
			continue
		}
		b.heldMsg[queueName] = append(b.heldMsg[queueName][:i], b.heldMsg[queueName][i+1:]...)

		job := h.job
		job.Status = queue.StatusActive
		job.ProcessAfter = nil
		job.UpdatedAt = now
		b.pending[job.ID] = pending{queueName: queueName, msg: h.msg}
		return job
	}
	return nil
}

// UpdateJob is a no-op: log records are immutable, so mutated metadata lives
// only on the engine's copy until the outcome is reported.
func (b *Backend) UpdateJob(_ context.Context, _ *queue.Job) error {
	return nil
}

// CompleteJob commits the consumed offset.
func (b *Backend) CompleteJob(ctx context.Context, job *queue.Job) error {
	p, err := b.takePending(job.ID)
	if err != nil {
		return err
	}
	if err := b.reader(p.queueName).CommitMessages(ctx, p.msg); err != nil {
		return fmt.Errorf("queuekit/kafka: commit job %s: %w", job.ID, err)
	}
	return nil
}

// FailJob writes a copy of the job to the dead-letter topic, then commits
// the original offset so it is never replayed.
func (b *Backend) FailJob(ctx context.Context, job *queue.Job) error {
	p, err := b.takePending(job.ID)
	if err != nil {
		return err
	}

	msg, err := jobMessage(b.dlqTopic(p.queueName), job)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("queuekit/kafka: write job %s to dead-letter topic: %w", job.ID, err)
	}
	if err := b.reader(p.queueName).CommitMessages(ctx, p.msg); err != nil {
		return fmt.Errorf("queuekit/kafka: commit failed job %s: %w", job.ID, err)
	}
	return nil
}

// RetryJob appends a new record with an advisory processAfter header and
// commits the original offset.
func (b *Backend) RetryJob(ctx context.Context, job *queue.Job, delay time.Duration) error {
	p, err := b.takePending(job.ID)
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

	msg, err := jobMessage(b.topic(p.queueName), &rescheduled)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("queuekit/kafka: re-schedule job %s: %w", job.ID, err)
	}
	if err := b.reader(p.queueName).CommitMessages(ctx, p.msg); err != nil {
		return fmt.Errorf("queuekit/kafka: commit retried job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob is unsupported: the log has no addressable storage.
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
// The flag is process-local.
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

// EmptyQueue is unsupported: records cannot be deleted from an append-only
// log.
func (b *Backend) EmptyQueue(_ context.Context, _ string) (int64, error) {
	return 0, queue.ErrUnsupported
}

// Stats reports the consumer lag as pending, held-back messages as delayed,
// and in-flight deliveries as active.
func (b *Backend) Stats(_ context.Context, queueName string) (*queue.QueueStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var active int64
	for _, p := range b.pending {
		if p.queueName == queueName {
			active++
		}
	}

	stats := &queue.QueueStats{
		Queue:   queueName,
		Delayed: int64(len(b.heldMsg[queueName])),
		Active:  active,
		Paused:  b.paused[queueName],
	}
	if r, ok := b.readers[queueName]; ok {
		stats.Pending = r.Stats().Lag
	}
	return stats, nil
}

// Disconnect closes the writer and all readers.
func (b *Backend) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("queuekit/kafka: close writer: %w", err))
	}
	for name, r := range b.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queuekit/kafka: close reader for %q: %w", name, err))
		}
	}
	clear(b.readers)
	return errors.Join(errs...)
}

func (b *Backend) takePending(jobID string) (pending, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[jobID]
	if !ok {
		return pending{}, fmt.Errorf("%w: no in-flight message for job %s", queue.ErrJobNotFound, jobID)
	}
	delete(b.pending, jobID)
	return p, nil
}
