package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

// DefaultPrefix namespaces all queue keys unless overridden.
const DefaultPrefix = "queuekit:"

// Backend implements the queue backend contract on a Redis connection. The
// client is an explicit handle owned by this instance; callers construct it
// once and share the backend across the engine's worker loops.
type Backend struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Option configures the backend.
type Option func(*Backend)

// WithPrefix overrides the key namespace prefix.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		if prefix != "" {
			b.prefix = prefix
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

// New creates a Redis-backed queue backend on an established client.
func New(client goredis.UniversalClient, opts ...Option) (*Backend, error) {
	if client == nil {
		return nil, queue.ErrBackendNil
	}
	b := &Backend{
		client: client,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// fetchScript promotes due delayed jobs and claims the next ready job in one
// atomic step. Delayed members are "id|priority" so promotion can route each
// job to the right ready structure without extra round trips.
//
// KEYS: 1=pending 2=delayed 3=priority 4=active 5=meta
// ARGV: 1=now (unix ms)
var fetchScript = goredis.NewScript(`
if redis.call('HGET', KEYS[5], 'paused') == '1' then
	return false
end
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, m in ipairs(due) do
	local sep = string.find(m, '|', 1, true)
	local id = string.sub(m, 1, sep - 1)
	local prio = tonumber(string.sub(m, sep + 1))
	if prio > 0 then
		redis.call('ZADD', KEYS[3], -prio * 1e13 + now, id)
	else
		redis.call('RPUSH', KEYS[1], id)
	end
	redis.call('ZREM', KEYS[2], m)
end
local id
local popped = redis.call('ZPOPMIN', KEYS[3], 1)
if popped[1] then
	id = popped[1]
else
	id = redis.call('LPOP', KEYS[1])
end
if not id then
	return false
end
redis.call('SADD', KEYS[4], id)
return id
`)

// priorityScore orders the priority sorted set: higher priority pops first,
// earlier enqueue breaks ties. The time component stays below 1e13 ms until
// the year 2286, so tiers cannot overlap.
func priorityScore(priority int, at time.Time) float64 {
	return float64(-priority)*1e13 + float64(at.UnixMilli())
}

// delayedMember encodes a delayed job id with its priority.
func delayedMember(job *queue.Job) string {
	return job.ID + "|" + strconv.Itoa(job.Priority)
}

// CreateQueue records queue metadata. All other structures appear lazily.
func (b *Backend) CreateQueue(ctx context.Context, queueName string) error {
	err := b.client.HSetNX(ctx, b.metaKey(queueName), "created_at",
		time.Now().UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("queuekit/redis: create queue %q: %w", queueName, err)
	}
	return nil
}

// AddJob stores the job record and routes the id into the pending list,
// priority set, or delayed set.
func (b *Backend) AddJob(ctx context.Context, job *queue.Job) error {
	pipe := b.client.TxPipeline()
	if err := b.queueAdd(ctx, pipe, job); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuekit/redis: add job %s: %w", job.ID, err)
	}
	return nil
}

// AddJobs stores a batch of jobs in one transaction.
func (b *Backend) AddJobs(ctx context.Context, jobs []*queue.Job) error {
	pipe := b.client.TxPipeline()
	for _, job := range jobs {
		if err := b.queueAdd(ctx, pipe, job); err != nil {
			return err
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuekit/redis: add %d jobs: %w", len(jobs), err)
	}
	return nil
}

func (b *Backend) queueAdd(ctx context.Context, pipe goredis.Pipeliner, job *queue.Job) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queuekit/redis: marshal job %s: %w", job.ID, err)
	}

	pipe.Set(ctx, b.jobKey(job.Queue, job.ID), record, 0)

	switch {
	case job.Status == queue.StatusDelayed && job.ProcessAfter != nil:
		pipe.ZAdd(ctx, b.delayedKey(job.Queue), goredis.Z{
			Score:  float64(job.ProcessAfter.UnixMilli()),
			Member: delayedMember(job),
		})
	case job.Priority > 0:
		pipe.ZAdd(ctx, b.priorityKey(job.Queue), goredis.Z{
			Score:  priorityScore(job.Priority, job.CreatedAt),
			Member: job.ID,
		})
	default:
		pipe.RPush(ctx, b.pendingKey(job.Queue), job.ID)
	}
	return nil
}

// FetchJob atomically claims the next ready job, or returns (nil, nil) when
// the queue is empty or paused.
func (b *Backend) FetchJob(ctx context.Context, queueName string) (*queue.Job, error) {
	keys := []string{
		b.pendingKey(queueName),
		b.delayedKey(queueName),
		b.priorityKey(queueName),
		b.activeKey(queueName),
		b.metaKey(queueName),
	}

	res, err := fetchScript.Run(ctx, b.client, keys, time.Now().UnixMilli()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queuekit/redis: fetch from %q: %w", queueName, err)
	}

	jobID, ok := res.(string)
	if !ok || jobID == "" {
		return nil, nil
	}

	job, err := b.getJobRecord(ctx, queueName, jobID)
	if err != nil {
		return nil, err
	}

	job.Status = queue.StatusActive
	job.ProcessAfter = nil
	job.UpdatedAt = time.Now()
	if err := b.setJobRecord(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob persists the full job record.
func (b *Backend) UpdateJob(ctx context.Context, job *queue.Job) error {
	return b.setJobRecord(ctx, job)
}

// CompleteJob moves the job from the active set to the completed set and
// persists its terminal record.
func (b *Backend) CompleteJob(ctx context.Context, job *queue.Job) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queuekit/redis: marshal job %s: %w", job.ID, err)
	}

	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, b.activeKey(job.Queue), job.ID)
	pipe.SAdd(ctx, b.completedKey(job.Queue), job.ID)
	pipe.Set(ctx, b.jobKey(job.Queue, job.ID), record, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuekit/redis: complete job %s: %w", job.ID, err)
	}
	return nil
}

// FailJob moves the job from the active set to the failed set.
func (b *Backend) FailJob(ctx context.Context, job *queue.Job) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queuekit/redis: marshal job %s: %w", job.ID, err)
	}

	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, b.activeKey(job.Queue), job.ID)
	pipe.SAdd(ctx, b.failedKey(job.Queue), job.ID)
	pipe.Set(ctx, b.jobKey(job.Queue, job.ID), record, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuekit/redis: fail job %s: %w", job.ID, err)
	}
	return nil
}

// RetryJob releases the job's claim and re-schedules it after delay.
func (b *Backend) RetryJob(ctx context.Context, job *queue.Job, delay time.Duration) error {
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

	record, err := json.Marshal(&rescheduled)
	if err != nil {
		return fmt.Errorf("queuekit/redis: marshal job %s: %w", job.ID, err)
	}

	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, b.activeKey(job.Queue), job.ID)
	pipe.Set(ctx, b.jobKey(job.Queue, job.ID), record, 0)
	switch {
	case rescheduled.Status == queue.StatusDelayed:
		pipe.ZAdd(ctx, b.delayedKey(job.Queue), goredis.Z{
			Score:  float64(rescheduled.ProcessAfter.UnixMilli()),
			Member: delayedMember(&rescheduled),
		})
	case rescheduled.Priority > 0:
		pipe.ZAdd(ctx, b.priorityKey(job.Queue), goredis.Z{
			Score:  priorityScore(rescheduled.Priority, now),
			Member: job.ID,
		})
	default:
		pipe.RPush(ctx, b.pendingKey(job.Queue), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuekit/redis: retry job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the stored job record.
func (b *Backend) GetJob(ctx context.Context, queueName, jobID string) (*queue.Job, error) {
	return b.getJobRecord(ctx, queueName, jobID)
}

// GetJobs lists up to limit jobs with the given status. A limit of zero
// means no limit. Candidate ids come from the backing structures, and a
// structure can back more than one status lookup (the delayed set backs both
// delayed and retrying), so results are narrowed by the status stored on each
// record.
func (b *Backend) GetJobs(ctx context.Context, queueName string, status queue.Status, limit int) ([]*queue.Job, error) {
	ids, err := b.idsByStatus(ctx, queueName, status)
	if err != nil {
		return nil, err
	}

	records := make([]*queue.Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.getJobRecord(ctx, queueName, id)
		if err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, job)
	}
	return selectByStatus(records, status, limit), nil
}

// selectByStatus keeps records whose stored status matches, up to limit
// (zero means no limit).
func selectByStatus(jobs []*queue.Job, status queue.Status, limit int) []*queue.Job {
	out := make([]*queue.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Status != status {
			continue
		}
		out = append(out, job)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (b *Backend) idsByStatus(ctx context.Context, queueName string, status queue.Status) ([]string, error) {
	switch status {
	case queue.StatusPending:
		ids, err := b.client.LRange(ctx, b.pendingKey(queueName), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("queuekit/redis: list pending %q: %w", queueName, err)
		}
		prio, err := b.client.ZRange(ctx, b.priorityKey(queueName), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("queuekit/redis: list priority %q: %w", queueName, err)
		}
		return append(prio, ids...), nil
	case queue.StatusDelayed, queue.StatusRetrying:
		members, err := b.client.ZRange(ctx, b.delayedKey(queueName), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("queuekit/redis: list delayed %q: %w", queueName, err)
		}
		ids := make([]string, 0, len(members))
		for _, m := range members {
			id, _, _ := strings.Cut(m, "|")
			ids = append(ids, id)
		}
		return ids, nil
	case queue.StatusActive:
		return b.setMembers(ctx, b.activeKey(queueName))
	case queue.StatusCompleted:
		return b.setMembers(ctx, b.completedKey(queueName))
	case queue.StatusFailed:
		return b.setMembers(ctx, b.failedKey(queueName))
	default:
		return nil, fmt.Errorf("queuekit/redis: unknown status %q", status)
	}
}

func (b *Backend) setMembers(ctx context.Context, key string) ([]string, error) {
	ids, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("queuekit/redis: members of %s: %w", key, err)
	}
	return ids, nil
}

// RemoveJob deletes the job record and clears the id from every structure.
func (b *Backend) RemoveJob(ctx context.Context, queueName, jobID string) error {
	job, err := b.getJobRecord(ctx, queueName, jobID)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.pendingKey(queueName), 0, jobID)
	pipe.ZRem(ctx, b.priorityKey(queueName), jobID)
	pipe.ZRem(ctx, b.delayedKey(queueName), delayedMember(job))
	pipe.SRem(ctx, b.activeKey(queueName), jobID)
	pipe.SRem(ctx, b.completedKey(queueName), jobID)
	pipe.SRem(ctx, b.failedKey(queueName), jobID)
	pipe.Del(ctx, b.jobKey(queueName, jobID), b.logsKey(queueName, jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuekit/redis: remove job %s: %w", jobID, err)
	}
	return nil
}

// UpdateProgress persists the job's progress value.
func (b *Backend) UpdateProgress(ctx context.Context, queueName, jobID string, progress int) error {
	job, err := b.getJobRecord(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	job.Progress = progress
	job.UpdatedAt = time.Now()
	return b.setJobRecord(ctx, job)
}

// AddLog appends a line to the job's log list.
func (b *Backend) AddLog(ctx context.Context, queueName, jobID, message string) error {
	if err := b.client.RPush(ctx, b.logsKey(queueName, jobID), message).Err(); err != nil {
		return fmt.Errorf("queuekit/redis: add log for job %s: %w", jobID, err)
	}
	return nil
}

// GetLogs returns the accumulated log lines for a job.
func (b *Backend) GetLogs(ctx context.Context, queueName, jobID string) ([]string, error) {
	lines, err := b.client.LRange(ctx, b.logsKey(queueName, jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queuekit/redis: logs for job %s: %w", jobID, err)
	}
	return lines, nil
}

// PauseQueue sets the paused flag in queue metadata. Idempotent.
func (b *Backend) PauseQueue(ctx context.Context, queueName string) error {
	if err := b.client.HSet(ctx, b.metaKey(queueName), "paused", "1").Err(); err != nil {
		return fmt.Errorf("queuekit/redis: pause queue %q: %w", queueName, err)
	}
	return nil
}

// ResumeQueue clears the paused flag. Idempotent.
func (b *Backend) ResumeQueue(ctx context.Context, queueName string) error {
	if err := b.client.HSet(ctx, b.metaKey(queueName), "paused", "0").Err(); err != nil {
		return fmt.Errorf("queuekit/redis: resume queue %q: %w", queueName, err)
	}
	return nil
}

// EmptyQueue removes all pending, priority, and delayed jobs along with their
// records, returning the count removed. Active jobs and terminal records are
// left in place.
func (b *Backend) EmptyQueue(ctx context.Context, queueName string) (int64, error) {
	pending, err := b.client.LRange(ctx, b.pendingKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queuekit/redis: empty queue %q: %w", queueName, err)
	}
	prio, err := b.client.ZRange(ctx, b.priorityKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queuekit/redis: empty queue %q: %w", queueName, err)
	}
	delayed, err := b.client.ZRange(ctx, b.delayedKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queuekit/redis: empty queue %q: %w", queueName, err)
	}

	pipe := b.client.TxPipeline()
	for _, id := range pending {
		pipe.Del(ctx, b.jobKey(queueName, id), b.logsKey(queueName, id))
	}
	for _, id := range prio {
		pipe.Del(ctx, b.jobKey(queueName, id), b.logsKey(queueName, id))
	}
	for _, m := range delayed {
		id, _, _ := strings.Cut(m, "|")
		pipe.Del(ctx, b.jobKey(queueName, id), b.logsKey(queueName, id))
	}
	pipe.Del(ctx, b.pendingKey(queueName), b.priorityKey(queueName), b.delayedKey(queueName))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queuekit/redis: empty queue %q: %w", queueName, err)
	}

	return int64(len(pending) + len(prio) + len(delayed)), nil
}

// Stats reports per-status counts and the paused flag.
func (b *Backend) Stats(ctx context.Context, queueName string) (*queue.QueueStats, error) {
	pipe := b.client.Pipeline()
	pendingCmd := pipe.LLen(ctx, b.pendingKey(queueName))
	delayedCmd := pipe.ZCard(ctx, b.delayedKey(queueName))
	priorityCmd := pipe.ZCard(ctx, b.priorityKey(queueName))
	activeCmd := pipe.SCard(ctx, b.activeKey(queueName))
	completedCmd := pipe.SCard(ctx, b.completedKey(queueName))
	failedCmd := pipe.SCard(ctx, b.failedKey(queueName))
	pausedCmd := pipe.HGet(ctx, b.metaKey(queueName), "paused")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("queuekit/redis: stats for %q: %w", queueName, err)
	}

	return &queue.QueueStats{
		Queue:     queueName,
		Pending:   pendingCmd.Val(),
		Delayed:   delayedCmd.Val(),
		Priority:  priorityCmd.Val(),
		Active:    activeCmd.Val(),
		Completed: completedCmd.Val(),
		Failed:    failedCmd.Val(),
		Paused:    pausedCmd.Val() == "1",
	}, nil
}

// Disconnect closes the Redis client.
func (b *Backend) Disconnect(_ context.Context) error {
	return b.client.Close()
}

func (b *Backend) getJobRecord(ctx context.Context, queueName, jobID string) (*queue.Job, error) {
	data, err := b.client.Get(ctx, b.jobKey(queueName, jobID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("queuekit/redis: get job %s: %w", jobID, err)
	}

	var job queue.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("queuekit/redis: unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

func (b *Backend) setJobRecord(ctx context.Context, job *queue.Job) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queuekit/redis: marshal job %s: %w", job.ID, err)
	}
	if err := b.client.Set(ctx, b.jobKey(job.Queue, job.ID), record, 0).Err(); err != nil {
		return fmt.Errorf("queuekit/redis: store job %s: %w", job.ID, err)
	}
	return nil
}
