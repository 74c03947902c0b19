package memory_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/backend/memory"
	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func newJob(id, queueName string, opts queue.EnqueueOptions) *queue.Job {
	opts.ID = id
	return queue.NewJob(queueName, json.RawMessage(`{"n":1}`), &opts)
}

func TestFetchEmptyQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	job, err := b.FetchJob(ctx, "empty")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestAddAndFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))

	fetched, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "j1", fetched.ID)
	assert.Equal(t, queue.StatusActive, fetched.Status)

	// The job is claimed; a second fetch finds nothing.
	again, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestAddDuplicateID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))
	assert.Error(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))
}

func TestFetchReturnsClone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))

	fetched, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	fetched.LastError = "mutated by caller"

	stored, err := b.GetJob(ctx, "tasks", "j1")
	require.NoError(t, err)
	assert.Empty(t, stored.LastError, "caller mutations must not leak into the store")
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("low", "tasks", queue.EnqueueOptions{Priority: 1})))
	require.NoError(t, b.AddJob(ctx, newJob("high", "tasks", queue.EnqueueOptions{Priority: 9})))
	require.NoError(t, b.AddJob(ctx, newJob("mid", "tasks", queue.EnqueueOptions{Priority: 5})))
	require.NoError(t, b.AddJob(ctx, newJob("plain", "tasks", queue.EnqueueOptions{})))

	var order []string
	for i := 0; i < 4; i++ {
		job, err := b.FetchJob(ctx, "tasks")
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.ID)
	}
	assert.Equal(t, []string{"high", "mid", "low", "plain"}, order,
		"priority entries first, plain FIFO last")
}

func TestSamePriorityIsFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.AddJob(ctx, newJob(id, "tasks", queue.EnqueueOptions{Priority: 5})))
	}

	var order []string
	for i := 0; i < 3; i++ {
		job, err := b.FetchJob(ctx, "tasks")
		require.NoError(t, err)
		order = append(order, job.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDelayedPromotion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{Delay: 30 * time.Millisecond})))

	job, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	assert.Nil(t, job, "delayed job is not fetchable before its due time")

	require.Eventually(t, func() bool {
		job, err = b.FetchJob(ctx, "tasks")
		return err == nil && job != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "j1", job.ID)
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))

	t.Run("rejects invalid transition", func(t *testing.T) {
		pending, err := b.GetJob(ctx, "tasks", "j1")
		require.NoError(t, err)
		assert.ErrorIs(t, b.CompleteJob(ctx, pending), queue.ErrInvalidTransition)
	})

	fetched, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	require.NoError(t, b.CompleteJob(ctx, fetched))

	stored, err := b.GetJob(ctx, "tasks", "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, stored.Status)
}

func TestFailJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))

	fetched, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	fetched.LastError = "boom"
	require.NoError(t, b.FailJob(ctx, fetched))

	stored, err := b.GetJob(ctx, "tasks", "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Equal(t, "boom", stored.LastError)
}

func TestRetryJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("with delay goes back to delayed", func(t *testing.T) {
		t.Parallel()

		b := memory.New()
		require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))
		fetched, err := b.FetchJob(ctx, "tasks")
		require.NoError(t, err)

		require.NoError(t, b.RetryJob(ctx, fetched, time.Hour))

		stored, err := b.GetJob(ctx, "tasks", "j1")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDelayed, stored.Status)
		require.NotNil(t, stored.ProcessAfter)

		again, err := b.FetchJob(ctx, "tasks")
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("without delay is immediately pending", func(t *testing.T) {
		t.Parallel()

		b := memory.New()
		require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))
		fetched, err := b.FetchJob(ctx, "tasks")
		require.NoError(t, err)

		require.NoError(t, b.RetryJob(ctx, fetched, 0))

		again, err := b.FetchJob(ctx, "tasks")
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, "j1", again.ID)
	})
}

func TestGetJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.AddJob(ctx, newJob(id, "tasks", queue.EnqueueOptions{})))
	}

	jobs, err := b.GetJobs(ctx, "tasks", queue.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	limited, err := b.GetJobs(ctx, "tasks", queue.StatusPending, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := b.GetJobs(ctx, "tasks", queue.StatusFailed, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRemoveJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))
	require.NoError(t, b.AddJob(ctx, newJob("j2", "tasks", queue.EnqueueOptions{})))

	// Claim j1 so it cannot be removed.
	fetched, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	require.Equal(t, "j1", fetched.ID)
	assert.Error(t, b.RemoveJob(ctx, "tasks", "j1"), "active jobs cannot be removed")

	require.NoError(t, b.RemoveJob(ctx, "tasks", "j2"))
	_, err = b.GetJob(ctx, "tasks", "j2")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	assert.ErrorIs(t, b.RemoveJob(ctx, "tasks", "missing"), queue.ErrJobNotFound)
}

func TestProgressAndLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))

	require.NoError(t, b.UpdateProgress(ctx, "tasks", "j1", 40))
	stored, err := b.GetJob(ctx, "tasks", "j1")
	require.NoError(t, err)
	assert.Equal(t, 40, stored.Progress)

	require.NoError(t, b.AddLog(ctx, "tasks", "j1", "step one done"))
	require.NoError(t, b.AddLog(ctx, "tasks", "j1", "step two done"))
	logs, err := b.GetLogs(ctx, "tasks", "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"step one done", "step two done"}, logs)
}

func TestPauseResume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("j1", "tasks", queue.EnqueueOptions{})))
	require.NoError(t, b.PauseQueue(ctx, "tasks"))

	job, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	assert.Nil(t, job, "paused queue yields nothing")

	require.NoError(t, b.ResumeQueue(ctx, "tasks"))
	job, err = b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestEmptyQueueKeepsActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.AddJob(ctx, newJob(id, "tasks", queue.EnqueueOptions{})))
	}
	active, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)

	removed, err := b.EmptyQueue(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	stored, err := b.GetJob(ctx, "tasks", active.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusActive, stored.Status)
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.New()
	require.NoError(t, b.AddJob(ctx, newJob("p1", "tasks", queue.EnqueueOptions{})))
	require.NoError(t, b.AddJob(ctx, newJob("p2", "tasks", queue.EnqueueOptions{Priority: 5})))
	require.NoError(t, b.AddJob(ctx, newJob("d1", "tasks", queue.EnqueueOptions{Delay: time.Hour})))

	fetched, err := b.FetchJob(ctx, "tasks")
	require.NoError(t, err)
	require.Equal(t, "p2", fetched.ID, "priority entry claimed first")

	stats, err := b.Stats(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Delayed)
	assert.Equal(t, int64(1), stats.Active)
	assert.Zero(t, stats.Priority)
	assert.False(t, stats.Paused)
}
