package queue_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestStatusCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to queue.Status }{
		{queue.StatusPending, queue.StatusActive},
		{queue.StatusDelayed, queue.StatusActive},
		{queue.StatusDelayed, queue.StatusPending},
		{queue.StatusActive, queue.StatusCompleted},
		{queue.StatusActive, queue.StatusFailed},
		{queue.StatusActive, queue.StatusRetrying},
		{queue.StatusRetrying, queue.StatusPending},
		{queue.StatusRetrying, queue.StatusDelayed},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransition(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to queue.Status }{
		{queue.StatusPending, queue.StatusCompleted},
		{queue.StatusPending, queue.StatusFailed},
		{queue.StatusCompleted, queue.StatusActive},
		{queue.StatusCompleted, queue.StatusPending},
		{queue.StatusFailed, queue.StatusActive},
		{queue.StatusActive, queue.StatusPending},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransition(tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, queue.StatusCompleted.Terminal())
	assert.True(t, queue.StatusFailed.Terminal())
	assert.False(t, queue.StatusPending.Terminal())
	assert.False(t, queue.StatusDelayed.Terminal())
	assert.False(t, queue.StatusActive.Terminal())
	assert.False(t, queue.StatusRetrying.Terminal())
}

func TestNewJob(t *testing.T) {
	t.Parallel()

	data := json.RawMessage(`{"email":"user@example.com"}`)

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		job := queue.NewJob("emails", data, &queue.EnqueueOptions{Retries: 3, Timeout: time.Minute})
		require.NotEmpty(t, job.ID, "generated id expected")
		assert.Equal(t, "emails", job.Queue)
		assert.Equal(t, queue.StatusPending, job.Status)
		assert.Equal(t, 3, job.MaxRetries)
		assert.Equal(t, time.Minute, job.Timeout)
		assert.Zero(t, job.Attempts)
		assert.Nil(t, job.ProcessAfter)
		assert.True(t, job.Ready(time.Now()))
	})

	t.Run("explicit id is kept", func(t *testing.T) {
		t.Parallel()

		job := queue.NewJob("emails", data, &queue.EnqueueOptions{ID: "job-42"})
		assert.Equal(t, "job-42", job.ID)
	})

	t.Run("delay makes job delayed", func(t *testing.T) {
		t.Parallel()

		job := queue.NewJob("emails", data, &queue.EnqueueOptions{Delay: time.Hour})
		assert.Equal(t, queue.StatusDelayed, job.Status)
		require.NotNil(t, job.ProcessAfter)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *job.ProcessAfter, time.Second)
		assert.False(t, job.Ready(time.Now()))
		assert.True(t, job.Ready(time.Now().Add(2*time.Hour)))
	})
}

func TestDeadLetterQueue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "emails:dead", queue.DeadLetterQueue("emails"))
	assert.Equal(t, "default:dead", queue.DeadLetterQueue(queue.DefaultQueueName))
}
