package queuekit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit"
	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestNewWithMemoryBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, err := queuekit.New(ctx, queuekit.Config{Backend: queuekit.BackendMemory},
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithMetricsInterval(0),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })

	done := make(chan struct{})
	require.NoError(t, engine.Process("emails", 1, func(context.Context, *queue.JobContext) error {
		close(done)
		return nil
	}))

	_, err = engine.Enqueue(ctx, "emails", map[string]string{"to": "user@example.com"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was never processed")
	}
}

func TestNewBackendRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := queuekit.NewBackend(context.Background(), queuekit.Config{Backend: "sqlite"})
	assert.ErrorIs(t, err, queuekit.ErrUnknownBackend)

	_, err = queuekit.NewBackend(context.Background(), queuekit.Config{})
	assert.ErrorIs(t, err, queuekit.ErrUnknownBackend, "empty kind is not defaulted at this layer")
}

func TestNewBackendKafkaNeedsBrokers(t *testing.T) {
	t.Parallel()

	_, err := queuekit.NewBackend(context.Background(), queuekit.Config{Backend: queuekit.BackendKafka})
	assert.Error(t, err)
}
