package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestEventBusSubscribeAndEmit(t *testing.T) {
	t.Parallel()

	bus := queue.NewEventBus(8)
	defer bus.Close()

	events := bus.Subscribe(context.Background())
	bus.Emit(queue.Event{Name: queue.EventJobEnqueued, Queue: "emails"})

	select {
	case evt := <-events:
		assert.Equal(t, queue.EventJobEnqueued, evt.Name)
		assert.Equal(t, "emails", evt.Queue)
		assert.False(t, evt.At.IsZero(), "At timestamp should be stamped on emit")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	bus := queue.NewEventBus(1)
	defer bus.Close()

	events := bus.Subscribe(context.Background())
	for i := 0; i < 5; i++ {
		bus.Emit(queue.Event{Name: queue.EventJobEnqueued})
	}

	// Only the first event fits; the rest are dropped, never blocking Emit.
	assert.Len(t, events, 1)
}

func TestEventBusUnsubscribeOnContextCancel(t *testing.T) {
	t.Parallel()

	bus := queue.NewEventBus(4)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events := bus.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "channel should close after ctx cancel")
}

func TestEventBusClose(t *testing.T) {
	t.Parallel()

	bus := queue.NewEventBus(4)
	events := bus.Subscribe(context.Background())

	bus.Close()
	bus.Close() // idempotent

	_, ok := <-events
	assert.False(t, ok, "subscriber channel should be closed")

	// Emitting after close is a no-op.
	bus.Emit(queue.Event{Name: queue.EventReady})

	// Subscribing after close yields an already closed channel.
	late := bus.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
}

func TestEventBusCloseWithLiveSubscriberContext(t *testing.T) {
	t.Parallel()

	bus := queue.NewEventBus(4)

	// The subscriber context is cancellable but never cancelled, so Close
	// must not wait for it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := bus.Subscribe(ctx)

	closed := make(chan struct{})
	go func() {
		bus.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a live subscriber context")
	}

	_, ok := <-events
	assert.False(t, ok, "subscriber channel should be closed")
}
