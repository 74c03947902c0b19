package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestScheduleValidation(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	_, err := engine.Schedule("reports", "not a cron", "payload")
	assert.ErrorIs(t, err, queue.ErrInvalidSchedule)

	_, err = engine.Schedule("reports", "@hourly", nil)
	assert.ErrorIs(t, err, queue.ErrPayloadNil)
}

func TestScheduleFires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine := newTestEngine(t)
	events := engine.Subscribe(ctx)

	sched, err := engine.Schedule("reports", "@every 20ms", "nightly-report")
	require.NoError(t, err)
	defer sched.Stop()

	evt := waitEvent(t, events, queue.EventJobEnqueued)
	assert.Equal(t, "reports", evt.Queue)
	assert.Equal(t, queue.StatusPending, evt.Job.Status)
}

func TestScheduleStop(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	sched, err := engine.Schedule("reports", "@every 1h", "payload")
	require.NoError(t, err)

	sched.Stop()
	sched.Stop() // idempotent
}

func TestScheduleNextDates(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	sched, err := engine.Schedule("reports", "@every 1h", "payload")
	require.NoError(t, err)
	defer sched.Stop()

	dates := sched.NextDates(3)
	require.Len(t, dates, 3)
	assert.True(t, dates[0].After(time.Now()))
	assert.Equal(t, time.Hour, dates[1].Sub(dates[0]))
	assert.Equal(t, time.Hour, dates[2].Sub(dates[1]))
}

func TestScheduleRejectedAfterShutdown(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	require.NoError(t, engine.Shutdown(context.Background()))

	_, err := engine.Schedule("reports", "@hourly", "payload")
	assert.ErrorIs(t, err, queue.ErrEngineClosed)
}
