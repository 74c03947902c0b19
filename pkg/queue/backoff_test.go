package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestDefaultRetryStrategy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Second, queue.DefaultRetryStrategy(1))
	assert.Equal(t, 4*time.Second, queue.DefaultRetryStrategy(2))
	assert.Equal(t, 8*time.Second, queue.DefaultRetryStrategy(3))
	assert.Equal(t, 16*time.Second, queue.DefaultRetryStrategy(4))

	t.Run("capped at 30s", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 30*time.Second, queue.DefaultRetryStrategy(5))
		assert.Equal(t, 30*time.Second, queue.DefaultRetryStrategy(10))
	})

	t.Run("overflow-safe for huge attempt counts", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 30*time.Second, queue.DefaultRetryStrategy(64))
	})
}

func TestConstantRetryStrategy(t *testing.T) {
	t.Parallel()

	s := queue.ConstantRetryStrategy(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, s(1))
	assert.Equal(t, 250*time.Millisecond, s(100))
}

func TestLinearRetryStrategy(t *testing.T) {
	t.Parallel()

	s := queue.LinearRetryStrategy(time.Second, 3*time.Second)
	assert.Equal(t, time.Second, s(1))
	assert.Equal(t, 2*time.Second, s(2))
	assert.Equal(t, 3*time.Second, s(3))
	assert.Equal(t, 3*time.Second, s(10), "capped at maxDelay")

	uncapped := queue.LinearRetryStrategy(time.Second, 0)
	assert.Equal(t, 10*time.Second, uncapped(10))
}
