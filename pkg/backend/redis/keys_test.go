package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	b := &Backend{prefix: DefaultPrefix}

	assert.Equal(t, "queuekit:emails", b.queueRoot("emails"))
	assert.Equal(t, "queuekit:emails:pending", b.pendingKey("emails"))
	assert.Equal(t, "queuekit:emails:delayed", b.delayedKey("emails"))
	assert.Equal(t, "queuekit:emails:priority", b.priorityKey("emails"))
	assert.Equal(t, "queuekit:emails:active", b.activeKey("emails"))
	assert.Equal(t, "queuekit:emails:completed", b.completedKey("emails"))
	assert.Equal(t, "queuekit:emails:failed", b.failedKey("emails"))
	assert.Equal(t, "queuekit:emails:meta", b.metaKey("emails"))
	assert.Equal(t, "queuekit:emails:job:j1", b.jobKey("emails", "j1"))
	assert.Equal(t, "queuekit:emails:job:j1:logs", b.logsKey("emails", "j1"))
}

func TestKeyLayoutCustomPrefix(t *testing.T) {
	t.Parallel()

	b := &Backend{prefix: "myapp:"}
	assert.Equal(t, "myapp:emails:pending", b.pendingKey("emails"))
}

func TestPriorityScore(t *testing.T) {
	t.Parallel()

	now := time.Now()

	t.Run("higher priority sorts first", func(t *testing.T) {
		t.Parallel()
		assert.Less(t, priorityScore(9, now), priorityScore(1, now))
	})

	t.Run("earlier enqueue breaks ties", func(t *testing.T) {
		t.Parallel()
		later := now.Add(time.Second)
		assert.Less(t, priorityScore(5, now), priorityScore(5, later))
	})

	t.Run("priority dominates time", func(t *testing.T) {
		t.Parallel()
		muchLater := now.Add(24 * time.Hour)
		assert.Less(t, priorityScore(6, muchLater), priorityScore(5, now))
	})
}

func TestSelectByStatus(t *testing.T) {
	t.Parallel()

	// A backing structure can serve more than one status lookup, so
	// candidates must be narrowed by the status stored on each record.
	mixed := []*queue.Job{
		{ID: "d1", Status: queue.StatusDelayed},
		{ID: "r1", Status: queue.StatusRetrying},
		{ID: "d2", Status: queue.StatusDelayed},
		{ID: "r2", Status: queue.StatusRetrying},
	}

	t.Run("keeps only matching records", func(t *testing.T) {
		t.Parallel()

		got := selectByStatus(mixed, queue.StatusRetrying, 0)
		assert.Len(t, got, 2)
		for _, job := range got {
			assert.Equal(t, queue.StatusRetrying, job.Status)
		}
	})

	t.Run("limit applies after filtering", func(t *testing.T) {
		t.Parallel()

		got := selectByStatus(mixed, queue.StatusRetrying, 1)
		assert.Len(t, got, 1)
		assert.Equal(t, "r1", got[0].ID)
	})

	t.Run("zero limit means no limit", func(t *testing.T) {
		t.Parallel()

		got := selectByStatus(mixed, queue.StatusDelayed, 0)
		assert.Len(t, got, 2)
	})
}

func TestDelayedMember(t *testing.T) {
	t.Parallel()

	job := &queue.Job{ID: "j1", Priority: 7}
	assert.Equal(t, "j1|7", delayedMember(job))

	plain := &queue.Job{ID: "j2"}
	assert.Equal(t, "j2|0", delayedMember(plain))
}
