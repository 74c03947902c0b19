package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestNewRequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.Error(t, err)
}

func TestTopicNames(t *testing.T) {
	t.Parallel()

	b := &Backend{prefix: DefaultPrefix}
	assert.Equal(t, "queuekit.emails", b.topic("emails"))
	assert.Equal(t, "queuekit.emails.dlq", b.dlqTopic("emails"))
}

func TestJobMessage(t *testing.T) {
	t.Parallel()

	after := time.Now().Add(time.Hour).UTC()
	job := &queue.Job{
		ID:           "j1",
		Queue:        "emails",
		Data:         json.RawMessage(`{"to":"user@example.com"}`),
		Priority:     5,
		Attempts:     2,
		Status:       queue.StatusDelayed,
		ProcessAfter: &after,
	}

	msg, err := jobMessage("queuekit.emails", job)
	require.NoError(t, err)

	assert.Equal(t, "queuekit.emails", msg.Topic)
	assert.Equal(t, []byte("j1"), msg.Key)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "5", headers[headerPriority])
	assert.Equal(t, "2", headers[headerAttempts])
	assert.Equal(t, after.Format(time.RFC3339Nano), headers[headerProcessAfter])

	var decoded queue.Job
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Data, decoded.Data)
}

func TestFetchJobSuspendedWhileMessageHeld(t *testing.T) {
	t.Parallel()

	b, err := New([]string{"localhost:9092"})
	require.NoError(t, err)

	due := time.Now().Add(time.Hour)
	job := &queue.Job{ID: "j1", Queue: "emails", Status: queue.StatusDelayed, ProcessAfter: &due}
	b.heldMsg["emails"] = []held{{job: job, due: due}}

	// The held message is not due, so the fetch must return empty without
	// reading further from the log; no reader may be opened.
	got, err := b.FetchJob(context.Background(), "emails")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, b.readers, "no log read while a held message is pending")
	assert.Len(t, b.heldMsg["emails"], 1, "held message stays buffered")
}

func TestFetchJobReturnsHeldMessageWhenDue(t *testing.T) {
	t.Parallel()

	b, err := New([]string{"localhost:9092"})
	require.NoError(t, err)

	due := time.Now().Add(-time.Second)
	job := &queue.Job{ID: "j1", Queue: "emails", Status: queue.StatusDelayed, ProcessAfter: &due}
	b.heldMsg["emails"] = []held{{job: job, due: due}}

	got, err := b.FetchJob(context.Background(), "emails")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j1", got.ID)
	assert.Equal(t, queue.StatusActive, got.Status)
	assert.Nil(t, got.ProcessAfter)

	assert.Empty(t, b.heldMsg["emails"])
	_, ok := b.pending["j1"]
	assert.True(t, ok, "claimed message becomes in-flight")
}

func TestJobMessageWithoutDelay(t *testing.T) {
	t.Parallel()

	job := &queue.Job{ID: "j1", Queue: "emails", Status: queue.StatusPending}
	msg, err := jobMessage("queuekit.emails", job)
	require.NoError(t, err)

	for _, h := range msg.Headers {
		assert.NotEqual(t, headerProcessAfter, h.Key, "no processAfter header for immediate jobs")
	}
}
