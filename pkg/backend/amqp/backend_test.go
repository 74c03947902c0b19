package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampPriority(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint8(0), clampPriority(-5))
	assert.Equal(t, uint8(0), clampPriority(0))
	assert.Equal(t, uint8(7), clampPriority(7))
	assert.Equal(t, uint8(MaxPriority), clampPriority(MaxPriority))
	assert.Equal(t, uint8(MaxPriority), clampPriority(100))
}

func TestTopologyNames(t *testing.T) {
	t.Parallel()

	b := &Backend{prefix: DefaultPrefix}

	assert.Equal(t, "queuekit.emails", b.queueName("emails"))
	assert.Equal(t, "queuekit.emails.delayed", b.delayedQueueName("emails"))
	assert.Equal(t, "queuekit.emails.dlx", b.dlxName("emails"))
	assert.Equal(t, "queuekit.emails.dlq", b.dlqName("emails"))
}
