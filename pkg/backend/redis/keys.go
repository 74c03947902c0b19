package redis

// Key naming for queue structures. Other tooling depends on this layout;
// change it only with a migration path.

func (b *Backend) queueRoot(queueName string) string {
	return b.prefix + queueName
}

func (b *Backend) pendingKey(queueName string) string {
	return b.queueRoot(queueName) + ":pending"
}

func (b *Backend) delayedKey(queueName string) string {
	return b.queueRoot(queueName) + ":delayed"
}

func (b *Backend) priorityKey(queueName string) string {
	return b.queueRoot(queueName) + ":priority"
}

func (b *Backend) activeKey(queueName string) string {
	return b.queueRoot(queueName) + ":active"
}

func (b *Backend) completedKey(queueName string) string {
	return b.queueRoot(queueName) + ":completed"
}

func (b *Backend) failedKey(queueName string) string {
	return b.queueRoot(queueName) + ":failed"
}

func (b *Backend) metaKey(queueName string) string {
	return b.queueRoot(queueName) + ":meta"
}

func (b *Backend) jobKey(queueName, jobID string) string {
	return b.queueRoot(queueName) + ":job:" + jobID
}

func (b *Backend) logsKey(queueName, jobID string) string {
	return b.jobKey(queueName, jobID) + ":logs"
}
