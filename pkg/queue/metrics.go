package queue

import (
	"sync"
	"sync/atomic"
)

// Metrics is a point-in-time snapshot of engine counters. Processed, Failed,
// Retried, Enqueued, and Delayed are cumulative since engine start; Active is
// the number of jobs currently executing.
type Metrics struct {
	Processed int64          `json:"processed"`
	Failed    int64          `json:"failed"`
	Retried   int64          `json:"retried"`
	Active    int64          `json:"active"`
	Enqueued  int64          `json:"enqueued"`
	Delayed   int64          `json:"delayed"`
	Workers   map[string]int `json:"workers"`
}

// metrics tracks global engine counters. Counter fields use atomics so worker
// loops never contend on a lock in the hot path; the workers map is guarded
// separately because it changes only on Process/pause/resume/shutdown.
type metrics struct {
	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	active    atomic.Int64
	enqueued  atomic.Int64
	delayed   atomic.Int64

	mu      sync.RWMutex
	workers map[string]int
}

func newMetrics() *metrics {
	return &metrics{workers: make(map[string]int)}
}

func (m *metrics) addWorkers(queueName string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[queueName] += n
	if m.workers[queueName] <= 0 {
		delete(m.workers, queueName)
	}
}

func (m *metrics) snapshot() *Metrics {
	m.mu.RLock()
	workers := make(map[string]int, len(m.workers))
	for q, n := range m.workers {
		workers[q] = n
	}
	m.mu.RUnlock()

	return &Metrics{
		Processed: m.processed.Load(),
		Failed:    m.failed.Load(),
		Retried:   m.retried.Load(),
		Active:    m.active.Load(),
		Enqueued:  m.enqueued.Load(),
		Delayed:   m.delayed.Load(),
		Workers:   workers,
	}
}
