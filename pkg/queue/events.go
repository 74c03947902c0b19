package queue

import (
	"context"
	"sync"
	"time"
)

// Event names emitted by the engine.
const (
	EventReady        = "ready"
	EventError        = "error"
	EventJobEnqueued  = "job:enqueued"
	EventJobsEnqueued = "jobs:enqueued"
	EventJobActive    = "job:active"
	EventJobCompleted = "job:completed"
	EventJobFailed    = "job:failed"
	EventJobRetry     = "job:retry"
	EventJobProgress  = "job:progress"
	EventJobRemoved   = "job:removed"
	EventQueuePaused  = "queue:paused"
	EventQueueResumed = "queue:resumed"
	EventQueueEmptied = "queue:emptied"
	EventMetrics      = "metrics"
)

// Event is one lifecycle notification. Which fields are set depends on the
// event name: job events carry Job, jobs:enqueued carries Count, job:retry
// carries Delay, queue:emptied carries Count, error carries Err, metrics
// carries Metrics.
type Event struct {
	Name    string        `json:"name"`
	Queue   string        `json:"queue,omitempty"`
	Job     *Job          `json:"job,omitempty"`
	Count   int64         `json:"count,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	Err     error         `json:"-"`
	Metrics *Metrics      `json:"metrics,omitempty"`
	At      time.Time     `json:"at"`
}

// eventSubscriber is one registered listener with a buffered channel.
type eventSubscriber struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

func (s *eventSubscriber) send(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *eventSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// EventBus fans engine events out to subscribers. Delivery is non-blocking:
// when a subscriber's buffer is full the event is dropped for that subscriber
// rather than stalling a worker loop. All methods are safe for concurrent use.
type EventBus struct {
	subscribers map[*eventSubscriber]struct{}
	bufferSize  int
	closed      bool
	done        chan struct{}
	mu          sync.RWMutex
	cleanupWg   sync.WaitGroup
}

// NewEventBus creates an event bus. A minimum buffer size of 1 is enforced so
// sends stay non-blocking.
func NewEventBus(bufferSize int) *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscriber]struct{}),
		bufferSize:  max(bufferSize, 1),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a listener for all engine events. The subscription is
// cleaned up when ctx is cancelled; the returned channel is closed on
// unsubscribe or bus shutdown.
func (b *EventBus) Subscribe(ctx context.Context) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &eventSubscriber{ch: make(chan Event, b.bufferSize)}
	if b.closed {
		sub.close()
		return sub.ch
	}
	b.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			select {
			case <-ctx.Done():
				b.unsubscribe(sub)
			case <-b.done:
				// Close already shut the subscriber down.
			}
		}()
	}

	return sub.ch
}

// Emit delivers evt to all active subscribers, dropping it for any whose
// buffer is full.
func (b *EventBus) Emit(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for sub := range b.subscribers {
		sub.send(evt)
	}
}

// Close shuts down the bus and closes all subscriber channels. Idempotent.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.close()
	}
	clear(b.subscribers)
	b.mu.Unlock()

	close(b.done)
	b.cleanupWg.Wait()
}

func (b *EventBus) unsubscribe(sub *eventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		sub.close()
	}
}
