// Package queue implements a job queue engine that decouples task submission
// from task execution. Jobs carry opaque JSON payloads plus engine-managed
// metadata (attempts, priority, delay, timeout) and move through a fixed
// state machine:
//
//	pending|delayed -> active -> completed
//	active -> retrying -> pending|delayed -> active -> ...
//	active -> failed (dead-letter enqueued)
//
// The engine is transport-agnostic: all storage and delivery goes through the
// Backend interface, with interchangeable implementations under pkg/backend
// (in-memory, Redis sorted structures, AMQP broker, Kafka log). Retry with
// exponential backoff, delayed execution, priority ordering, and dead-letter
// routing behave identically across backends; capabilities a transport cannot
// express (random access on broker and log backends) surface as
// ErrUnsupported rather than degrading silently.
//
// Basic usage:
//
//	engine, err := queue.New(backend, queue.WithDefaultRetries(5))
//	if err != nil { ... }
//	if err := engine.Initialize(ctx); err != nil { ... }
//
//	job, err := engine.Enqueue(ctx, "emails", payload,
//		queue.WithPriority(5),
//		queue.WithDelay(time.Minute))
//
//	err = engine.Process("emails", 4, func(ctx context.Context, job *queue.JobContext) error {
//		var p EmailPayload
//		if err := job.Unmarshal(&p); err != nil {
//			return err
//		}
//		_ = job.Progress(ctx, 50)
//		return send(ctx, p)
//	})
//
// Lifecycle events (job:enqueued, job:completed, job:retry, job:failed,
// queue:paused, periodic metrics, ...) are delivered through Subscribe;
// delivery is non-blocking and drops events for slow subscribers.
package queue
