package queue

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring the engine.
type Option func(*engineOptions)

type engineOptions struct {
	defaultQueue    string
	defaultRetries  int
	defaultTimeout  time.Duration
	defaultDelay    time.Duration
	retryStrategy   RetryStrategy
	pollInterval    time.Duration
	errorBackoff    time.Duration
	shutdownTimeout time.Duration
	metricsInterval time.Duration
	eventBuffer     int
	logger          *slog.Logger
}

// WithDefaultQueue sets the queue used when an enqueue call names none.
func WithDefaultQueue(name string) Option {
	return func(o *engineOptions) {
		if name != "" {
			o.defaultQueue = name
		}
	}
}

// WithDefaultRetries sets the per-job retry budget applied when an enqueue
// call does not override it.
func WithDefaultRetries(n int) Option {
	return func(o *engineOptions) {
		if n >= 0 {
			o.defaultRetries = n
		}
	}
}

// WithDefaultTimeout sets the handler execution timeout applied when an
// enqueue call does not override it.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithDefaultDelay sets the enqueue delay applied when an enqueue call does
// not override it.
func WithDefaultDelay(d time.Duration) Option {
	return func(o *engineOptions) {
		if d >= 0 {
			o.defaultDelay = d
		}
	}
}

// WithRetryStrategy replaces the default exponential backoff.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(o *engineOptions) {
		if s != nil {
			o.retryStrategy = s
		}
	}
}

// WithPollInterval sets how long a worker loop sleeps after an empty fetch.
func WithPollInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithErrorBackoff sets how long a worker loop sleeps after a backend
// connectivity error before retrying.
func WithErrorBackoff(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.errorBackoff = d
		}
	}
}

// WithShutdownTimeout sets the grace period Shutdown waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithMetricsInterval sets how often the periodic metrics event is emitted.
// Zero disables the ticker.
func WithMetricsInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d >= 0 {
			o.metricsInterval = d
		}
	}
}

// WithEventBuffer sets the per-subscriber event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithLogger sets the structured logger used by the engine and its workers.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// EnqueueOptions holds the resolved per-job settings. Callers configure them
// through EnqueueOption values; zero fields fall back to engine defaults.
type EnqueueOptions struct {
	ID       string
	Retries  int
	Timeout  time.Duration
	Delay    time.Duration
	Priority int
	Metadata map[string]string

	retriesSet bool
	timeoutSet bool
	delaySet   bool
}

// EnqueueOption is a functional option for a single enqueue call.
type EnqueueOption func(*EnqueueOptions)

// WithJobID sets an explicit job id instead of a generated UUID.
func WithJobID(id string) EnqueueOption {
	return func(o *EnqueueOptions) { o.ID = id }
}

// WithRetries overrides the engine's default retry budget for this job.
func WithRetries(n int) EnqueueOption {
	return func(o *EnqueueOptions) {
		if n >= 0 {
			o.Retries = n
			o.retriesSet = true
		}
	}
}

// WithTimeout overrides the engine's default handler timeout for this job.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		if d > 0 {
			o.Timeout = d
			o.timeoutSet = true
		}
	}
}

// WithDelay makes the job start out delayed by d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		if d >= 0 {
			o.Delay = d
			o.delaySet = true
		}
	}
}

// WithPriority sets the job priority; higher values are fetched first on
// backends that support priority ordering.
func WithPriority(p int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Priority = p }
}

// WithMetadata attaches free-form metadata to the job.
func WithMetadata(md map[string]string) EnqueueOption {
	return func(o *EnqueueOptions) {
		if len(md) > 0 {
			if o.Metadata == nil {
				o.Metadata = make(map[string]string, len(md))
			}
			for k, v := range md {
				o.Metadata[k] = v
			}
		}
	}
}
