package queue

import "time"

// Config holds the env-driven engine configuration.
type Config struct {
	DefaultQueue    string        `env:"QUEUE_DEFAULT_NAME" envDefault:"default"`
	DefaultRetries  int           `env:"QUEUE_DEFAULT_RETRIES" envDefault:"3"`
	DefaultTimeout  time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"30s"`
	DefaultDelay    time.Duration `env:"QUEUE_DEFAULT_DELAY" envDefault:"0"`
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	ErrorBackoff    time.Duration `env:"QUEUE_ERROR_BACKOFF" envDefault:"5s"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MetricsInterval time.Duration `env:"QUEUE_METRICS_INTERVAL" envDefault:"15s"`
	EventBuffer     int           `env:"QUEUE_EVENT_BUFFER" envDefault:"64"`
}

// Options converts the config into engine options.
func (c Config) Options() []Option {
	return []Option{
		WithDefaultQueue(c.DefaultQueue),
		WithDefaultRetries(c.DefaultRetries),
		WithDefaultTimeout(c.DefaultTimeout),
		WithDefaultDelay(c.DefaultDelay),
		WithPollInterval(c.PollInterval),
		WithErrorBackoff(c.ErrorBackoff),
		WithShutdownTimeout(c.ShutdownTimeout),
		WithMetricsInterval(c.MetricsInterval),
		WithEventBuffer(c.EventBuffer),
	}
}
