package eventbus

import (
	"log/slog"
	"time"
)

// Default configuration values
var (
	// DefaultBufferSize is the capacity of each pattern channel.
	DefaultBufferSize = 1024

	// DefaultHandlerConcurrency is the number of handler workers.
	DefaultHandlerConcurrency = 32

	// DefaultHandlerQueueSize is the number of handler invocations that may
	// wait for a worker before new ones are dropped.
	DefaultHandlerQueueSize = 4096

	// DefaultPrefix namespaces distributed log and notifier names.
	DefaultPrefix = "platform_events"

	// DefaultPollInterval bounds how long the listener waits for a
	// notification before checking for shutdown.
	DefaultPollInterval = time.Second

	// DefaultReconnectInterval paces listener reconnect attempts.
	DefaultReconnectInterval = time.Second
)

// MaxPollInterval is the longest accepted listener poll interval.
const MaxPollInterval = time.Second

type busOptions struct {
	name               string
	logger             *slog.Logger
	bufferSize         int
	handlerConcurrency int
	handlerQueueSize   int
	handlerTimeout     time.Duration
	drainTimeout       time.Duration
	tracingEnabled     bool
	recoveryEnabled    bool
	metricsEnabled     bool

	// distributed only
	codec             Codec
	prefix            string
	pollInterval      time.Duration
	reconnectInterval time.Duration
}

// Option configures a LocalBus or DistributedBus.
type Option func(*busOptions)

func newBusOptions(opts ...Option) *busOptions {
	o := &busOptions{
		name:               "eventbus",
		bufferSize:         DefaultBufferSize,
		handlerConcurrency: DefaultHandlerConcurrency,
		handlerQueueSize:   DefaultHandlerQueueSize,
		drainTimeout:       5 * time.Second,
		tracingEnabled:     true,
		recoveryEnabled:    true,
		metricsEnabled:     true,
		codec:              DefaultCodec(),
		prefix:             DefaultPrefix,
		pollInterval:       DefaultPollInterval,
		reconnectInterval:  DefaultReconnectInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", o.name)
	}
	return o
}

// WithName sets the bus name used for metrics, tracing and logging.
func WithName(name string) Option {
	return func(o *busOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *busOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBufferSize sets the capacity of each pattern channel.
func WithBufferSize(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithHandlerConcurrency sets the number of handler workers. Zero runs
// every invocation in its own goroutine.
func WithHandlerConcurrency(n int) Option {
	return func(o *busOptions) {
		if n >= 0 {
			o.handlerConcurrency = n
		}
	}
}

// WithHandlerQueueSize sets how many handler invocations may wait for a
// worker. Invocations beyond it are dropped and counted.
func WithHandlerQueueSize(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.handlerQueueSize = n
		}
	}
}

// WithHandlerTimeout bounds each handler invocation. Zero means no limit.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *busOptions) {
		if d >= 0 {
			o.handlerTimeout = d
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued handler
// invocations when the caller's context has no deadline.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *busOptions) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithTracing enables or disables OpenTelemetry spans.
func WithTracing(v bool) Option {
	return func(o *busOptions) {
		o.tracingEnabled = v
	}
}

// WithRecovery enables or disables handler panic recovery.
func WithRecovery(v bool) Option {
	return func(o *busOptions) {
		o.recoveryEnabled = v
	}
}

// WithMetrics enables or disables OpenTelemetry counters.
func WithMetrics(v bool) Option {
	return func(o *busOptions) {
		o.metricsEnabled = v
	}
}

// WithCodec sets the event codec used by the distributed bus.
func WithCodec(c Codec) Option {
	return func(o *busOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithPrefix sets the namespace for distributed log and notifier names.
func WithPrefix(prefix string) Option {
	return func(o *busOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithPollInterval sets how long the listener waits for a notification
// before rechecking for shutdown. Values above MaxPollInterval are capped.
func WithPollInterval(d time.Duration) Option {
	return func(o *busOptions) {
		if d > 0 {
			o.pollInterval = min(d, MaxPollInterval)
		}
	}
}

// WithReconnectInterval sets the minimum spacing between listener
// reconnect attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(o *busOptions) {
		if d > 0 {
			o.reconnectInterval = d
		}
	}
}
