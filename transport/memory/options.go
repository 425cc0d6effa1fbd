package memory

import (
	"log/slog"
)

// Default configuration values
var (
	// DefaultMaxLen is the approximate number of entries kept per topic.
	DefaultMaxLen = 10000

	// DefaultBufferSize is the notification buffer of each listener.
	DefaultBufferSize = 1024
)

type options struct {
	maxLen     int
	bufferSize int
	logger     *slog.Logger
}

// Option configures the in-memory hub.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		maxLen:     DefaultMaxLen,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMaxLen sets the approximate per-topic log length.
func WithMaxLen(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLen = n
		}
	}
}

// WithBufferSize sets the notification buffer size of each listener.
// Notifications sent to a full listener are dropped.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
