package redis

import (
	"log/slog"
)

// Default configuration
var (
	// DefaultPrefix namespaces stream keys and pub/sub channels.
	DefaultPrefix = "platform_events"

	// DefaultMaxLen is the approximate number of entries kept per stream.
	DefaultMaxLen int64 = 10000
)

// Option configures the Redis transport
type Option func(*Transport)

// WithPrefix sets the key and channel namespace.
func WithPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithMaxLen sets the approximate stream length (XADD MAXLEN ~).
func WithMaxLen(n int64) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxLen = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}
