package nats

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Default configuration
var (
	// DefaultPrefix is the root subject token.
	DefaultPrefix = "platform_events"

	// DefaultBufferSize is the listener channel size. NATS drops messages
	// for listeners that fall further behind.
	DefaultBufferSize = 1024

	// DefaultMaxLen is the number of entries kept per topic subject.
	DefaultMaxLen int64 = 10000

	// DefaultReplicas is the JetStream stream replica count.
	DefaultReplicas = 1
)

// NotifierOption configures the core NATS notifier
type NotifierOption func(*Notifier)

// WithPrefix sets the root subject token.
func WithPrefix(prefix string) NotifierOption {
	return func(n *Notifier) {
		if prefix != "" {
			n.prefix = prefix
		}
	}
}

// WithBufferSize sets the listener channel size.
func WithBufferSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.bufferSize = size
		}
	}
}

// WithLogger sets the notifier logger.
func WithLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// LogOption configures the JetStream log
type LogOption func(*Log)

// WithLogPrefix sets the root subject token and stream name prefix.
func WithLogPrefix(prefix string) LogOption {
	return func(l *Log) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithMaxLen sets the number of entries kept per topic (MaxMsgsPerSubject).
func WithMaxLen(n int64) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.maxLen = n
		}
	}
}

// WithMaxAge sets the maximum age of log entries. Zero keeps them until
// trimmed by length.
func WithMaxAge(d time.Duration) LogOption {
	return func(l *Log) {
		if d > 0 {
			l.maxAge = d
		}
	}
}

// WithReplicas sets the number of stream replicas.
func WithReplicas(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.replicas = n
		}
	}
}

// WithStorage selects file or memory storage for the stream.
func WithStorage(s jetstream.StorageType) LogOption {
	return func(l *Log) {
		l.storage = s
	}
}

// WithLogLogger sets the log logger.
func WithLogLogger(lg *slog.Logger) LogOption {
	return func(l *Log) {
		if lg != nil {
			l.logger = lg
		}
	}
}
