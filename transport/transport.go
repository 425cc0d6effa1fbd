// Package transport defines the backend contracts used by the distributed
// event bus: a per-topic append log for durable replay, and a broadcast
// notifier for cross-process propagation.
//
// Backends (memory, redis, nats, mongodb) import this package rather than
// the parent eventbus package to avoid import cycles.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport errors
var (
	ErrTransportClosed = errors.New("transport closed")
	ErrStreamClosed    = errors.New("notification stream closed")
	ErrInvalidCursor   = errors.New("invalid log cursor")
)

// Entry is one record of a topic's append log.
type Entry struct {
	// ID is the backend cursor of the entry, assigned by Append.
	ID string
	// Topic is the dotted topic the entry was appended to.
	Topic string
	// Timestamp is the event time, stored beside the data so the log can
	// be inspected without decoding it.
	Timestamp time.Time
	// Data is the serialized event.
	Data []byte
}

// Log is a bounded, per-topic, append-only event log.
//
// Backends trim each topic to roughly the configured maximum length; the
// exact number retained may exceed it.
type Log interface {
	// Append adds an entry to e.Topic and returns its cursor.
	Append(ctx context.Context, e Entry) (string, error)

	// Read returns up to count entries of topic positioned strictly after
	// cursor, oldest first. An empty cursor or "0" reads from the start.
	// count <= 0 returns every retained entry.
	Read(ctx context.Context, topic, cursor string, count int) ([]Entry, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Lengther is an optional Log extension reporting retained entry counts.
type Lengther interface {
	Len(ctx context.Context, topic string) (int64, error)
}

// Notification is a broadcast message announcing a published event.
type Notification struct {
	Topic string
	Data  []byte
}

// Notifier broadcasts notifications to every listening process.
// Delivery is at most once: listeners that are not connected when a
// notification is sent never see it.
type Notifier interface {
	// Notify broadcasts data on the channel for topic.
	Notify(ctx context.Context, topic string, data []byte) error

	// Listen opens a stream receiving notifications for every topic under
	// the notifier's prefix.
	Listen(ctx context.Context) (Stream, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Stream yields notifications to a single listener.
type Stream interface {
	// Next waits for the next notification until ctx is done. It returns
	// ctx.Err() on expiry and ErrStreamClosed once the stream is closed.
	Next(ctx context.Context) (Notification, error)

	// Close stops the stream.
	Close() error
}

// IsTimeout reports whether err is a context expiry from Stream.Next.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// HealthStatus represents the health state of a component
type HealthStatus string

const (
	// HealthStatusHealthy indicates the component is functioning normally
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates the component is functioning but with issues
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates the component is not functioning
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult contains detailed health information
type HealthCheckResult struct {
	Status     HealthStatus                  `json:"status"`
	Message    string                        `json:"message,omitempty"`
	Latency    time.Duration                 `json:"latency,omitempty"`
	Details    map[string]any                `json:"details,omitempty"`
	Components map[string]*HealthCheckResult `json:"components,omitempty"`
	CheckedAt  time.Time                     `json:"checked_at"`
}

// IsHealthy returns true if the status is healthy
func (h *HealthCheckResult) IsHealthy() bool {
	return h.Status == HealthStatusHealthy
}

// HealthChecker is implemented by backends that can report their health.
type HealthChecker interface {
	Health(ctx context.Context) *HealthCheckResult
}

// Worst returns the least healthy of the given statuses.
func Worst(statuses ...HealthStatus) HealthStatus {
	worst := HealthStatusHealthy
	for _, s := range statuses {
		switch s {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			worst = HealthStatusDegraded
		}
	}
	return worst
}

// ID generation
var counter uint64

// NewID generates a new unique ID
func NewID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
}

// Logger returns a logger with the given component name
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Jitter adds randomness to a duration to prevent thundering herd.
// Returns a duration between d*(1-factor) and d*(1+factor).
// Factor should be between 0 and 1 (e.g., 0.3 for +/-30% jitter).
func Jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || factor > 1 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + jitter))
}
