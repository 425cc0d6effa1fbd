// Package memory provides an in-process append log and notifier.
//
// A single Hub can back several distributed buses in one process, which
// makes it the backend of choice for tests and single-binary deployments.
// Nothing is persisted: the log is lost when the process exits.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/eventbus/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Hub implements transport.Log and transport.Notifier in memory.
type Hub struct {
	status     int32
	maxLen     int
	bufferSize int
	logger     *slog.Logger

	mu   sync.RWMutex
	logs map[string]*topicLog

	listeners sync.Map // map[string]*stream

	droppedCounter metric.Int64Counter
}

type topicLog struct {
	seq     uint64
	entries []transport.Entry
	seqs    []uint64
}

type stream struct {
	id       string
	hub      *Hub
	ch       chan transport.Notification
	closed   int32
	closedCh chan struct{}
}

// New creates an in-memory hub.
func New(opts ...Option) *Hub {
	o := newOptions(opts...)
	logger := o.logger
	if logger == nil {
		logger = transport.Logger("transport>memory")
	}

	droppedCounter, _ := otel.Meter("eventbus.transport.memory").Int64Counter("eventbus.transport.memory.dropped",
		metric.WithDescription("Number of notifications dropped because a listener buffer was full"),
		metric.WithUnit("{notification}"),
	)

	return &Hub{
		status:         1,
		maxLen:         o.maxLen,
		bufferSize:     o.bufferSize,
		logger:         logger,
		logs:           make(map[string]*topicLog),
		droppedCounter: droppedCounter,
	}
}

func (h *Hub) isOpen() bool {
	return atomic.LoadInt32(&h.status) == 1
}

// Append adds e to its topic log and trims the log once it exceeds the
// maximum length by a tenth.
func (h *Hub) Append(ctx context.Context, e transport.Entry) (string, error) {
	if !h.isOpen() {
		return "", transport.ErrTransportClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tl, ok := h.logs[e.Topic]
	if !ok {
		tl = &topicLog{}
		h.logs[e.Topic] = tl
	}
	tl.seq++
	e.ID = strconv.FormatUint(tl.seq, 10)
	e.Data = slices.Clone(e.Data)
	tl.entries = append(tl.entries, e)
	tl.seqs = append(tl.seqs, tl.seq)

	if slack := h.maxLen / 10; len(tl.entries) > h.maxLen+slack {
		cut := len(tl.entries) - h.maxLen
		tl.entries = slices.Clone(tl.entries[cut:])
		tl.seqs = slices.Clone(tl.seqs[cut:])
	}
	return e.ID, nil
}

// Read returns up to count entries of topic after cursor.
func (h *Hub) Read(ctx context.Context, topic, cursor string, count int) ([]transport.Entry, error) {
	if !h.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	tl, ok := h.logs[topic]
	if !ok {
		return nil, nil
	}
	start, _ := slices.BinarySearch(tl.seqs, after+1)
	end := len(tl.entries)
	if count > 0 && start+count < end {
		end = start + count
	}
	out := make([]transport.Entry, 0, end-start)
	for _, e := range tl.entries[start:end] {
		e.Data = slices.Clone(e.Data)
		out = append(out, e)
	}
	return out, nil
}

func parseCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return 0, transport.ErrInvalidCursor
	}
	return n, nil
}

// Len returns the number of retained entries for topic.
func (h *Hub) Len(ctx context.Context, topic string) (int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tl, ok := h.logs[topic]; ok {
		return int64(len(tl.entries)), nil
	}
	return 0, nil
}

// Notify delivers data to every open listener without blocking. Listeners
// with a full buffer miss the notification.
func (h *Hub) Notify(ctx context.Context, topic string, data []byte) error {
	if !h.isOpen() {
		return transport.ErrTransportClosed
	}
	n := transport.Notification{Topic: topic, Data: slices.Clone(data)}

	h.listeners.Range(func(_, value any) bool {
		s := value.(*stream)
		if atomic.LoadInt32(&s.closed) == 1 {
			return true
		}
		select {
		case s.ch <- n:
		default:
			h.logger.Debug("listener buffer full, notification dropped", "topic", topic, "listener", s.id)
			if h.droppedCounter != nil {
				h.droppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
			}
		}
		return true
	})
	return nil
}

// Listen opens a notification stream.
func (h *Hub) Listen(ctx context.Context) (transport.Stream, error) {
	if !h.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	s := &stream{
		id:       transport.NewID(),
		hub:      h,
		ch:       make(chan transport.Notification, h.bufferSize),
		closedCh: make(chan struct{}),
	}
	h.listeners.Store(s.id, s)
	h.logger.Debug("added listener", "listener", s.id)
	return s, nil
}

func (s *stream) Next(ctx context.Context) (transport.Notification, error) {
	select {
	case n := <-s.ch:
		return n, nil
	case <-s.closedCh:
		return transport.Notification{}, transport.ErrStreamClosed
	case <-ctx.Done():
		return transport.Notification{}, ctx.Err()
	}
}

func (s *stream) Close() error {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.closedCh)
		s.hub.listeners.Delete(s.id)
	}
	return nil
}

// Close closes every listener and rejects further use.
func (h *Hub) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&h.status, 1, 0) {
		return nil
	}
	h.listeners.Range(func(_, value any) bool {
		value.(*stream).Close()
		return true
	})
	h.logger.Debug("hub closed")
	return nil
}

// Health reports the hub state.
func (h *Hub) Health(ctx context.Context) *transport.HealthCheckResult {
	start := time.Now()
	result := &transport.HealthCheckResult{
		CheckedAt: start,
		Details:   make(map[string]any),
	}
	if !h.isOpen() {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = "hub is closed"
		result.Latency = time.Since(start)
		return result
	}

	var listeners int
	h.listeners.Range(func(_, _ any) bool {
		listeners++
		return true
	})
	h.mu.RLock()
	topics := len(h.logs)
	h.mu.RUnlock()

	result.Status = transport.HealthStatusHealthy
	result.Message = "memory hub is healthy"
	result.Latency = time.Since(start)
	result.Details["type"] = "memory"
	result.Details["topics"] = topics
	result.Details["listeners"] = listeners
	result.Details["max_len"] = h.maxLen
	return result
}

// Compile-time interface checks
var (
	_ transport.Log           = (*Hub)(nil)
	_ transport.Notifier      = (*Hub)(nil)
	_ transport.Lengther      = (*Hub)(nil)
	_ transport.HealthChecker = (*Hub)(nil)
	_ transport.Stream        = (*stream)(nil)
)
