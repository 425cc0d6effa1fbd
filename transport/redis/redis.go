// Package redis provides a Redis-backed append log and notifier.
//
// Each topic is a Redis Stream at "{prefix}:stream:{topic}", trimmed
// approximately on every append (XADD MAXLEN ~). Notifications go out on
// the pub/sub channel "{prefix}:{topic}" and listeners pattern-subscribe
// to "{prefix}:*".
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/eventbus/topic"
	"github.com/rbaliyan/eventbus/transport"
	"github.com/redis/go-redis/v9"
)

// Client defines the Redis operations the transport uses.
// *redis.Client and *redis.ClusterClient satisfy it.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
	XLen(ctx context.Context, stream string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// receiver is the part of *redis.PubSub a stream reads from.
type receiver interface {
	Receive(ctx context.Context) (any, error)
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (any, error)
	Close() error
}

// ErrClientRequired is returned when no Redis client is provided
var ErrClientRequired = errors.New("redis client is required")

// Stream entry field names.
const (
	fieldEvent     = "event"
	fieldTopic     = "topic"
	fieldTimestamp = "timestamp"
)

// defaultWait is used by Stream.Next when ctx carries no deadline.
const defaultWait = time.Second

// Transport implements transport.Log and transport.Notifier on Redis.
type Transport struct {
	status int32
	client Client
	prefix string
	maxLen int64
	logger *slog.Logger

	psubscribe func(ctx context.Context, pattern string) receiver
}

// New creates a Redis transport with a pre-initialized client.
func New(client Client, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	t := &Transport{
		status: 1,
		client: client,
		prefix: DefaultPrefix,
		maxLen: DefaultMaxLen,
		logger: transport.Logger("transport>redis"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.psubscribe = func(ctx context.Context, pattern string) receiver {
		return t.client.PSubscribe(ctx, pattern)
	}
	return t, nil
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

func (t *Transport) streamKey(name string) string {
	return topic.Channel(t.prefix+":stream", ":", name)
}

func (t *Transport) channel(name string) string {
	return topic.Channel(t.prefix, ":", name)
}

// Append adds e to the topic stream with approximate trimming.
func (t *Transport) Append(ctx context.Context, e transport.Entry) (string, error) {
	if !t.isOpen() {
		return "", transport.ErrTransportClosed
	}
	id, err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.streamKey(e.Topic),
		MaxLen: t.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldEvent:     e.Data,
			fieldTopic:     e.Topic,
			fieldTimestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", e.Topic, err)
	}
	return id, nil
}

// Read returns up to count stream entries after cursor. It never blocks.
func (t *Transport) Read(ctx context.Context, name, cursor string, count int) ([]transport.Entry, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if cursor == "" {
		cursor = "0"
	}
	args := &redis.XReadArgs{
		Streams: []string{t.streamKey(name), cursor},
		Block:   -1,
	}
	if count > 0 {
		args.Count = int64(count)
	}

	streams, err := t.client.XRead(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread %s: %w", name, err)
	}

	var entries []transport.Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			e, ok := entryFromMessage(name, msg)
			if !ok {
				t.logger.Warn("skipping stream entry without event data", "topic", name, "id", msg.ID)
				continue
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func entryFromMessage(name string, msg redis.XMessage) (transport.Entry, bool) {
	e := transport.Entry{ID: msg.ID, Topic: name}
	switch v := msg.Values[fieldEvent].(type) {
	case string:
		e.Data = []byte(v)
	case []byte:
		e.Data = v
	default:
		return e, false
	}
	if v, ok := msg.Values[fieldTopic].(string); ok && v != "" {
		e.Topic = v
	}
	if v, ok := msg.Values[fieldTimestamp].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.Timestamp = ts
		}
	}
	return e, true
}

// Len returns the stream length for topic.
func (t *Transport) Len(ctx context.Context, name string) (int64, error) {
	return t.client.XLen(ctx, t.streamKey(name)).Result()
}

// Notify publishes data on the topic's pub/sub channel.
func (t *Transport) Notify(ctx context.Context, name string, data []byte) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if err := t.client.Publish(ctx, t.channel(name), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// Listen pattern-subscribes to every channel under the prefix.
func (t *Transport) Listen(ctx context.Context) (transport.Stream, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	pattern := t.prefix + ":*"
	r := t.psubscribe(ctx, pattern)
	if r == nil {
		return nil, fmt.Errorf("psubscribe %s: no subscription", pattern)
	}
	// PSubscribe does not wait for the server; the first reply is the
	// subscription confirmation.
	if _, err := r.Receive(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	t.logger.Debug("listening", "pattern", pattern)
	return &stream{t: t, r: r}, nil
}

// Close marks the transport closed. The client is owned by the caller.
func (t *Transport) Close(ctx context.Context) error {
	atomic.StoreInt32(&t.status, 0)
	return nil
}

// Health pings Redis.
func (t *Transport) Health(ctx context.Context) *transport.HealthCheckResult {
	start := time.Now()

	result := &transport.HealthCheckResult{
		CheckedAt: start,
		Details:   map[string]any{"type": "redis", "prefix": t.prefix},
	}

	if !t.isOpen() {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = "transport is closed"
		result.Latency = time.Since(start)
		return result
	}

	err := t.client.Ping(ctx).Err()
	result.Latency = time.Since(start)
	if err != nil {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = fmt.Sprintf("redis ping failed: %v", err)
		result.Details["ping_error"] = err.Error()
		return result
	}

	result.Status = transport.HealthStatusHealthy
	result.Message = "redis transport is healthy"
	result.Details["ping_latency_ms"] = result.Latency.Milliseconds()
	result.Details["max_len"] = t.maxLen
	return result
}

type stream struct {
	t      *Transport
	r      receiver
	closed int32
}

// Next waits for the next pub/sub message. Subscription confirmations and
// pongs are skipped; channels outside the prefix are ignored.
func (s *stream) Next(ctx context.Context) (transport.Notification, error) {
	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return transport.Notification{}, transport.ErrStreamClosed
		}
		if err := ctx.Err(); err != nil {
			return transport.Notification{}, err
		}

		wait := defaultWait
		if deadline, ok := ctx.Deadline(); ok {
			wait = time.Until(deadline)
			if wait <= 0 {
				return transport.Notification{}, context.DeadlineExceeded
			}
		}

		msg, err := s.r.ReceiveTimeout(ctx, wait)
		if err != nil {
			if isTimeout(err) {
				return transport.Notification{}, context.DeadlineExceeded
			}
			if atomic.LoadInt32(&s.closed) == 1 || errors.Is(err, redis.ErrClosed) {
				return transport.Notification{}, transport.ErrStreamClosed
			}
			return transport.Notification{}, err
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		name, ok := topic.Strip(s.t.prefix, ":", m.Channel)
		if !ok {
			continue
		}
		return transport.Notification{Topic: name, Data: []byte(m.Payload)}, nil
	}
}

func (s *stream) Close() error {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return s.r.Close()
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Compile-time interface checks
var (
	_ transport.Log           = (*Transport)(nil)
	_ transport.Notifier      = (*Transport)(nil)
	_ transport.Lengther      = (*Transport)(nil)
	_ transport.HealthChecker = (*Transport)(nil)
	_ transport.Stream        = (*stream)(nil)
	_ Client                  = (*redis.Client)(nil)
	_ receiver                = (*redis.PubSub)(nil)
)
