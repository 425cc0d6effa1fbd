// Package nats provides NATS-backed notifier and append log implementations.
//
// The Notifier uses NATS Core pub/sub on "{prefix}.notify.{topic}" with
// at-most-once delivery; listeners subscribe to "{prefix}.notify.>".
//
// The Log stores entries in a JetStream stream on "{prefix}.log.{topic}",
// keeping at most MaxLen entries per topic subject. Cursors are stream
// sequence numbers.
//
//	conn, _ := nats.Connect(url, nats.MaxReconnects(-1))
//	notifier, _ := natstransport.NewNotifier(conn)
//	log, _ := natstransport.NewLog(ctx, conn, natstransport.WithMaxLen(10000))
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/eventbus/topic"
	"github.com/rbaliyan/eventbus/transport"
)

// Errors
var (
	ErrConnRequired    = errors.New("nats connection is required")
	ErrJetStreamFailed = errors.New("failed to create jetstream context")
)

const (
	notifyToken = "notify"
	logToken    = "log"
)

// Notifier implements transport.Notifier with NATS Core pub/sub.
type Notifier struct {
	status     int32
	conn       *nats.Conn
	prefix     string
	bufferSize int
	logger     *slog.Logger
}

// NewNotifier creates a NATS Core notifier. The connection is owned by the
// caller.
func NewNotifier(conn *nats.Conn, opts ...NotifierOption) (*Notifier, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	n := &Notifier{
		status:     1,
		conn:       conn,
		prefix:     DefaultPrefix,
		bufferSize: DefaultBufferSize,
		logger:     transport.Logger("transport>nats"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *Notifier) isOpen() bool {
	return atomic.LoadInt32(&n.status) == 1
}

func (n *Notifier) root() string {
	return n.prefix + topic.Separator + notifyToken
}

// Notify publishes data on the topic subject.
func (n *Notifier) Notify(ctx context.Context, name string, data []byte) error {
	if !n.isOpen() {
		return transport.ErrTransportClosed
	}
	if err := n.conn.Publish(topic.Channel(n.root(), topic.Separator, name), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", name, err)
	}
	return nil
}

// Listen subscribes to every topic under the prefix.
func (n *Notifier) Listen(ctx context.Context) (transport.Stream, error) {
	if !n.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	subject := n.root() + ".>"
	ch := make(chan *nats.Msg, n.bufferSize)
	sub, err := n.conn.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	// Make sure the server has registered interest before returning.
	fctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(fctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	n.logger.Debug("listening", "subject", subject)
	return &coreStream{root: n.root(), sub: sub, ch: ch, closedCh: make(chan struct{})}, nil
}

// Close marks the notifier closed. The connection is owned by the caller.
func (n *Notifier) Close(ctx context.Context) error {
	atomic.StoreInt32(&n.status, 0)
	return nil
}

// Health reports the connection state.
func (n *Notifier) Health(ctx context.Context) *transport.HealthCheckResult {
	return connHealth(n.conn, n.isOpen(), "nats")
}

func connHealth(conn *nats.Conn, open bool, kind string) *transport.HealthCheckResult {
	start := time.Now()
	result := &transport.HealthCheckResult{
		CheckedAt: start,
		Details:   map[string]any{"type": kind},
	}
	if !open {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = "transport is closed"
		result.Latency = time.Since(start)
		return result
	}

	status := conn.Status()
	result.Details["connection"] = status.String()
	switch status {
	case nats.CONNECTED:
		if rtt, err := conn.RTT(); err == nil {
			result.Details["rtt_ms"] = rtt.Milliseconds()
		}
		result.Status = transport.HealthStatusHealthy
		result.Message = kind + " transport is healthy"
	case nats.RECONNECTING, nats.CONNECTING:
		result.Status = transport.HealthStatusDegraded
		result.Message = kind + " connection is reconnecting"
	default:
		result.Status = transport.HealthStatusUnhealthy
		result.Message = kind + " connection is " + strings.ToLower(status.String())
	}
	result.Latency = time.Since(start)
	return result
}

type coreStream struct {
	root     string
	sub      *nats.Subscription
	ch       chan *nats.Msg
	closed   int32
	closedCh chan struct{}
}

func (s *coreStream) Next(ctx context.Context) (transport.Notification, error) {
	for {
		select {
		case msg := <-s.ch:
			name, ok := topic.Strip(s.root, topic.Separator, msg.Subject)
			if !ok {
				continue
			}
			return transport.Notification{Topic: name, Data: msg.Data}, nil
		case <-s.closedCh:
			return transport.Notification{}, transport.ErrStreamClosed
		case <-ctx.Done():
			return transport.Notification{}, ctx.Err()
		}
	}
}

func (s *coreStream) Close() error {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.closedCh)
		return s.sub.Unsubscribe()
	}
	return nil
}

// Compile-time interface checks
var (
	_ transport.Notifier      = (*Notifier)(nil)
	_ transport.HealthChecker = (*Notifier)(nil)
	_ transport.Stream        = (*coreStream)(nil)
)
