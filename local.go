package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rbaliyan/eventbus/topic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	busRunning int32 = iota
	busStopped
)

// LocalBus is an in-process Bus.
//
// Identical pattern strings share one bounded channel; each Subscribe call
// adds an independent reader to it. Handlers run on a bounded worker pool
// and are never awaited by Publish.
type LocalBus struct {
	status     int32
	name       string
	opts       *busOptions
	logger     *slog.Logger
	metrics    *busMetrics
	dispatcher *dispatcher
	stats      counters

	mu       sync.RWMutex
	channels map[string]*fanout        // pattern -> channel
	subs     map[string]*Subscription // subscription ID -> subscription
	handlers []registeredHandler
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus creates an in-process bus.
func NewLocalBus(opts ...Option) *LocalBus {
	return newLocalBus(newBusOptions(opts...))
}

func newLocalBus(o *busOptions) *LocalBus {
	var metrics *busMetrics
	if o.metricsEnabled {
		metrics = newBusMetrics(o.name)
	}
	return &LocalBus{
		status:     busRunning,
		name:       o.name,
		opts:       o,
		logger:     o.logger,
		metrics:    metrics,
		dispatcher: newDispatcher(o, metrics),
		channels:   make(map[string]*fanout),
		subs:       make(map[string]*Subscription),
	}
}

func (b *LocalBus) isOpen() bool {
	return atomic.LoadInt32(&b.status) == busRunning
}

// Name returns the bus name.
func (b *LocalBus) Name() string { return b.name }

// Publish delivers ev to matching subscriptions and schedules matching
// handlers. It fails only when the bus is closed or the event topic is
// malformed.
func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	if !b.isOpen() {
		return ErrBusClosed
	}
	t := ev.Topic()
	if err := topic.ValidateTopic(t); err != nil {
		return err
	}

	if b.opts.tracingEnabled {
		var span trace.Span
		ctx, span = b.startPublishSpan(ctx, ev)
		defer span.End()
	}

	b.stats.published.Add(1)
	b.metrics.recordPublished(ctx, t)
	b.Deliver(ctx, ev)
	return nil
}

func (b *LocalBus) startPublishSpan(ctx context.Context, ev Event) (context.Context, trace.Span) {
	return otel.Tracer(b.name).Start(ctx, fmt.Sprintf("%s.publish", ev.Topic()),
		trace.WithAttributes(
			attribute.String(spanKeyEventID, ev.ID()),
			attribute.String(spanKeyEventTopic, ev.Topic()),
			attribute.String(spanKeyEventSource, ev.Source()),
			attribute.String(spanKeyBus, b.name),
		),
		trace.WithSpanKind(trace.SpanKindProducer))
}

// Deliver routes ev to local subscriptions and handlers without counting
// it as published. The distributed listener uses it for events that arrive
// from other processes. It returns the number of deliveries made.
func (b *LocalBus) Deliver(ctx context.Context, ev Event) int {
	if !b.isOpen() {
		return 0
	}
	t := ev.Topic()

	b.mu.RLock()
	var targets []*fanout
	for pattern, f := range b.channels {
		if topic.Matches(pattern, t) {
			targets = append(targets, f)
		}
	}
	var invocations []invocation
	link := trace.SpanContextFromContext(ctx)
	for _, rh := range b.handlers {
		if p, ok := rh.firstMatch(t, topic.Matches); ok {
			invocations = append(invocations, invocation{handler: rh.h, pattern: p, event: ev, link: link})
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, f := range targets {
		if f.send(ev) {
			delivered++
		}
	}

	var dropped int64
	for _, inv := range invocations {
		inv.event = inv.event.clone()
		if b.dispatcher.submit(inv) {
			delivered++
			continue
		}
		dropped++
		b.logger.Warn("handler queue full, invocation dropped",
			"topic", t,
			"pattern", inv.pattern,
			"event_id", ev.ID())
	}

	b.stats.delivered.Add(uint64(delivered))
	b.metrics.recordDelivered(ctx, int64(delivered))
	if dropped > 0 {
		b.stats.dropped.Add(uint64(dropped))
		b.metrics.recordDropped(ctx, dropped, "handler_queue_full")
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, "handler invocations dropped")
		}
	}
	return delivered
}

// Subscribe opens a reader on the channel for pattern, creating the
// channel on first use.
func (b *LocalBus) Subscribe(ctx context.Context, pattern string) (*Subscription, error) {
	if !b.isOpen() {
		return nil, &SubscribeError{Pattern: pattern, Err: ErrBusClosed}
	}
	if err := topic.Validate(pattern); err != nil {
		return nil, &SubscribeError{Pattern: pattern, Err: err}
	}

	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isOpen() {
		return nil, &SubscribeError{Pattern: pattern, Err: ErrBusClosed}
	}

	f, ok := b.channels[pattern]
	if !ok {
		f = newFanout(pattern, b.opts.bufferSize, b.onLag)
		b.channels[pattern] = f
	}
	r, ok := f.addReader(id)
	if !ok {
		return nil, &SubscribeError{Pattern: pattern, Err: ErrChannelClosed}
	}

	sub := &Subscription{id: id, pattern: pattern, r: r, unsubscribe: b.Unsubscribe}
	b.subs[id] = sub
	b.stats.subscriptions.Add(1)

	b.logger.Debug("subscribed", "pattern", pattern, "subscription", id)
	return sub, nil
}

func (b *LocalBus) onLag(n uint64) {
	b.stats.dropped.Add(n)
	b.metrics.recordDropped(context.Background(), int64(n), "subscriber_lagged")
}

// RegisterHandler adds h for all of its patterns.
func (b *LocalBus) RegisterHandler(ctx context.Context, h Handler) error {
	if h == nil {
		return &SubscribeError{Err: ErrNilHandler}
	}
	if !b.isOpen() {
		return &SubscribeError{Err: ErrBusClosed}
	}
	patterns := h.Topics()
	if len(patterns) == 0 {
		return &SubscribeError{Err: fmt.Errorf("%w: handler has no topics", ErrInvalidPattern)}
	}
	for _, p := range patterns {
		if err := topic.Validate(p); err != nil {
			return &SubscribeError{Pattern: p, Err: err}
		}
	}

	b.mu.Lock()
	b.handlers = append(b.handlers, registeredHandler{h: h, patterns: patterns})
	b.mu.Unlock()
	b.stats.handlers.Add(1)

	b.logger.Debug("registered handler", "patterns", patterns, "handler", fmt.Sprintf("%T", h))
	return nil
}

// Unsubscribe closes the subscription with the given ID. A reader blocked
// in Receive returns ErrChannelClosed. Unknown or already removed IDs are
// a no-op.
func (b *LocalBus) Unsubscribe(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return nil
	}
	delete(b.subs, id)

	if f, ok := b.channels[sub.pattern]; ok {
		if f.removeReader(id) == 0 {
			delete(b.channels, sub.pattern)
			f.close()
		}
	}
	b.stats.decSubscriptions()

	b.logger.Debug("unsubscribed", "pattern", sub.pattern, "subscription", id)
	return nil
}

// Stats returns a snapshot of the bus counters.
func (b *LocalBus) Stats() Stats {
	return b.stats.snapshot()
}

// Patterns returns the patterns that currently have a channel.
func (b *LocalBus) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	patterns := make([]string, 0, len(b.channels))
	for p := range b.channels {
		patterns = append(patterns, p)
	}
	return patterns
}

// Close closes every subscription and waits for queued handler invocations
// to finish or ctx to expire. When ctx has no deadline the drain timeout
// applies.
func (b *LocalBus) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.status, busRunning, busStopped) {
		return nil
	}

	b.mu.Lock()
	for pattern, f := range b.channels {
		f.close()
		delete(b.channels, pattern)
	}
	n := len(b.subs)
	clear(b.subs)
	b.mu.Unlock()
	for range n {
		b.stats.decSubscriptions()
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.drainTimeout)
		defer cancel()
	}
	err := b.dispatcher.close(ctx)
	b.logger.Debug("bus closed")
	return err
}

// resetCounters zeroes the monotonic counters.
func (b *LocalBus) resetCounters() {
	b.stats.resetCounters()
}
