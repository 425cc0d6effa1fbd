package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	spanKeyEventID     = "event.id"
	spanKeyEventTopic  = "event.topic"
	spanKeyEventSource = "event.source"
	spanKeyPattern     = "event.pattern"
	spanKeyBus         = "event.bus"
)

// invocation is one scheduled handler call.
type invocation struct {
	handler Handler
	pattern string
	event   Event
	link    trace.SpanContext
}

// dispatcher runs handler invocations on a bounded worker pool. Submission
// never blocks: when the queue is full the invocation is rejected. With
// zero workers every invocation gets its own goroutine.
type dispatcher struct {
	name     string
	logger   *slog.Logger
	metrics  *busMetrics
	timeout  time.Duration
	recovery bool
	tracing  bool

	mu     sync.RWMutex // guards closed and queue close
	closed bool
	queue  chan invocation
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

func newDispatcher(o *busOptions, metrics *busMetrics) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		name:     o.name,
		logger:   o.logger,
		metrics:  metrics,
		timeout:  o.handlerTimeout,
		recovery: o.recoveryEnabled,
		tracing:  o.tracingEnabled,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	if o.handlerConcurrency > 0 {
		d.queue = make(chan invocation, o.handlerQueueSize)
		for range o.handlerConcurrency {
			d.wg.Add(1)
			go d.worker()
		}
	}
	return d
}

// submit schedules inv and reports whether it was accepted.
func (d *dispatcher) submit(inv invocation) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	if d.queue == nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.invoke(inv)
		}()
		return true
	}
	select {
	case d.queue <- inv:
		return true
	default:
		return false
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for inv := range d.queue {
		d.invoke(inv)
	}
}

func (d *dispatcher) invoke(inv invocation) {
	ctx := d.baseCtx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	topic := inv.event.Topic()
	if d.tracing {
		var span trace.Span
		ctx, span = otel.Tracer(d.name).Start(ctx, fmt.Sprintf("%s.handle", topic),
			trace.WithAttributes(
				attribute.String(spanKeyEventID, inv.event.ID()),
				attribute.String(spanKeyEventTopic, topic),
				attribute.String(spanKeyEventSource, inv.event.Source()),
				attribute.String(spanKeyPattern, inv.pattern),
				attribute.String(spanKeyBus, d.name),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithLinks(trace.Link{SpanContext: inv.link}),
		)
		defer span.End()
	}

	if d.recovery {
		defer func() {
			if r := recover(); r != nil {
				d.metrics.recordHandlerError(ctx, topic)
				d.logger.Error("handler panic recovered",
					"topic", topic,
					"pattern", inv.pattern,
					"event_id", inv.event.ID(),
					"handler", fmt.Sprintf("%T", inv.handler),
					"error", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
	}

	if err := inv.handler.Handle(ctx, inv.event); err != nil {
		d.metrics.recordHandlerError(ctx, topic)
		d.logger.Error("handler error",
			"topic", topic,
			"pattern", inv.pattern,
			"event_id", inv.event.ID(),
			"handler", fmt.Sprintf("%T", inv.handler),
			"error", err,
		)
	}
}

// close stops accepting invocations and waits for queued ones to finish.
// When ctx expires first, running handlers see their context cancelled.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.queue != nil {
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// queueDepth returns the number of invocations waiting for a worker.
func (d *dispatcher) queueDepth() int {
	if d.queue == nil {
		return 0
	}
	return len(d.queue)
}
