package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/eventbus/checkpoint"
	"github.com/rbaliyan/eventbus/topic"
	"github.com/rbaliyan/eventbus/transport"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DistributedBus propagates events between processes.
//
// Publish appends the encoded event to the topic's log and broadcasts it
// through the notifier. Every process runs a listener that decodes
// notifications and routes them through an embedded LocalBus, so a
// process sees its own publishes the same way it sees remote ones.
//
// The log serves Replay only; live delivery is best effort and a process
// that is not listening when an event is published never receives it.
type DistributedBus struct {
	status   int32
	local    *LocalBus
	log      transport.Log
	notifier transport.Notifier
	codec    Codec
	opts     *busOptions

	stopping atomic.Bool
	limiter  *rate.Limiter
	baseCtx  context.Context
	cancel   context.CancelFunc

	mu   sync.Mutex // guards done
	done chan struct{}
}

var _ Bus = (*DistributedBus)(nil)

// NewDistributedBus creates a bus over log and notifier. The bus owns both
// and closes them on Close. A single backend value may serve as both.
//
//	t, _ := redis.New(client)
//	bus, err := eventbus.NewDistributedBus(t, t, eventbus.WithPrefix("relay"))
func NewDistributedBus(log transport.Log, notifier transport.Notifier, opts ...Option) (*DistributedBus, error) {
	if log == nil {
		return nil, ErrLogRequired
	}
	if notifier == nil {
		return nil, ErrNotifierRequired
	}
	o := newBusOptions(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	return &DistributedBus{
		status:   busRunning,
		local:    newLocalBus(o),
		log:      log,
		notifier: notifier,
		codec:    o.codec,
		opts:     o,
		limiter:  rate.NewLimiter(rate.Every(o.reconnectInterval), 1),
		baseCtx:  ctx,
		cancel:   cancel,
	}, nil
}

func (b *DistributedBus) isOpen() bool {
	return atomic.LoadInt32(&b.status) == busRunning
}

// Name returns the bus name.
func (b *DistributedBus) Name() string { return b.local.name }

// Publish encodes ev, appends it to the topic log and broadcasts it.
// Encoding failures are returned as *SerializationError and backend
// failures as *ConnectionError. Local subscribers receive the event
// through the listener.
func (b *DistributedBus) Publish(ctx context.Context, ev Event) error {
	if !b.isOpen() {
		return ErrBusClosed
	}
	name := ev.Topic()
	if err := topic.ValidateTopic(name); err != nil {
		return err
	}

	if b.opts.tracingEnabled {
		var span trace.Span
		ctx, span = b.local.startPublishSpan(ctx, ev)
		defer span.End()
	}

	data, err := b.codec.Encode(ev)
	if err != nil {
		return b.fail(ctx, &SerializationError{Op: "encode " + ev.ID(), Err: err})
	}

	if _, err := b.log.Append(ctx, transport.Entry{
		Topic:     name,
		Timestamp: ev.Timestamp(),
		Data:      data,
	}); err != nil {
		return b.fail(ctx, &ConnectionError{Op: "append " + name, Err: err})
	}

	if err := b.notifier.Notify(ctx, name, data); err != nil {
		return b.fail(ctx, &ConnectionError{Op: "notify " + name, Err: err})
	}

	b.local.stats.published.Add(1)
	b.local.metrics.recordPublished(ctx, name)
	b.local.logger.Debug("published", "topic", name, "event_id", ev.ID())
	return nil
}

func (b *DistributedBus) fail(ctx context.Context, err error) error {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Subscribe starts the listener if needed and opens a local reader on
// pattern. A listener setup failure is returned as *ConnectionError.
func (b *DistributedBus) Subscribe(ctx context.Context, pattern string) (*Subscription, error) {
	if err := topic.Validate(pattern); err != nil {
		return nil, &SubscribeError{Pattern: pattern, Err: err}
	}
	if err := b.Start(ctx); err != nil {
		return nil, err
	}
	return b.local.Subscribe(ctx, pattern)
}

// RegisterHandler registers h locally and starts the listener if needed.
// If the listener cannot start the handler stays registered and the
// *ConnectionError is returned; a later successful Start activates it.
func (b *DistributedBus) RegisterHandler(ctx context.Context, h Handler) error {
	if err := b.local.RegisterHandler(ctx, h); err != nil {
		return err
	}
	return b.Start(ctx)
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *DistributedBus) Unsubscribe(ctx context.Context, id string) error {
	return b.local.Unsubscribe(ctx, id)
}

// Stats returns a snapshot of the bus counters.
func (b *DistributedBus) Stats() Stats {
	return b.local.Stats()
}

// ResetStats zeroes Published, Received, Delivered and Dropped. The
// subscription and handler gauges reflect live state and are kept.
func (b *DistributedBus) ResetStats() {
	b.local.resetCounters()
}

// Replay returns up to max events of topic logged after the since cursor,
// oldest first. An empty or "0" cursor starts at the oldest retained
// entry and max <= 0 returns everything retained. Replay does not touch
// subscriptions or counters. Entries that fail to decode are logged and
// skipped.
func (b *DistributedBus) Replay(ctx context.Context, name, since string, max int) ([]Event, error) {
	events, _, err := b.replay(ctx, name, since, max)
	return events, err
}

// ReplayFrom replays topic for consumerID starting after the cursor saved
// in store, then saves the cursor of the last entry read. Repeated calls
// walk the log forward without returning an event twice.
func (b *DistributedBus) ReplayFrom(ctx context.Context, store checkpoint.Store, consumerID, name string, max int) ([]Event, error) {
	key := checkpoint.Key(consumerID, name)
	since, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	events, last, err := b.replay(ctx, name, since, max)
	if err != nil {
		return nil, err
	}
	if last != "" {
		if err := store.Save(ctx, key, last); err != nil {
			return events, fmt.Errorf("save checkpoint %s: %w", key, err)
		}
	}
	return events, nil
}

// replay also returns the cursor of the last entry read, decodable or not.
func (b *DistributedBus) replay(ctx context.Context, name, since string, max int) ([]Event, string, error) {
	if !b.isOpen() {
		return nil, "", ErrBusClosed
	}
	if err := topic.ValidateTopic(name); err != nil {
		return nil, "", err
	}

	entries, err := b.log.Read(ctx, name, since, max)
	if err != nil {
		if errors.Is(err, transport.ErrInvalidCursor) {
			return nil, "", fmt.Errorf("replay %s from %q: %w", name, since, err)
		}
		return nil, "", &ConnectionError{Op: "replay " + name, Err: err}
	}

	events := make([]Event, 0, len(entries))
	var last string
	for _, e := range entries {
		last = e.ID
		ev, err := b.codec.Decode(e.Data)
		if err != nil {
			b.local.logger.Warn("skipping undecodable log entry",
				"topic", name,
				"cursor", e.ID,
				"error", &SerializationError{Op: "decode", Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, last, nil
}

// Status reports the bus state together with the health of the log and
// notifier when they implement transport.HealthChecker.
func (b *DistributedBus) Status(ctx context.Context) *transport.HealthCheckResult {
	result := &transport.HealthCheckResult{
		CheckedAt:  time.Now(),
		Details:    map[string]any{"bus_name": b.local.name},
		Components: make(map[string]*transport.HealthCheckResult),
	}
	if !b.isOpen() {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = "bus is closed"
		return result
	}

	stats := b.Stats()
	result.Details["listening"] = b.Listening()
	result.Details["active_subscriptions"] = stats.ActiveSubscriptions
	result.Details["registered_handlers"] = stats.RegisteredHandlers
	result.Details["handler_queue_depth"] = b.local.dispatcher.queueDepth()

	statuses := []transport.HealthStatus{transport.HealthStatusHealthy}
	check := func(name string, v any) {
		hc, ok := v.(transport.HealthChecker)
		if !ok {
			return
		}
		h := hc.Health(ctx)
		result.Components[name] = h
		statuses = append(statuses, h.Status)
	}
	check("log", b.log)
	if any(b.notifier) != any(b.log) {
		check("notifier", b.notifier)
	}

	result.Status = transport.Worst(statuses...)
	switch result.Status {
	case transport.HealthStatusUnhealthy:
		result.Message = "transport is unhealthy"
	case transport.HealthStatusDegraded:
		result.Message = "transport is degraded"
	default:
		result.Message = "bus is healthy"
	}
	return result
}

// Health returns nil when the bus is usable, for health probes.
func (b *DistributedBus) Health(ctx context.Context) error {
	status := b.Status(ctx)
	if status.Status == transport.HealthStatusUnhealthy {
		return errors.New(status.Message)
	}
	return nil
}

// Close stops the listener, closes local subscriptions, drains handler
// invocations and closes the log and notifier.
func (b *DistributedBus) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.status, busRunning, busStopped) {
		return nil
	}
	b.Shutdown()
	b.cancel()

	var errs []error
	if err := b.wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.local.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.log.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close log: %w", err))
	}
	if any(b.notifier) != any(b.log) {
		if err := b.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	return errors.Join(errs...)
}
