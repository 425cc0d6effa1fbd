package eventbus

import (
	"context"
	"sync/atomic"
)

// Bus is the publish/subscribe surface shared by LocalBus and
// DistributedBus.
type Bus interface {
	// Publish delivers ev to every matching subscription and schedules
	// every matching handler. It never waits for consumers.
	Publish(ctx context.Context, ev Event) error

	// Subscribe opens a read cursor on the channel for pattern.
	Subscribe(ctx context.Context, pattern string) (*Subscription, error)

	// RegisterHandler adds h. It only sees events published afterwards.
	RegisterHandler(ctx context.Context, h Handler) error

	// Unsubscribe removes the subscription with the given ID. Unknown IDs
	// are ignored.
	Unsubscribe(ctx context.Context, id string) error

	// Stats returns a snapshot of the bus counters.
	Stats() Stats

	// Close releases all subscriptions and stops handler workers.
	Close(ctx context.Context) error
}

// Stats is a point-in-time snapshot of bus counters.
//
// Published and Delivered only grow until a DistributedBus resets them.
// Delivered counts one per channel the event was written to plus one per
// handler invocation scheduled. Dropped counts handler invocations
// rejected by a full queue, events a lagging subscriber never saw and
// notifications a DistributedBus listener could not decode.
// Received counts events a DistributedBus listener decoded from the
// notifier, including the process's own publishes.
type Stats struct {
	Published           uint64 `json:"published"`
	Received            uint64 `json:"received"`
	Delivered           uint64 `json:"delivered"`
	Dropped             uint64 `json:"dropped"`
	ActiveSubscriptions int64  `json:"active_subscriptions"`
	RegisteredHandlers  int64  `json:"registered_handlers"`
}

type counters struct {
	published     atomic.Uint64
	received      atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	subscriptions atomic.Int64
	handlers      atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Published:           c.published.Load(),
		Received:            c.received.Load(),
		Delivered:           c.delivered.Load(),
		Dropped:             c.dropped.Load(),
		ActiveSubscriptions: c.subscriptions.Load(),
		RegisteredHandlers:  c.handlers.Load(),
	}
}

// decSubscriptions decrements the subscription gauge without going below
// zero.
func (c *counters) decSubscriptions() {
	for {
		n := c.subscriptions.Load()
		if n <= 0 || c.subscriptions.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// resetCounters zeroes the monotonic counters. Gauges track live state and
// are left alone.
func (c *counters) resetCounters() {
	c.published.Store(0)
	c.received.Store(0)
	c.delivered.Store(0)
	c.dropped.Store(0)
}
