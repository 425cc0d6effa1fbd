package eventbus

import (
	"context"
	"iter"
)

// Subscription is a read cursor on the bounded channel of one pattern.
// Subscriptions that share a pattern string share the channel but read
// independently: each sees every event published after it subscribed.
type Subscription struct {
	id          string
	pattern     string
	r           *reader
	unsubscribe func(ctx context.Context, id string) error
}

// ID returns the subscription ID used with Unsubscribe.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() string { return s.pattern }

// Receive blocks until the next event arrives. It returns ErrChannelClosed
// once the subscription has been removed or the bus closed, and ctx.Err()
// when ctx is done first.
func (s *Subscription) Receive(ctx context.Context) (Event, error) {
	return s.r.receive(ctx)
}

// TryReceive returns the next buffered event without blocking.
func (s *Subscription) TryReceive() (Event, bool, error) {
	return s.r.tryReceive()
}

// Events iterates received events until the subscription closes or ctx is
// done.
//
//	for ev := range sub.Events(ctx) {
//	    ...
//	}
func (s *Subscription) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := s.r.receive(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Pending returns the number of buffered events not yet received.
func (s *Subscription) Pending() int { return s.r.pending() }

// Dropped returns how many events this subscription missed by lagging
// behind the channel capacity.
func (s *Subscription) Dropped() uint64 { return s.r.dropped.Load() }

// Close unsubscribes.
func (s *Subscription) Close(ctx context.Context) error {
	return s.unsubscribe(ctx, s.id)
}
