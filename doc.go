// Package eventbus is a cross-application publish/subscribe event bus.
//
// Applications publish immutable events onto hierarchical topics derived
// from the event's source and type ("verity.document.created"). Consumers
// either subscribe to a topic pattern and read events from a bounded
// channel, or register handlers that run asynchronously for every matching
// event.
//
// Patterns use "*" for exactly one segment and "#" for zero or more
// segments anywhere in the pattern (see package topic).
//
// Two bus implementations are provided:
//
//   - LocalBus delivers within a single process.
//   - DistributedBus adds a durable, replayable per-topic append log and a
//     broadcast notifier so events published in one process reach
//     subscribers in every process sharing the backend.
//
// Basic usage:
//
//	bus := eventbus.NewLocalBus()
//	defer bus.Close(ctx)
//
//	sub, _ := bus.Subscribe(ctx, "verity.#")
//	bus.RegisterHandler(ctx, eventbus.NewHandler(func(ctx context.Context, ev eventbus.Event) error {
//	    slog.Info("document created", "id", ev.ID())
//	    return nil
//	}, "*.document.created"))
//
//	ev, _ := eventbus.NewWithPayload("verity", "document.created", doc, payload.JSON{},
//	    eventbus.WithOrg("org-1"))
//	bus.Publish(ctx, ev)
//
//	got, _ := sub.Receive(ctx)
//
// Delivery is best effort and at most once. Events are dropped when a
// reader lags further behind than the channel capacity, when the handler
// queue is full, or when a process is not listening at publish time; the
// distributed log allows missed events to be replayed.
package eventbus
