package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/rbaliyan/eventbus/transport"
)

// Start opens the notifier stream and runs the listener in the background.
// It is a no-op while a listener is running. After Shutdown it waits for
// the previous listener to exit and starts a new one.
func (b *DistributedBus) Start(ctx context.Context) error {
	if !b.isOpen() {
		return ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		select {
		case <-b.done:
		default:
			if !b.stopping.Load() {
				return nil
			}
			select {
			case <-b.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	stream, err := b.notifier.Listen(ctx)
	if err != nil {
		return &ConnectionError{Op: "listen", Err: err}
	}

	b.stopping.Store(false)
	done := make(chan struct{})
	b.done = done
	go b.listen(stream, done)

	b.local.logger.Debug("listener started", "poll_interval", b.opts.pollInterval)
	return nil
}

// Shutdown asks the listener to stop. The listener notices within one poll
// interval; Shutdown does not wait for it.
func (b *DistributedBus) Shutdown() {
	b.stopping.Store(true)
}

// Listening reports whether a listener goroutine is running.
func (b *DistributedBus) Listening() bool {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// wait blocks until the listener exits or ctx is done.
func (b *DistributedBus) wait(ctx context.Context) error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *DistributedBus) listen(stream transport.Stream, done chan struct{}) {
	defer close(done)
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()

	for !b.stopping.Load() {
		ctx, cancel := context.WithTimeout(b.baseCtx, b.opts.pollInterval)
		n, err := stream.Next(ctx)
		cancel()

		if err == nil {
			b.receive(n)
			continue
		}
		if transport.IsTimeout(err) {
			continue
		}
		if b.stopping.Load() || b.baseCtx.Err() != nil {
			break
		}

		b.local.logger.Error("notification stream failed, reconnecting", "error", err)
		stream.Close()
		if stream = b.reconnect(); stream == nil {
			break
		}
	}
	b.local.logger.Debug("listener stopped")
}

// reconnect reopens the notifier stream, pacing attempts with the limiter
// plus up to a fifth of the reconnect interval of jitter.
// It returns nil once the listener is asked to stop.
func (b *DistributedBus) reconnect() transport.Stream {
	for !b.stopping.Load() {
		if err := b.limiter.Wait(b.baseCtx); err != nil {
			return nil
		}
		if !b.pause(transport.Jitter(b.opts.reconnectInterval/10, 1)) || b.stopping.Load() {
			return nil
		}
		stream, err := b.notifier.Listen(b.baseCtx)
		if err == nil {
			b.local.logger.Info("notification stream reconnected")
			return stream
		}
		if errors.Is(err, transport.ErrTransportClosed) {
			b.local.logger.Error("notifier closed, listener exiting")
			return nil
		}
		b.local.logger.Warn("reconnect failed", "error", err)
	}
	return nil
}

// pause sleeps for d and reports false if the bus closed meanwhile.
func (b *DistributedBus) pause(d time.Duration) bool {
	if d <= 0 {
		return b.baseCtx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-b.baseCtx.Done():
		return false
	}
}

// receive decodes one notification and routes it to local consumers.
// A bad message is logged and dropped; it never stops the listener.
func (b *DistributedBus) receive(n transport.Notification) {
	ev, err := b.codec.Decode(n.Data)
	if err != nil {
		b.local.logger.Warn("dropping undecodable notification",
			"topic", n.Topic,
			"error", &SerializationError{Op: "decode", Err: err})
		b.local.stats.dropped.Add(1)
		b.local.metrics.recordDropped(b.baseCtx, 1, "decode_error")
		return
	}
	b.local.stats.received.Add(1)
	b.local.Deliver(b.baseCtx, ev)
}
