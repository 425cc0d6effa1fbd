package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const receiveTimeout = time.Second

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()
	ev, err := sub.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive on %s failed: %v", sub.Pattern(), err)
	}
	return ev
}

func expectEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	if ev, ok, _ := sub.TryReceive(); ok {
		t.Errorf("subscription %s received unexpected event %s", sub.Pattern(), ev)
	}
}

func newTestLocalBus(t *testing.T, opts ...Option) *LocalBus {
	t.Helper()
	bus := TestLocalBus(opts...)
	t.Cleanup(func() { bus.Close(context.Background()) })
	return bus
}

func TestLocalPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)

	items, err := bus.Subscribe(ctx, "svc.item.*")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	other, err := bus.Subscribe(ctx, "svc.other.*")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ev := New("svc", "item.created", []byte(`{"n":1}`))
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := receive(t, items)
	if diff := cmp.Diff(ev, got, eventComparer); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
	expectEmpty(t, items)
	expectEmpty(t, other)
}

func TestLocalEndToEnd(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)

	docs, _ := bus.Subscribe(ctx, "verity.document.*")
	noteman, _ := bus.Subscribe(ctx, "noteman.*")
	before := bus.Stats().Published

	ev, err := NewWithPayload("verity", "document.verified", map[string]float64{"score": 0.92}, nil)
	if err != nil {
		t.Fatalf("NewWithPayload failed: %v", err)
	}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := receive(t, docs)
	p, err := DecodePayload[map[string]float64](got)
	if err != nil || p["score"] != 0.92 {
		t.Errorf("unexpected payload %v (%v)", p, err)
	}
	expectEmpty(t, noteman)
	if n := bus.Stats().Published - before; n != 1 {
		t.Errorf("expected published to grow by 1, got %d", n)
	}
}

func TestLocalSharedChannel(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)

	a, _ := bus.Subscribe(ctx, "svc.#")
	b, _ := bus.Subscribe(ctx, "svc.#")
	c, _ := bus.Subscribe(ctx, "svc.*.*")

	if patterns := bus.Patterns(); len(patterns) != 2 {
		t.Errorf("expected 2 channels for 3 subscriptions on 2 patterns, got %v", patterns)
	}

	for i := range 3 {
		bus.Publish(ctx, New("svc", fmt.Sprintf("item.e%d", i), nil))
	}

	// Each reader sees every event in publish order.
	for _, sub := range []*Subscription{a, b, c} {
		for i := range 3 {
			want := fmt.Sprintf("item.e%d", i)
			if got := receive(t, sub); got.Type() != want {
				t.Errorf("%s: expected %s, got %s", sub.Pattern(), want, got.Type())
			}
		}
	}

	t.Run("closing one reader keeps the shared channel", func(t *testing.T) {
		a.Close(ctx)
		bus.Publish(ctx, New("svc", "item.after", nil))
		if got := receive(t, b); got.Type() != "item.after" {
			t.Errorf("expected item.after, got %s", got.Type())
		}
		if len(bus.Patterns()) != 2 {
			t.Errorf("channel removed while a reader remains: %v", bus.Patterns())
		}
	})

	t.Run("last reader removes the channel", func(t *testing.T) {
		b.Close(ctx)
		if len(bus.Patterns()) != 1 {
			t.Errorf("expected only svc.*.* to remain, got %v", bus.Patterns())
		}
	})
}

func TestLocalStats(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)

	t.Run("published counts every publish", func(t *testing.T) {
		for range 5 {
			bus.Publish(ctx, New("svc", "tick", nil))
		}
		if got := bus.Stats().Published; got != 5 {
			t.Errorf("expected published 5, got %d", got)
		}
		if got := bus.Stats().Delivered; got != 0 {
			t.Errorf("expected no deliveries without consumers, got %d", got)
		}
	})

	t.Run("active subscriptions clamp at zero", func(t *testing.T) {
		var subs []*Subscription
		for range 3 {
			sub, err := bus.Subscribe(ctx, "svc.tick")
			if err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
			subs = append(subs, sub)
		}
		if got := bus.Stats().ActiveSubscriptions; got != 3 {
			t.Fatalf("expected 3 active subscriptions, got %d", got)
		}

		bus.Unsubscribe(ctx, subs[0].ID())
		if got := bus.Stats().ActiveSubscriptions; got != 2 {
			t.Errorf("expected 2 after one unsubscribe, got %d", got)
		}

		bus.Unsubscribe(ctx, subs[0].ID())
		bus.Unsubscribe(ctx, "unknown-id")
		if got := bus.Stats().ActiveSubscriptions; got != 2 {
			t.Errorf("repeated or unknown unsubscribe changed the gauge to %d", got)
		}

		for _, sub := range subs {
			if err := sub.Close(ctx); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		}
		if got := bus.Stats().ActiveSubscriptions; got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
	})

	t.Run("delivered counts channels and handlers", func(t *testing.T) {
		before := bus.Stats().Delivered
		sub, _ := bus.Subscribe(ctx, "svc.#")
		rec := NewRecorder("svc.*")
		bus.RegisterHandler(ctx, rec)

		bus.Publish(ctx, New("svc", "tock", nil))
		receive(t, sub)
		if !rec.WaitFor(1, receiveTimeout) {
			t.Fatal("handler not invoked")
		}
		if got := bus.Stats().Delivered - before; got != 2 {
			t.Errorf("expected 2 deliveries, got %d", got)
		}
		if got := bus.Stats().RegisteredHandlers; got != 1 {
			t.Errorf("expected 1 registered handler, got %d", got)
		}
	})
}

func TestLocalHandlerAtMostOnce(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)

	rec := NewRecorder("a.*", "a.b", "#")
	if err := bus.RegisterHandler(ctx, rec); err != nil {
		t.Fatalf("RegisterHandler failed: %v", err)
	}
	if err := bus.Publish(ctx, New("a", "b", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if !rec.WaitFor(1, receiveTimeout) {
		t.Fatal("handler not invoked")
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.Count(); n != 1 {
		t.Errorf("expected exactly 1 invocation, got %d", n)
	}
}

func TestLocalHandlerNotRetroactive(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)

	bus.Publish(ctx, New("svc", "early", nil))
	rec := NewRecorder("svc.#")
	bus.RegisterHandler(ctx, rec)
	bus.Publish(ctx, New("svc", "late", nil))

	if !rec.WaitFor(1, receiveTimeout) {
		t.Fatal("handler not invoked")
	}
	time.Sleep(50 * time.Millisecond)
	events := rec.Events()
	if len(events) != 1 || events[0].Type() != "late" {
		t.Errorf("expected only the late event, got %v", events)
	}
}

func TestLocalHandlerFailures(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t, WithRecovery(true))

	var calls atomic.Int32
	failing := NewRecorderFunc(func(ctx context.Context, ev Event) error {
		calls.Add(1)
		if ev.Type() == "panic" {
			panic("handler exploded")
		}
		return errors.New("handler failed")
	}, "svc.*")
	healthy := NewRecorder("svc.*")
	bus.RegisterHandler(ctx, failing)
	bus.RegisterHandler(ctx, healthy)

	for _, typ := range []string{"error", "panic", "after"} {
		if err := bus.Publish(ctx, New("svc", typ, nil)); err != nil {
			t.Fatalf("Publish %s returned handler failure: %v", typ, err)
		}
	}

	if !healthy.WaitFor(3, receiveTimeout) || !failing.WaitFor(3, receiveTimeout) {
		t.Fatalf("expected both handlers to see 3 events, got healthy=%d failing=%d", healthy.Count(), failing.Count())
	}
	if calls.Load() != 3 {
		t.Errorf("failing handler should stay registered, got %d calls", calls.Load())
	}
}

func TestLocalHandlerQueueFull(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t, WithHandlerConcurrency(1), WithHandlerQueueSize(1))

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	h := NewHandler(func(ctx context.Context, ev Event) error {
		started <- struct{}{}
		<-release
		return nil
	}, "svc.#")
	bus.RegisterHandler(ctx, h)

	bus.Publish(ctx, New("svc", "one", nil))
	select {
	case <-started:
	case <-time.After(receiveTimeout):
		t.Fatal("first invocation did not start")
	}
	bus.Publish(ctx, New("svc", "two", nil))   // queued
	bus.Publish(ctx, New("svc", "three", nil)) // dropped
	close(release)

	if got := bus.Stats().Dropped; got != 1 {
		t.Errorf("expected 1 dropped invocation, got %d", got)
	}
	if got := bus.Stats().Delivered; got != 2 {
		t.Errorf("expected 2 accepted invocations, got %d", got)
	}
}

func TestLocalGoroutinePerInvocation(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t, WithHandlerConcurrency(0))

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	block := make(chan struct{})
	bus.RegisterHandler(ctx, NewHandler(func(ctx context.Context, ev Event) error {
		wg.Done()
		<-block
		return nil
	}, "svc.#"))

	for range n {
		bus.Publish(ctx, New("svc", "job", nil))
	}

	// Every invocation runs at once even though none has returned.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(receiveTimeout):
		t.Fatal("invocations did not run concurrently")
	}
	close(block)
}

func TestLocalSlowSubscriberDrops(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t, WithBufferSize(2))

	slow, _ := bus.Subscribe(ctx, "svc.#")
	for i := range 5 {
		if err := bus.Publish(ctx, New("svc", fmt.Sprintf("e%d", i), nil)); err != nil {
			t.Fatalf("Publish blocked or failed: %v", err)
		}
	}

	if got := slow.Pending(); got != 2 {
		t.Errorf("expected 2 pending, got %d", got)
	}
	for _, want := range []string{"e3", "e4"} {
		if got := receive(t, slow); got.Type() != want {
			t.Errorf("expected %s, got %s", want, got.Type())
		}
	}
	if slow.Dropped() != 3 {
		t.Errorf("expected 3 dropped for the slow reader, got %d", slow.Dropped())
	}
	if got := bus.Stats().Dropped; got != 3 {
		t.Errorf("expected stats dropped 3, got %d", got)
	}
}

func TestLocalUnsubscribeWakesReceiver(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)
	sub, _ := bus.Subscribe(ctx, "svc.#")

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Unsubscribe(ctx, sub.ID())

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelClosed) {
			t.Errorf("expected ErrChannelClosed, got %v", err)
		}
	case <-time.After(receiveTimeout):
		t.Fatal("Receive did not return after Unsubscribe")
	}
}

func TestLocalReceiveContext(t *testing.T) {
	bus := newTestLocalBus(t)
	sub, _ := bus.Subscribe(context.Background(), "svc.#")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestLocalEventsIterator(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)
	sub, _ := bus.Subscribe(ctx, "svc.#")

	for i := range 3 {
		bus.Publish(ctx, New("svc", fmt.Sprintf("e%d", i), nil))
	}

	iterCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
	defer cancel()
	var got []string
	for ev := range sub.Events(iterCtx) {
		got = append(got, ev.Type())
		if len(got) == 3 {
			break
		}
	}
	if diff := cmp.Diff([]string{"e0", "e1", "e2"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalValidation(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t)

	for _, pattern := range []string{"", "a..b", "a.b*", "a.#x"} {
		_, err := bus.Subscribe(ctx, pattern)
		if !IsSubscribeError(err) || !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Subscribe(%q): expected SubscribeError wrapping ErrInvalidPattern, got %v", pattern, err)
		}
	}

	if err := bus.RegisterHandler(ctx, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
	if err := bus.RegisterHandler(ctx, NewRecorder()); !IsSubscribeError(err) {
		t.Errorf("expected SubscribeError for a handler without topics, got %v", err)
	}
	if err := bus.RegisterHandler(ctx, NewRecorder("ok.*", "bad..pattern")); !IsSubscribeError(err) {
		t.Errorf("expected SubscribeError for an invalid handler pattern, got %v", err)
	}
	if got := bus.Stats().RegisteredHandlers; got != 0 {
		t.Errorf("rejected handlers were counted: %d", got)
	}

	if err := bus.Publish(ctx, New("svc", "*", nil)); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic for wildcard topic, got %v", err)
	}
}

func TestLocalClose(t *testing.T) {
	ctx := context.Background()
	bus := TestLocalBus()

	sub, _ := bus.Subscribe(ctx, "svc.#")
	rec := NewRecorder("svc.#")
	bus.RegisterHandler(ctx, rec)
	bus.Publish(ctx, New("svc", "before", nil))

	if err := bus.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if rec.Count() != 1 {
		t.Errorf("queued invocation not drained before Close returned: %d", rec.Count())
	}
	if _, err := sub.Receive(ctx); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}
	if err := bus.Publish(ctx, New("svc", "after", nil)); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "svc.#"); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed from Subscribe, got %v", err)
	}
	if got := bus.Stats().ActiveSubscriptions; got != 0 {
		t.Errorf("expected no active subscriptions after Close, got %d", got)
	}
	if err := bus.Close(ctx); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestLocalConcurrentPublishAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := newTestLocalBus(t, WithBufferSize(8))
	rec := NewRecorder("load.#")
	bus.RegisterHandler(ctx, rec)

	const publishers, perPublisher = 8, 200
	var wg sync.WaitGroup
	for p := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perPublisher {
				if err := bus.Publish(ctx, New("load", fmt.Sprintf("p%d.e%d", p, i), nil)); err != nil {
					t.Errorf("Publish failed: %v", err)
					return
				}
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				sub, err := bus.Subscribe(ctx, "load.#")
				if err != nil {
					t.Errorf("Subscribe failed: %v", err)
					return
				}
				sub.TryReceive()
				sub.Close(ctx)
			}
		}()
	}
	wg.Wait()

	if got := bus.Stats().Published; got != publishers*perPublisher {
		t.Errorf("expected %d published, got %d", publishers*perPublisher, got)
	}
	if got := bus.Stats().ActiveSubscriptions; got != 0 {
		t.Errorf("expected 0 active subscriptions, got %d", got)
	}
	if !rec.WaitFor(publishers*perPublisher, 5*time.Second) {
		t.Errorf("handler saw %d of %d events", rec.Count(), publishers*perPublisher)
	}
}
