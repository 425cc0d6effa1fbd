package eventbus

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rbaliyan/eventbus/transport"
)

// TestLocalBus creates a LocalBus configured for testing, with recovery,
// tracing and metrics disabled.
func TestLocalBus(opts ...Option) *LocalBus {
	base := []Option{
		WithName("test-bus"),
		WithRecovery(false),
		WithTracing(false),
		WithMetrics(false),
	}
	return NewLocalBus(append(base, opts...)...)
}

// Recorder is a Handler that records every event it handles.
type Recorder struct {
	patterns []string
	fn       HandlerFunc

	mu     sync.Mutex
	events []Event
}

// NewRecorder creates a recording handler for patterns.
func NewRecorder(patterns ...string) *Recorder {
	return &Recorder{patterns: patterns}
}

// NewRecorderFunc creates a recording handler that also calls fn after
// recording each event and returns its error.
func NewRecorderFunc(fn HandlerFunc, patterns ...string) *Recorder {
	return &Recorder{patterns: patterns, fn: fn}
}

// Handle records ev.
func (r *Recorder) Handle(ctx context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	if r.fn != nil {
		return r.fn(ctx, ev)
	}
	return nil
}

// Topics returns the patterns the recorder was created with.
func (r *Recorder) Topics() []string {
	return slices.Clone(r.patterns)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Count returns the number of recorded events
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset clears the recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// WaitFor waits until at least n events were recorded or timeout passes.
// Returns true if the expected count was reached.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.Count() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// FailingNotifier wraps a notifier and fails Notify and Listen on demand.
type FailingNotifier struct {
	transport.Notifier

	mu         sync.Mutex
	notifyErr  error
	listenErr  error
	listenCall int
}

// NewFailingNotifier creates a notifier that delegates to n until told to
// fail. Panics if n is nil.
func NewFailingNotifier(n transport.Notifier) *FailingNotifier {
	if n == nil {
		panic("eventbus: notifier is required for NewFailingNotifier")
	}
	return &FailingNotifier{Notifier: n}
}

// FailNotify makes every Notify return err. A nil err restores delegation.
func (f *FailingNotifier) FailNotify(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyErr = err
}

// FailListen makes every Listen return err. A nil err restores delegation.
func (f *FailingNotifier) FailListen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listenErr = err
}

// ListenCalls returns how many times Listen was called.
func (f *FailingNotifier) ListenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listenCall
}

// Notify fails if configured, otherwise delegates.
func (f *FailingNotifier) Notify(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	err := f.notifyErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Notifier.Notify(ctx, topic, data)
}

// Listen fails if configured, otherwise delegates.
func (f *FailingNotifier) Listen(ctx context.Context) (transport.Stream, error) {
	f.mu.Lock()
	f.listenCall++
	err := f.listenErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Notifier.Listen(ctx)
}
