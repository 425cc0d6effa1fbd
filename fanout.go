package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// fanout is a bounded broadcast channel shared by every subscription to
// one pattern string. Each reader keeps its own cursor into a ring buffer.
// Writers never block: a reader that falls more than capacity events
// behind loses the oldest ones.
type fanout struct {
	pattern string
	onDrop  func(n uint64)

	mu      sync.Mutex
	buf     []Event
	head    uint64 // sequence number of the next write
	readers map[string]*reader
	closed  bool
	wake    chan struct{} // closed and replaced on every write
}

type reader struct {
	id      string
	f       *fanout
	next    uint64
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

func newFanout(pattern string, capacity int, onDrop func(uint64)) *fanout {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &fanout{
		pattern: pattern,
		onDrop:  onDrop,
		buf:     make([]Event, capacity),
		readers: make(map[string]*reader),
		wake:    make(chan struct{}),
	}
}

// send appends ev. It reports false when the channel is already closed.
func (f *fanout) send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.buf[f.head%uint64(len(f.buf))] = ev
	f.head++
	close(f.wake)
	f.wake = make(chan struct{})
	return true
}

// addReader registers a reader positioned after the latest event.
func (f *fanout) addReader(id string) (*reader, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	r := &reader{id: id, f: f, next: f.head, done: make(chan struct{})}
	f.readers[id] = r
	return r, true
}

// removeReader closes the reader and returns how many readers remain.
func (f *fanout) removeReader(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.readers[id]; ok {
		delete(f.readers, id)
		r.closeLocked()
	}
	return len(f.readers)
}

// close closes every reader. Later sends are ignored.
func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, r := range f.readers {
		r.closeLocked()
		delete(f.readers, id)
	}
	clear(f.buf)
}

func (r *reader) closeLocked() {
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

// nextLocked returns the next event for r, or false when nothing is pending.
// f.mu must be held.
func (r *reader) nextLocked() (Event, bool) {
	f := r.f
	if r.next >= f.head {
		return Event{}, false
	}
	capacity := uint64(len(f.buf))
	if f.head-r.next > capacity {
		skipped := f.head - capacity - r.next
		r.dropped.Add(skipped)
		if f.onDrop != nil {
			f.onDrop(skipped)
		}
		r.next = f.head - capacity
	}
	ev := f.buf[r.next%capacity]
	r.next++
	return ev.clone(), true
}

// receive blocks until an event is available, the reader is closed, or
// ctx is done.
func (r *reader) receive(ctx context.Context) (Event, error) {
	for {
		r.f.mu.Lock()
		if r.closed {
			r.f.mu.Unlock()
			return Event{}, ErrChannelClosed
		}
		if ev, ok := r.nextLocked(); ok {
			r.f.mu.Unlock()
			return ev, nil
		}
		wake := r.f.wake
		r.f.mu.Unlock()

		select {
		case <-wake:
		case <-r.done:
			return Event{}, ErrChannelClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// tryReceive returns a pending event without blocking.
func (r *reader) tryReceive() (Event, bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.closed {
		return Event{}, false, ErrChannelClosed
	}
	ev, ok := r.nextLocked()
	return ev, ok, nil
}

// pending returns the number of buffered events r has not read, capped at
// the channel capacity.
func (r *reader) pending() int {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	n := r.f.head - r.next
	if capacity := uint64(len(r.f.buf)); n > capacity {
		n = capacity
	}
	return int(n)
}
