package eventbus

import (
	"context"
	"slices"
)

// Handler reacts to events whose topic matches any of its patterns.
//
// A handler is invoked at most once per event, even when several of its
// patterns match. Invocations run concurrently, so implementations must be
// safe for concurrent use. Returned errors are logged; they never reach the
// publisher and never unregister the handler.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
	Topics() []string
}

// HandlerFunc is a function usable as the body of a Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

type funcHandler struct {
	fn       HandlerFunc
	patterns []string
}

func (h *funcHandler) Handle(ctx context.Context, ev Event) error { return h.fn(ctx, ev) }
func (h *funcHandler) Topics() []string                           { return slices.Clone(h.patterns) }

// NewHandler returns a Handler that calls fn for events matching any of
// patterns.
func NewHandler(fn HandlerFunc, patterns ...string) Handler {
	return &funcHandler{fn: fn, patterns: slices.Clone(patterns)}
}

// registeredHandler pairs a handler with the patterns captured at
// registration time.
type registeredHandler struct {
	h        Handler
	patterns []string
}

// firstMatch returns the first pattern matching topic.
func (r registeredHandler) firstMatch(topic string, match func(pattern, topic string) bool) (string, bool) {
	for _, p := range r.patterns {
		if match(p, topic) {
			return p, true
		}
	}
	return "", false
}
