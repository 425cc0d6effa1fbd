package eventbus

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/eventbus/topic"
)

var (
	// ErrChannelClosed is returned by Subscription.Receive after the
	// subscription or the bus has been closed.
	ErrChannelClosed = errors.New("subscription channel closed")

	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("event bus closed")

	// ErrInvalidPattern is returned for malformed subscription patterns.
	ErrInvalidPattern = topic.ErrInvalidPattern

	// ErrInvalidTopic is returned when an event's derived topic is malformed.
	ErrInvalidTopic = topic.ErrInvalidTopic

	// ErrNilHandler is returned by RegisterHandler for a nil handler.
	ErrNilHandler = errors.New("handler is nil")

	// ErrLogRequired is returned when a distributed bus has no append log.
	ErrLogRequired = errors.New("append log is required")

	// ErrNotifierRequired is returned when a distributed bus has no notifier.
	ErrNotifierRequired = errors.New("notifier is required")
)

// ConnectionError reports a failure talking to the distributed backend.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SubscribeError reports a subscription or handler registration failure.
type SubscribeError struct {
	Pattern string
	Err     error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %q: %v", e.Pattern, e.Err)
}

func (e *SubscribeError) Unwrap() error {
	return e.Err
}

// SerializationError reports an event or payload encoding failure.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsSubscribeError reports whether err is or wraps a *SubscribeError.
func IsSubscribeError(err error) bool {
	var target *SubscribeError
	return errors.As(err, &target)
}

// IsSerializationError reports whether err is or wraps a *SerializationError.
func IsSerializationError(err error) bool {
	var target *SerializationError
	return errors.As(err, &target)
}
