package eventbus

import (
	"bytes"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/eventbus/payload"
	"github.com/rbaliyan/eventbus/topic"
)

// CurrentVersion is the envelope version stamped on new events.
const CurrentVersion = 1

// Event is an immutable event envelope.
//
// Identity fields (ID, topic, timestamp) are fixed at construction. The
// With* methods return modified copies and never touch the receiver.
type Event struct {
	id            string
	eventType     string
	source        string
	timestamp     time.Time
	orgID         string
	projectID     string
	userID        string
	correlationID string
	version       int
	contentType   string
	payload       []byte
	metadata      map[string]string
}

// EventOption sets optional fields at construction time.
type EventOption func(*Event)

// WithOrg sets the organization ID.
func WithOrg(id string) EventOption {
	return func(e *Event) { e.orgID = id }
}

// WithProject sets the project ID.
func WithProject(id string) EventOption {
	return func(e *Event) { e.projectID = id }
}

// WithUser sets the ID of the user that caused the event.
func WithUser(id string) EventOption {
	return func(e *Event) { e.userID = id }
}

// WithCorrelationID sets the correlation ID used to trace a request across
// applications.
func WithCorrelationID(id string) EventOption {
	return func(e *Event) { e.correlationID = id }
}

// WithMetadata adds a metadata entry.
func WithMetadata(key, value string) EventOption {
	return func(e *Event) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithContentType records the payload content type.
func WithContentType(contentType string) EventOption {
	return func(e *Event) { e.contentType = contentType }
}

// New creates an event with a fresh time-ordered ID and the current time.
// The payload is copied.
func New(source, eventType string, data []byte, opts ...EventOption) Event {
	e := Event{
		id:        newEventID(),
		eventType: eventType,
		source:    source,
		timestamp: time.Now().UTC(),
		version:   CurrentVersion,
		payload:   bytes.Clone(data),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// NewWithPayload encodes v with codec and creates an event carrying it.
// A nil codec uses payload.Default.
func NewWithPayload[T any](source, eventType string, v T, codec payload.Codec, opts ...EventOption) (Event, error) {
	if codec == nil {
		codec = payload.Default()
	}
	data, err := codec.Encode(v)
	if err != nil {
		return Event{}, &SerializationError{Op: "encode payload", Err: err}
	}
	e := New(source, eventType, nil, opts...)
	e.payload = data
	e.contentType = codec.ContentType()
	return e, nil
}

// DecodePayload decodes the event payload into T using the codec registered
// for the event's content type.
func DecodePayload[T any](e Event) (T, error) {
	var v T
	codec, err := payload.Lookup(e.contentType)
	if err != nil {
		return v, &SerializationError{Op: "decode payload", Err: err}
	}
	if err := codec.Decode(e.payload, &v); err != nil {
		return v, &SerializationError{Op: "decode payload", Err: err}
	}
	return v, nil
}

func newEventID() string {
	if u, err := uuid.NewV7(); err == nil {
		return u.String()
	}
	return uuid.NewString()
}

// ID returns the time-sortable unique event ID.
func (e Event) ID() string { return e.id }

// Type returns the event name, e.g. "document.created".
func (e Event) Type() string { return e.eventType }

// Source returns the originating application.
func (e Event) Source() string { return e.source }

// Timestamp returns the creation time.
func (e Event) Timestamp() time.Time { return e.timestamp }

// OrgID returns the organization ID, if any.
func (e Event) OrgID() string { return e.orgID }

// ProjectID returns the project ID, if any.
func (e Event) ProjectID() string { return e.projectID }

// UserID returns the user ID, if any.
func (e Event) UserID() string { return e.userID }

// CorrelationID returns the correlation ID, if any.
func (e Event) CorrelationID() string { return e.correlationID }

// Version returns the envelope version.
func (e Event) Version() int { return e.version }

// ContentType returns the payload content type. Empty means JSON.
func (e Event) ContentType() string { return e.contentType }

// Payload returns a copy of the raw payload.
func (e Event) Payload() []byte { return bytes.Clone(e.payload) }

// Metadata returns a copy of the metadata map.
func (e Event) Metadata() map[string]string { return maps.Clone(e.metadata) }

// MetadataValue returns a single metadata entry.
func (e Event) MetadataValue(key string) (string, bool) {
	v, ok := e.metadata[key]
	return v, ok
}

// Topic returns "{source}.{type}".
func (e Event) Topic() string {
	return topic.Join(e.source, e.eventType)
}

// Category classifies the event by the first segment of its type.
func (e Event) Category() Category {
	return CategoryOf(e.eventType)
}

// WithOrg returns a copy with the organization ID set.
func (e Event) WithOrg(id string) Event {
	c := e.clone()
	c.orgID = id
	return c
}

// WithProject returns a copy with the project ID set.
func (e Event) WithProject(id string) Event {
	c := e.clone()
	c.projectID = id
	return c
}

// WithUser returns a copy with the user ID set.
func (e Event) WithUser(id string) Event {
	c := e.clone()
	c.userID = id
	return c
}

// WithCorrelationID returns a copy with the correlation ID set.
func (e Event) WithCorrelationID(id string) Event {
	c := e.clone()
	c.correlationID = id
	return c
}

// WithMetadata returns a copy with key set to value.
func (e Event) WithMetadata(key, value string) Event {
	c := e.clone()
	if c.metadata == nil {
		c.metadata = make(map[string]string, 1)
	}
	c.metadata[key] = value
	return c
}

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool {
	return e.id == "" && e.eventType == "" && e.source == ""
}

func (e Event) String() string {
	return fmt.Sprintf("Event{id=%s topic=%s}", e.id, e.Topic())
}

// clone copies the metadata map so the copy can be changed independently.
// The payload slice is shared; it is never exposed for writing.
func (e Event) clone() Event {
	e.metadata = maps.Clone(e.metadata)
	return e
}
