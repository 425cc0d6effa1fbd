// Package payload encodes application data carried in an event payload.
//
// The bus treats payloads as opaque bytes. Publishers pick a Codec, the
// event records the codec's content type, and consumers look the codec up
// again by that content type:
//
//	ev, err := eventbus.NewWithPayload("verity", "document.created", doc, payload.JSON{})
//	...
//	doc, err := eventbus.DecodePayload[Document](ev)
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownContentType is returned when no codec is registered for a content type.
var ErrUnknownContentType = errors.New("unknown payload content type")

// Codec encodes and decodes payload values. Implementations must be safe
// for concurrent use.
type Codec interface {
	// Encode serializes v.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v, which must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type recorded on events.
	ContentType() string
}

// Default returns the JSON codec.
func Default() Codec {
	return JSON{}
}

// JSON implements Codec with encoding/json.
type JSON struct{}

// Encode serializes v as JSON.
func (JSON) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON data into v.
func (JSON) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ContentType returns "application/json".
func (JSON) ContentType() string {
	return "application/json"
}

var _ Codec = JSON{}

var (
	mu       sync.RWMutex
	registry = map[string]Codec{
		JSON{}.ContentType(): JSON{},
	}
)

// Register adds codec to the global registry under its content type,
// replacing any codec already registered for it.
func Register(codec Codec) {
	mu.Lock()
	defer mu.Unlock()
	registry[codec.ContentType()] = codec
}

// Get returns the codec registered for contentType.
func Get(contentType string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[contentType]
	return c, ok
}

// Lookup returns the codec for contentType. An empty content type
// resolves to the default codec.
func Lookup(contentType string) (Codec, error) {
	if contentType == "" {
		return Default(), nil
	}
	if c, ok := Get(contentType); ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
}
