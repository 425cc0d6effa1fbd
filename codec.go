package eventbus

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec errors
var (
	ErrEncodeFailure = errors.New("failed to encode event")
	ErrDecodeFailure = errors.New("failed to decode event")
)

// Codec serializes whole events for the distributed log and notifier.
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(e Event) ([]byte, error)
	Decode(data []byte) (Event, error)
	// Name returns a short identifier such as "json".
	Name() string
}

// DefaultCodec returns the JSON codec.
func DefaultCodec() Codec {
	return JSONCodec{}
}

// JSONCodec encodes events as JSON objects. A JSON payload already in the
// compact, HTML-escaped form encoding/json writes is embedded under
// "payload" so other applications can read it; any other payload is base64
// encoded under "payload_b64". Either way Decode returns the original bytes.
type JSONCodec struct{}

type jsonEvent struct {
	ID            string            `json:"id"`
	Type          string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	OrgID         string            `json:"org_id,omitempty"`
	ProjectID     string            `json:"project_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Version       int               `json:"version"`
	ContentType   string            `json:"content_type,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	PayloadB64    []byte            `json:"payload_b64,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Encode serializes e as JSON.
func (JSONCodec) Encode(e Event) ([]byte, error) {
	je := jsonEvent{
		ID:            e.id,
		Type:          e.eventType,
		Source:        e.source,
		Timestamp:     e.timestamp,
		OrgID:         e.orgID,
		ProjectID:     e.projectID,
		UserID:        e.userID,
		CorrelationID: e.correlationID,
		Version:       e.version,
		ContentType:   e.contentType,
		Metadata:      e.metadata,
	}
	isJSON := e.contentType == "" || e.contentType == "application/json"
	if len(e.payload) > 0 {
		if isJSON && embeddable(e.payload) {
			je.Payload = e.payload
		} else {
			je.PayloadB64 = e.payload
		}
	}
	data, err := json.Marshal(je)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// embeddable reports whether json.Marshal would write p unchanged when
// embedded as a json.RawMessage.
func embeddable(p []byte) bool {
	var compact bytes.Buffer
	if err := json.Compact(&compact, p); err != nil {
		return false
	}
	var escaped bytes.Buffer
	json.HTMLEscape(&escaped, compact.Bytes())
	return bytes.Equal(escaped.Bytes(), p)
}

// Decode parses a JSON event.
func (JSONCodec) Decode(data []byte) (Event, error) {
	var je jsonEvent
	if err := json.Unmarshal(data, &je); err != nil {
		return Event{}, errors.Join(ErrDecodeFailure, err)
	}
	if je.ID == "" {
		return Event{}, errors.Join(ErrDecodeFailure, errors.New("missing event id"))
	}
	e := Event{
		id:            je.ID,
		eventType:     je.Type,
		source:        je.Source,
		timestamp:     je.Timestamp,
		orgID:         je.OrgID,
		projectID:     je.ProjectID,
		userID:        je.UserID,
		correlationID: je.CorrelationID,
		version:       je.Version,
		contentType:   je.ContentType,
		metadata:      je.Metadata,
	}
	switch {
	case len(je.PayloadB64) > 0:
		e.payload = je.PayloadB64
	case len(je.Payload) > 0:
		e.payload = []byte(je.Payload)
	}
	return e, nil
}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// MsgPackCodec encodes events as MessagePack, carrying the payload as raw
// bytes.
type MsgPackCodec struct{}

type msgpackEvent struct {
	ID            string            `msgpack:"id"`
	Type          string            `msgpack:"event_type"`
	Source        string            `msgpack:"source"`
	Timestamp     time.Time         `msgpack:"timestamp"`
	OrgID         string            `msgpack:"org_id,omitempty"`
	ProjectID     string            `msgpack:"project_id,omitempty"`
	UserID        string            `msgpack:"user_id,omitempty"`
	CorrelationID string            `msgpack:"correlation_id,omitempty"`
	Version       int               `msgpack:"version"`
	ContentType   string            `msgpack:"content_type,omitempty"`
	Payload       []byte            `msgpack:"payload,omitempty"`
	Metadata      map[string]string `msgpack:"metadata,omitempty"`
}

// Encode serializes e as MessagePack.
func (MsgPackCodec) Encode(e Event) ([]byte, error) {
	data, err := msgpack.Marshal(msgpackEvent{
		ID:            e.id,
		Type:          e.eventType,
		Source:        e.source,
		Timestamp:     e.timestamp,
		OrgID:         e.orgID,
		ProjectID:     e.projectID,
		UserID:        e.userID,
		CorrelationID: e.correlationID,
		Version:       e.version,
		ContentType:   e.contentType,
		Payload:       e.payload,
		Metadata:      e.metadata,
	})
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode parses a MessagePack event.
func (MsgPackCodec) Decode(data []byte) (Event, error) {
	var me msgpackEvent
	if err := msgpack.Unmarshal(data, &me); err != nil {
		return Event{}, errors.Join(ErrDecodeFailure, err)
	}
	if me.ID == "" {
		return Event{}, errors.Join(ErrDecodeFailure, errors.New("missing event id"))
	}
	return Event{
		id:            me.ID,
		eventType:     me.Type,
		source:        me.Source,
		timestamp:     me.Timestamp.UTC(),
		orgID:         me.OrgID,
		projectID:     me.ProjectID,
		userID:        me.UserID,
		correlationID: me.CorrelationID,
		version:       me.Version,
		contentType:   me.ContentType,
		payload:       me.Payload,
		metadata:      me.Metadata,
	}, nil
}

// Name returns "msgpack".
func (MsgPackCodec) Name() string { return "msgpack" }

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "", "json":
		return JSONCodec{}, true
	case "msgpack":
		return MsgPackCodec{}, true
	}
	return nil, false
}

var (
	_ Codec = JSONCodec{}
	_ Codec = MsgPackCodec{}
)
