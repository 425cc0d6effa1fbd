package eventbus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var eventComparer = cmp.AllowUnexported(Event{})

func TestCodecRoundTrip(t *testing.T) {
	events := map[string]Event{
		"json payload": New("verity", "document.verified", []byte(`{"score":0.92}`),
			WithOrg("org-1"), WithProject("p"), WithUser("u"), WithCorrelationID("c"),
			WithMetadata("k", "v")),
		"binary payload": New("noteman", "meeting.started", []byte{0x00, 0xff, 0x10},
			WithContentType("application/octet-stream")),
		"empty payload": New("svc", "item.deleted", nil),
	}

	for _, codec := range []Codec{JSONCodec{}, MsgPackCodec{}} {
		for name, want := range events {
			t.Run(codec.Name()+"/"+name, func(t *testing.T) {
				data, err := codec.Encode(want)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				got, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if diff := cmp.Diff(want, got, eventComparer); diff != "" {
					t.Errorf("event mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestJSONCodecWireFormat(t *testing.T) {
	ev := New("verity", "document.verified", []byte(`{"score":0.92}`))
	data, err := JSONCodec{}.Encode(ev)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("not a JSON object: %v", err)
	}
	for _, key := range []string{"id", "event_type", "source", "timestamp", "version", "payload"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q in %s", key, data)
		}
	}
	p, ok := fields["payload"].(map[string]any)
	if !ok || p["score"] != 0.92 {
		t.Errorf("expected JSON payload embedded as an object, got %v", fields["payload"])
	}
	if _, ok := fields["payload_b64"]; ok {
		t.Error("JSON payload should not be base64 encoded")
	}
}

func TestJSONCodecKeepsPayloadBytes(t *testing.T) {
	payloads := map[string]string{
		"whitespace":  "{\"n\": 1.50,\n \"tags\": [ \"a\" ]}",
		"html":        `{"html":"<b>&</b>"}`,
		"line sep":    "{\"s\":\"a\u2028b\"}",
		"trailing nl": "{\"n\":1}\n",
	}
	for name, p := range payloads {
		t.Run(name, func(t *testing.T) {
			ev := New("svc", "doc.signed", []byte(p))
			data, err := JSONCodec{}.Encode(ev)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := JSONCodec{}.Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(p, string(got.Payload())); diff != "" {
				t.Errorf("payload bytes changed (-want +got):\n%s", diff)
			}

			var fields map[string]any
			if err := json.Unmarshal(data, &fields); err != nil {
				t.Fatalf("not a JSON object: %v", err)
			}
			if _, ok := fields["payload_b64"]; !ok {
				t.Errorf("expected payload_b64 for non-canonical JSON, got %s", data)
			}
		})
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgPackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			if _, err := codec.Decode([]byte("not an event")); !errors.Is(err, ErrDecodeFailure) {
				t.Errorf("expected ErrDecodeFailure for garbage, got %v", err)
			}
			empty, err := codec.Encode(Event{})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if _, err := codec.Decode(empty); !errors.Is(err, ErrDecodeFailure) {
				t.Errorf("expected ErrDecodeFailure for missing id, got %v", err)
			}
		})
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		c, ok := CodecByName(name)
		if !ok || c == nil {
			t.Errorf("expected codec for %q", name)
		}
	}
	if _, ok := CodecByName("xml"); ok {
		t.Error("expected no codec for xml")
	}
}
