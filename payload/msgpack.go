package payload

import "github.com/vmihailenco/msgpack/v5"

// MsgPack implements Codec with MessagePack, a compact binary format that
// needs no schema.
type MsgPack struct{}

// Encode serializes v as MessagePack.
func (MsgPack) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes MessagePack data into v.
func (MsgPack) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// ContentType returns "application/msgpack".
func (MsgPack) ContentType() string {
	return "application/msgpack"
}

var _ Codec = MsgPack{}

func init() {
	Register(MsgPack{})
}
