package payload

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// ErrNotProtoMessage is returned when Proto is given a value that does not
// implement proto.Message.
var ErrNotProtoMessage = errors.New("value does not implement proto.Message")

// Proto implements Codec with Protocol Buffers. Values passed to Encode and
// Decode must implement proto.Message.
type Proto struct{}

// Encode serializes a proto.Message.
func (Proto) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, ErrNotProtoMessage
	}
	return proto.Marshal(msg)
}

// Decode deserializes data into a proto.Message.
func (Proto) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return ErrNotProtoMessage
	}
	return proto.Unmarshal(data, msg)
}

// ContentType returns "application/protobuf".
func (Proto) ContentType() string {
	return "application/protobuf"
}

var _ Codec = Proto{}

func init() {
	Register(Proto{})
}
