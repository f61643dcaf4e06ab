/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"fmt"
	"reflect"

	"github.com/tryfix/errors"
	"google.golang.org/protobuf/proto"
)

// ProtobufCodec encodes proto.Message payloads in the protobuf binary format
type ProtobufCodec struct {
	marshal   proto.MarshalOptions
	unmarshal proto.UnmarshalOptions
}

// NewProtobufCodec returns a ProtobufCodec with deterministic marshalling
func NewProtobufCodec() *ProtobufCodec {
	return &ProtobufCodec{
		marshal:   proto.MarshalOptions{Deterministic: true},
		unmarshal: proto.UnmarshalOptions{DiscardUnknown: false},
	}
}

func (c *ProtobufCodec) DataFormat() SchemaDataFormat {
	return DataFormatProtobuf
}

func (c *ProtobufCodec) Encode(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.New(fmt.Sprintf(`value of type %T is not a protobuf message`, v))
	}

	byt, err := c.marshal.Marshal(msg)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`failed to marshal protobuf message %T`, v))
	}

	return byt, nil
}

func (c *ProtobufCodec) Decode(data []byte, t reflect.Type) (interface{}, error) {
	msg, err := newProtoMessage(t)
	if err != nil {
		return nil, err
	}

	if err := c.unmarshal.Unmarshal(data, msg); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`failed to unmarshal protobuf message %v`, t))
	}

	return msg, nil
}
