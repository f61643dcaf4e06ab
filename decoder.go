/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"context"
	"reflect"
)

// Deserializer decodes record payloads. Both SchemaSerializer and Serializers implement it.
type Deserializer interface {
	Deserialize(ctx context.Context, data []byte, sc *SerializationContext) (interface{}, error)
}

// Record is a stored event whose payload is decoded lazily
type Record struct {
	Stream   string
	Data     []byte
	Metadata Metadata
	Value    interface{}

	decoder Deserializer
}

// NewRecord returns an undecoded record. A nil decoder leaves the record as raw bytes.
func NewRecord(stream string, data []byte, metadata Metadata, decoder Deserializer) *Record {
	return &Record{
		Stream:   stream,
		Data:     data,
		Metadata: metadata,
		decoder:  decoder,
	}
}

// IsDecoded reports whether the record holds a decoded, non byte value for its payload
func (r *Record) IsDecoded() bool {
	return len(r.Data) > 0 && r.Value != nil && !isRawBytes(r.Value)
}

// Decode decodes Data into Value once. Link records decode to their string form without
// touching the registry.
func (r *Record) Decode(ctx context.Context) error {
	if r.IsDecoded() || r.decoder == nil {
		return nil
	}

	if name, _ := r.Metadata.SchemaName(); name == LinkSchemaName {
		r.Value = string(r.Data)
		return nil
	}

	value, err := r.decoder.Deserialize(ctx, r.Data, &SerializationContext{Stream: r.Stream, Metadata: r.Metadata})
	if err != nil {
		return err
	}
	r.Value = value

	return nil
}

func isRawBytes(v interface{}) bool {
	t := reflect.TypeOf(v)
	return t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() == reflect.Uint8
}

// rawBytes returns the payload of a byte slice or array, named byte types included
func rawBytes(v interface{}) ([]byte, bool) {
	if byt, ok := v.([]byte); ok {
		return byt, true
	}
	if !isRawBytes(v) {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	byt := make([]byte, rv.Len())
	for i := range byt {
		byt[i] = byte(rv.Index(i).Uint())
	}

	return byt, true
}
