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

	jsoniter "github.com/json-iterator/go"
	"github.com/tryfix/errors"
)

// Codec encodes and decodes payloads of one data format. Codecs know nothing about the registry.
type Codec interface {
	DataFormat() SchemaDataFormat
	Encode(v interface{}) ([]byte, error)
	// Decode decodes data into a new value of t. Pointer types decode into a new pointer,
	// other types into a value.
	Decode(data []byte, t reflect.Type) (interface{}, error)
}

// newDecodeTarget allocates the value a payload of type t is decoded into and returns it with
// a function producing the final result
func newDecodeTarget(t reflect.Type) (target interface{}, result func() interface{}) {
	if t.Kind() == reflect.Ptr {
		ptr := reflect.New(t.Elem())
		return ptr.Interface(), ptr.Interface
	}

	ptr := reflect.New(t)
	return ptr.Interface(), func() interface{} { return ptr.Elem().Interface() }
}

// JSONCodec encodes payloads as JSON
type JSONCodec struct {
	api jsoniter.API
}

// NewJSONCodec returns a JSON codec compatible with encoding/json struct tags
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

func (c *JSONCodec) DataFormat() SchemaDataFormat {
	return DataFormatJson
}

func (c *JSONCodec) Encode(v interface{}) ([]byte, error) {
	byt, err := c.api.Marshal(v)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`json marshal failed for %T`, v))
	}

	return byt, nil
}

func (c *JSONCodec) Decode(data []byte, t reflect.Type) (interface{}, error) {
	target, result := newDecodeTarget(t)
	if err := c.api.Unmarshal(data, target); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`json unmarshal failed for %v`, t))
	}

	return result(), nil
}
