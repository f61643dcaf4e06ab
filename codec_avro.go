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
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/tryfix/errors"
)

// AvroCodec encodes struct payloads in the Avro binary format. The writer schema of each type
// is exported once and cached.
type AvroCodec struct {
	exporter SchemaExporter
	api      avro.API
	schemas  sync.Map // reflect.Type -> avro.Schema
}

// NewAvroCodec returns an AvroCodec. A nil exporter defaults to a ReflectExporter.
func NewAvroCodec(exporter SchemaExporter) *AvroCodec {
	if exporter == nil {
		exporter = NewReflectExporter()
	}

	return &AvroCodec{
		exporter: exporter,
		api:      avro.DefaultConfig,
	}
}

func (c *AvroCodec) DataFormat() SchemaDataFormat {
	return DataFormatAvro
}

func (c *AvroCodec) schema(t reflect.Type) (avro.Schema, error) {
	t = indirect(t)
	if s, ok := c.schemas.Load(t); ok {
		return s.(avro.Schema), nil
	}

	definition, err := c.exporter.Export(t, DataFormatAvro)
	if err != nil {
		return nil, err
	}

	s, err := avro.Parse(definition)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`schema parsing error for type %v`, t))
	}

	actual, _ := c.schemas.LoadOrStore(t, s)
	return actual.(avro.Schema), nil
}

func (c *AvroCodec) Encode(v interface{}) ([]byte, error) {
	s, err := c.schema(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}

	byt, err := c.api.Marshal(s, v)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`avro marshal failed for %T`, v))
	}

	return byt, nil
}

func (c *AvroCodec) Decode(data []byte, t reflect.Type) (interface{}, error) {
	s, err := c.schema(t)
	if err != nil {
		return nil, err
	}

	target, result := newDecodeTarget(t)
	if err := c.api.Unmarshal(s, data, target); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`avro unmarshal failed for %v`, t))
	}

	return result(), nil
}
