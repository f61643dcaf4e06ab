/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"context"
	"fmt"
	"reflect"

	"github.com/tryfix/log"
)

// Policy decides how a serializer governs the schemas of the types it encodes
type Policy struct {
	// AutoRegister creates schemas for unknown types on Serialize
	AutoRegister bool
	// Validate checks types against the registry before encoding and after decoding
	Validate bool
}

var (
	// AutoRegisterPolicy registers unknown types and validates decoded ones
	AutoRegisterPolicy = Policy{AutoRegister: true, Validate: true}

	// ValidatePolicy never registers, types must be compatible with an existing schema
	ValidatePolicy = Policy{Validate: true}

	// NoValidationPolicy never calls the registry. Serialized types must already be mapped.
	NoValidationPolicy = Policy{}
)

// SerializationContext carries the stream and the metadata of the record being processed.
// Serializers stamp schema identity into Metadata.
type SerializationContext struct {
	Stream   string
	Metadata Metadata
}

// SchemaSerializer combines the codec of one data format with schema governance
type SchemaSerializer struct {
	codec   Codec
	manager *SchemaManager
	types   *TypeMapper
	naming  NamingStrategy
	policy  Policy
	logger  log.Logger
}

// NewSchemaSerializer returns a serializer encoding with codec and governing schemas through
// manager
func NewSchemaSerializer(codec Codec, manager *SchemaManager, opts ...Option) *SchemaSerializer {
	o := newOptions(opts...)

	return &SchemaSerializer{
		codec:   codec,
		manager: manager,
		types:   manager.TypeMapper(),
		naming:  o.naming,
		policy:  o.policy,
		logger:  o.logger.NewLog(log.Prefixed(fmt.Sprintf(`Serializer.%s`, codec.DataFormat()))),
	}
}

// DataFormat returns the data format of the underlying codec
func (s *SchemaSerializer) DataFormat() SchemaDataFormat {
	return s.codec.DataFormat()
}

// Serialize encodes value and stamps its schema identity into sc.Metadata. A nil value encodes
// to empty bytes, byte slices and arrays are passed through untouched and tagged as Bytes.
// Values and pointers of a mapped type are governed by the mapped form.
func (s *SchemaSerializer) Serialize(ctx context.Context, value interface{}, sc *SerializationContext) ([]byte, error) {
	if sc == nil {
		sc = &SerializationContext{}
	}
	if sc.Metadata == nil {
		sc.Metadata = Metadata{}
	}

	if isNil(value) {
		return []byte{}, nil
	}

	if byt, ok := rawBytes(value); ok {
		sc.Metadata.WithDataFormat(DataFormatBytes)
		return byt, nil
	}

	format := s.DataFormat()
	t := s.types.MappedForm(reflect.TypeOf(value))
	name, err := s.schemaName(t, sc.Stream)
	if err != nil {
		return nil, err
	}

	var version SchemaVersionDescriptor
	switch {
	case s.policy.AutoRegister:
		version, err = s.manager.RegisterSchema(ctx, name, t, format)
	case s.policy.Validate:
		version, err = s.manager.EnsureCompatibilityBySchemaName(ctx, name, t, format)
	default:
		if !s.types.IsMapped(t) {
			return nil, &TypeNotMappedError{Type: t}
		}
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.types.TryMap(name, t); err != nil {
		return nil, err
	}

	byt, err := s.codec.Encode(value)
	if err != nil {
		return nil, &SerializationError{Op: `serialize`, SchemaName: name, DataFormat: format, Err: err}
	}

	sc.Metadata.WithSchemaName(name).WithDataFormat(format)
	if version.VersionID != (SchemaVersionID{}) {
		sc.Metadata.WithVersionID(version.VersionID)
	}

	return byt, nil
}

// Deserialize decodes data into the application type of the schema named in sc.Metadata. When
// validation is enabled and the record carries no version id, the confirmed version id is
// stamped back into sc.Metadata.
func (s *SchemaSerializer) Deserialize(ctx context.Context, data []byte, sc *SerializationContext) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if sc == nil {
		sc = &SerializationContext{}
	}

	if format, ok := sc.Metadata.DataFormat(); ok && format == DataFormatBytes {
		return data, nil
	}

	name, ok := sc.Metadata.SchemaName()
	if !ok {
		return nil, &PreconditionError{Reason: `record metadata carries no schema name`}
	}

	t, err := s.types.GetOrResolveMessageType(name, sc.Stream, sc.Metadata)
	if err != nil {
		return nil, err
	}

	format := s.DataFormat()
	if s.policy.Validate {
		if err := s.validate(ctx, name, t, sc.Metadata); err != nil {
			return nil, err
		}

		if _, err := s.types.TryMap(name, t); err != nil {
			return nil, err
		}
	}

	value, err := s.codec.Decode(data, t)
	if err != nil {
		return nil, &SerializationError{Op: `deserialize`, SchemaName: name, DataFormat: format, Err: err}
	}

	return value, nil
}

func (s *SchemaSerializer) validate(ctx context.Context, name SchemaName, t reflect.Type, md Metadata) error {
	if id, ok := md.VersionID(); ok {
		_, err := s.manager.EnsureCompatibilityByVersionID(ctx, id, t, s.DataFormat())
		return err
	}

	version, err := s.manager.EnsureCompatibilityBySchemaName(ctx, name, t, s.DataFormat())
	if err != nil {
		return err
	}

	md.WithVersionID(version.VersionID)
	s.logger.Debug(fmt.Sprintf(`record of schema [%s] stamped with version %s`, name, version))

	return nil
}

func (s *SchemaSerializer) schemaName(t reflect.Type, stream string) (SchemaName, error) {
	if name, _ := s.types.SchemaNameOf(t, false); !name.IsEmpty() {
		return name, nil
	}

	name := s.naming.GenerateSchemaName(t, stream)
	if name.IsEmpty() {
		return ``, &PreconditionError{Reason: fmt.Sprintf(`naming strategy generated an empty schema name for type %v`, t)}
	}

	if existing, _ := s.types.MessageType(name, false); existing != nil && existing != t {
		return ``, &TypeConflictError{SchemaName: name, Existing: existing, Requested: t}
	}

	return name, nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}

	return false
}

// Serializers routes records to the serializer of their data format
type Serializers struct {
	byFormat map[SchemaDataFormat]*SchemaSerializer
}

// NewSerializers returns a router over the given serializers, one per data format
func NewSerializers(serializers ...*SchemaSerializer) *Serializers {
	s := &Serializers{byFormat: make(map[SchemaDataFormat]*SchemaSerializer, len(serializers))}
	for _, serializer := range serializers {
		s.byFormat[serializer.DataFormat()] = serializer
	}

	return s
}

// Get returns the serializer of format
func (s *Serializers) Get(format SchemaDataFormat) (*SchemaSerializer, bool) {
	serializer, ok := s.byFormat[format]
	return serializer, ok
}

// Serialize encodes value with the serializer of format
func (s *Serializers) Serialize(ctx context.Context, format SchemaDataFormat, value interface{}, sc *SerializationContext) ([]byte, error) {
	serializer, ok := s.byFormat[format]
	if !ok {
		return nil, &PreconditionError{Reason: fmt.Sprintf(`no serializer for data format %s`, format)}
	}

	return serializer.Serialize(ctx, value, sc)
}

// Deserialize decodes data with the serializer matching the data format tag of sc.Metadata
func (s *Serializers) Deserialize(ctx context.Context, data []byte, sc *SerializationContext) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if sc == nil {
		sc = &SerializationContext{}
	}

	format, ok := sc.Metadata.DataFormat()
	if !ok {
		return nil, &PreconditionError{Reason: `record metadata carries no data format`}
	}
	if format == DataFormatBytes {
		return data, nil
	}

	serializer, ok := s.byFormat[format]
	if !ok {
		return nil, &PreconditionError{Reason: fmt.Sprintf(`no serializer for data format %s`, format)}
	}

	return serializer.Deserialize(ctx, data, sc)
}
