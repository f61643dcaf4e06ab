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

// Registry wires a RegistryClient to a SchemaManager and one SchemaSerializer per data format
type Registry struct {
	manager     *SchemaManager
	serializers *Serializers
	logger      log.Logger
}

// NewRegistry returns a Registry over client with Json, Protobuf and Avro serializers
func NewRegistry(client RegistryClient, opts ...Option) (*Registry, error) {
	if client == nil {
		return nil, &PreconditionError{Reason: `registry client cannot be nil`}
	}

	o := newOptions(opts...)
	manager := NewSchemaManager(client, NewTypeMapper(o.resolver), opts...)

	r := &Registry{
		manager: manager,
		serializers: NewSerializers(
			NewSchemaSerializer(NewJSONCodec(), manager, opts...),
			NewSchemaSerializer(NewProtobufCodec(), manager, opts...),
			NewSchemaSerializer(NewAvroCodec(o.exporter), manager, opts...),
		),
		logger: o.logger.NewLog(log.Prefixed(`Registry`)),
	}

	r.logger.Debug(fmt.Sprintf(`registry initialized with policy %+v and compatibility %s`, o.policy, o.compatibility))

	return r, nil
}

// Manager returns the schema manager
func (r *Registry) Manager() *SchemaManager {
	return r.manager
}

// TypeMapper returns the name/type mapping
func (r *Registry) TypeMapper() *TypeMapper {
	return r.manager.TypeMapper()
}

// Serializers returns the serializers routed by data format
func (r *Registry) Serializers() *Serializers {
	return r.serializers
}

// Serializer returns the serializer of format
func (r *Registry) Serializer(format SchemaDataFormat) *SchemaSerializer {
	s, ok := r.serializers.Get(format)
	if !ok {
		panic(fmt.Sprintf(`eventschema.registry: no serializer for data format %s`, format))
	}

	return s
}

// Map binds name to the type of value
func (r *Registry) Map(name SchemaName, value interface{}) error {
	t := reflect.TypeOf(value)
	mapped, err := r.manager.TypeMapper().TryMap(name, t)
	if err != nil {
		return err
	}

	if mapped {
		r.logger.Info(fmt.Sprintf(`schema [%s] mapped to %v`, name, t))
	}

	return nil
}

// Serialize encodes value with the serializer of format
func (r *Registry) Serialize(ctx context.Context, format SchemaDataFormat, value interface{}, sc *SerializationContext) ([]byte, error) {
	return r.serializers.Serialize(ctx, format, value, sc)
}

// Deserialize decodes data with the serializer matching the data format of sc.Metadata
func (r *Registry) Deserialize(ctx context.Context, data []byte, sc *SerializationContext) (interface{}, error) {
	return r.serializers.Deserialize(ctx, data, sc)
}

// NewRecord returns a lazily decoded record bound to the registry serializers
func (r *Registry) NewRecord(stream string, data []byte, metadata Metadata) *Record {
	return NewRecord(stream, data, metadata, r.serializers)
}

// WarmUp registers every mapped type with format
func (r *Registry) WarmUp(ctx context.Context, format SchemaDataFormat) error {
	return r.manager.WarmUp(ctx, format)
}

// Print logs the mapped schemas and their compatible versions
func (r *Registry) Print() {
	r.manager.Print()
}
