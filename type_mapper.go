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

	"github.com/tryfix/errors"
	"github.com/tryfix/eventschema/bimap"
)

// TypeResolver resolves the application type of a schema name that has no explicit mapping
type TypeResolver interface {
	ResolveType(name SchemaName, stream string, metadata Metadata) (reflect.Type, error)
}

// TypeResolverFunc adapts a function to TypeResolver
type TypeResolverFunc func(name SchemaName, stream string, metadata Metadata) (reflect.Type, error)

func (f TypeResolverFunc) ResolveType(name SchemaName, stream string, metadata Metadata) (reflect.Type, error) {
	return f(name, stream, metadata)
}

// TypeMapper keeps the bijection between schema names and application types
type TypeMapper struct {
	types    *bimap.Map[SchemaName, reflect.Type]
	resolver TypeResolver
}

// NewTypeMapper returns an empty TypeMapper. resolver may be nil.
func NewTypeMapper(resolver TypeResolver) *TypeMapper {
	return &TypeMapper{
		types:    bimap.New[SchemaName, reflect.Type](),
		resolver: resolver,
	}
}

// TypeOf returns the reflect.Type used as the application type of v
func TypeOf(v interface{}) reflect.Type {
	return reflect.TypeOf(v)
}

// TypeFor returns the application type of T
func TypeFor[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// TryMap binds name to t. It returns false if the binding already exists, and a
// TypeConflictError if either side is already bound to something else.
func (m *TypeMapper) TryMap(name SchemaName, t reflect.Type) (bool, error) {
	if name.IsEmpty() {
		return false, &PreconditionError{Reason: `schema name cannot be empty`}
	}
	if t == nil {
		return false, &PreconditionError{Reason: `message type cannot be nil`}
	}

	for {
		if m.types.TryAdd(name, t) {
			return true, nil
		}

		existing, nameBound := m.types.Get(name)
		if nameBound {
			if existing == t {
				return false, nil
			}
			return false, &TypeConflictError{SchemaName: name, Existing: existing, Requested: t}
		}

		if owner, typeBound := m.types.GetKey(t); typeBound {
			return false, &TypeConflictError{SchemaName: owner, Existing: t, Requested: t, RequestedName: name}
		}
		// the conflicting binding was removed between TryAdd and the lookups
	}
}

// MappedForm returns whichever of t and its pointer or element counterpart is mapped, so values
// and pointers of one type share a schema name and cached versions. Unmapped types are
// returned unchanged.
func (m *TypeMapper) MappedForm(t reflect.Type) reflect.Type {
	if t == nil || m.IsMapped(t) {
		return t
	}

	counterpart := reflect.PointerTo(t)
	if t.Kind() == reflect.Ptr {
		counterpart = t.Elem()
	}
	if m.IsMapped(counterpart) {
		return counterpart
	}

	return t
}

// MessageType returns the type mapped to name. With throwIfMissing unset a missing mapping
// yields a nil type and no error.
func (m *TypeMapper) MessageType(name SchemaName, throwIfMissing bool) (reflect.Type, error) {
	t, ok := m.types.Get(name)
	if !ok && throwIfMissing {
		return nil, &TypeNotMappedError{SchemaName: name}
	}

	return t, nil
}

// SchemaNameOf returns the schema name mapped to t. With throwIfMissing unset a missing mapping
// yields an empty name and no error.
func (m *TypeMapper) SchemaNameOf(t reflect.Type, throwIfMissing bool) (SchemaName, error) {
	name, ok := m.types.GetKey(t)
	if !ok && throwIfMissing {
		return ``, &TypeNotMappedError{Type: t}
	}

	return name, nil
}

// IsMapped reports whether t has a schema name
func (m *TypeMapper) IsMapped(t reflect.Type) bool {
	_, ok := m.types.GetKey(t)
	return ok
}

// GetOrResolveMessageType returns the mapped type of name, falling back to the resolver
func (m *TypeMapper) GetOrResolveMessageType(name SchemaName, stream string, metadata Metadata) (reflect.Type, error) {
	if t, ok := m.types.Get(name); ok {
		return t, nil
	}

	if m.resolver == nil {
		return nil, &ResolutionError{SchemaName: name}
	}

	t, err := m.resolver.ResolveType(name, stream, metadata)
	if err != nil {
		return nil, &ResolutionError{SchemaName: name, Err: err}
	}
	if t == nil {
		return nil, &ResolutionError{SchemaName: name}
	}

	return t, nil
}

// Mappings returns a snapshot of all name/type bindings
func (m *TypeMapper) Mappings() map[SchemaName]reflect.Type {
	out := make(map[SchemaName]reflect.Type, m.types.Len())
	m.types.Range(func(name SchemaName, t reflect.Type) bool {
		out[name] = t
		return true
	})

	return out
}

// TypeRegistry is a name to type table usable as a TypeResolver. Types are registered under
// their Go type name (e.g. "orders.OrderPlaced") and any extra aliases.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry returns an empty TypeRegistry
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]reflect.Type)}
}

// RegisterType registers the type of value under its qualified Go name and the given aliases.
// Nothing is registered when any of the names is taken by another type.
func (r *TypeRegistry) RegisterType(value interface{}, aliases ...string) error {
	t := reflect.TypeOf(value)
	if t == nil {
		return errors.New(`cannot register the type of a nil value`)
	}

	names := append([]string{qualifiedTypeName(t)}, aliases...)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if existing, ok := r.types[name]; ok && existing != t {
			return errors.New(fmt.Sprintf(`type name [%s] already registered for %v`, name, existing))
		}
	}

	for _, name := range names {
		r.types[name] = t
	}

	return nil
}

// ResolveType implements TypeResolver
func (r *TypeRegistry) ResolveType(name SchemaName, _ string, _ Metadata) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[string(name)]
	if !ok {
		return nil, errors.New(fmt.Sprintf(`no type registered for [%s]`, name))
	}

	return t, nil
}
