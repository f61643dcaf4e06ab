/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrAlreadyExists is returned by a RegistryClient when a schema with the same name exists
	ErrAlreadyExists = errors.New(`schema already exists`)

	// ErrRegistrationContention is returned when register-or-reuse lost every retry
	ErrRegistrationContention = errors.New(`schema registration contention exceeded`)
)

// PreconditionError reports an invalid argument detected before any remote call
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf(`precondition failed: %s`, e.Reason)
}

// TypeConflictError is returned when a schema name or type is already bound to something else
type TypeConflictError struct {
	SchemaName    SchemaName
	Existing      reflect.Type
	Requested     reflect.Type
	RequestedName SchemaName
}

func (e *TypeConflictError) Error() string {
	if e.RequestedName != `` && e.RequestedName != e.SchemaName {
		return fmt.Sprintf(`type %v is already mapped to schema [%s], cannot map it to [%s]`,
			e.Existing, e.SchemaName, e.RequestedName)
	}

	return fmt.Sprintf(`schema [%s] is already mapped to type %v, cannot map it to %v`,
		e.SchemaName, e.Existing, e.Requested)
}

// TypeNotMappedError is returned when a lookup requires a mapping that does not exist
type TypeNotMappedError struct {
	SchemaName SchemaName
	Type       reflect.Type
}

func (e *TypeNotMappedError) Error() string {
	if e.Type != nil {
		return fmt.Sprintf(`type %v is not mapped to a schema`, e.Type)
	}

	return fmt.Sprintf(`schema [%s] is not mapped to a type`, e.SchemaName)
}

// ResolutionError is returned when neither the mapping nor the type resolver knows a schema name
type ResolutionError struct {
	SchemaName SchemaName
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(`cannot resolve message type for schema [%s]: %s`, e.SchemaName, e.Err)
	}

	return fmt.Sprintf(`cannot resolve message type for schema [%s]`, e.SchemaName)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// NotFoundError is returned when a schema or a schema version is absent in the registry
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf(`schema [%s] not found`, e.Identifier)
}

// CompatibilityIssue is one reason a definition was rejected by the registry
type CompatibilityIssue struct {
	Kind         string
	PropertyPath string
	OriginalType string
	NewType      string
	Details      string
}

func (i CompatibilityIssue) String() string {
	b := new(strings.Builder)
	b.WriteString(i.Kind)
	if i.PropertyPath != `` {
		b.WriteString(` at ` + i.PropertyPath)
	}
	if i.OriginalType != `` || i.NewType != `` {
		fmt.Fprintf(b, ` (%s -> %s)`, i.OriginalType, i.NewType)
	}
	if i.Details != `` {
		b.WriteString(`: ` + i.Details)
	}

	return b.String()
}

// CompatibilityError carries every incompatibility reported for a definition
type CompatibilityError struct {
	Identifier string
	Issues     []CompatibilityIssue
}

func (e *CompatibilityError) Error() string {
	reasons := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		reasons[i] = issue.String()
	}

	return fmt.Sprintf(`schema [%s] is incompatible: %s`, e.Identifier, strings.Join(reasons, `; `))
}

// SerializationError wraps a codec failure with the schema identity of the payload
type SerializationError struct {
	Op         string
	SchemaName SchemaName
	DataFormat SchemaDataFormat
	Err        error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf(`%s failed for schema [%s] with data format %s: %s`, e.Op, e.SchemaName, e.DataFormat, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is, or wraps, a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAlreadyExists reports whether err is, or wraps, ErrAlreadyExists
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
