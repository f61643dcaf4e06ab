/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"context"
)

// CreateSchemaRequest describes a new schema and its first version
type CreateSchemaRequest struct {
	Name          SchemaName
	Definition    string
	DataFormat    SchemaDataFormat
	Compatibility CompatibilityMode
	Description   string
	Tags          map[string]string
}

// RegistryClient is the remote schema registry.
//
// Implementations report a missing schema or version with a *NotFoundError, an existing schema
// on create with ErrAlreadyExists and a rejected definition with a *CompatibilityError.
type RegistryClient interface {
	// CreateSchema creates the schema with its first version
	CreateSchema(ctx context.Context, req CreateSchemaRequest) (SchemaVersionDescriptor, error)

	// GetSchema returns the schema descriptor including its latest version
	GetSchema(ctx context.Context, name SchemaName) (Schema, error)

	// GetSchemaVersion returns the given version number, or the latest when versionNumber is nil
	GetSchemaVersion(ctx context.Context, name SchemaName, versionNumber *int) (SchemaVersion, error)

	// GetSchemaVersionByID returns the version with the given id
	GetSchemaVersionByID(ctx context.Context, id SchemaVersionID) (SchemaVersion, error)

	// DeleteSchema deletes the schema and all of its versions
	DeleteSchema(ctx context.Context, name SchemaName) error

	// CheckSchemaCompatibility checks definition against the identified schema and returns the
	// latest version the definition is compatible with
	CheckSchemaCompatibility(ctx context.Context, identifier SchemaIdentifier, definition string,
		format SchemaDataFormat) (SchemaVersionDescriptor, error)
}
