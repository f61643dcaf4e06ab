/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"fmt"

	"github.com/google/uuid"
)

// Reserved metadata keys carrying schema identity
const (
	MetadataSchemaName      = `$schema.name`
	MetadataSchemaFormat    = `$schema.data-format`
	MetadataSchemaVersionID = `$schema.version-id`
)

// LinkSchemaName is the schema name of link records, which point to events in other streams
const LinkSchemaName SchemaName = `$>`

// Metadata is the key/value envelope travelling with a record
type Metadata map[string]any

// SchemaName returns the schema name stamped on the metadata
func (m Metadata) SchemaName() (SchemaName, bool) {
	switch v := m[MetadataSchemaName].(type) {
	case SchemaName:
		return v, !v.IsEmpty()
	case string:
		n := SchemaName(v)
		return n, !n.IsEmpty()
	}

	return ``, false
}

// DataFormat returns the data format stamped on the metadata
func (m Metadata) DataFormat() (SchemaDataFormat, bool) {
	switch v := m[MetadataSchemaFormat].(type) {
	case SchemaDataFormat:
		return v, v != DataFormatUnspecified
	case string:
		f, err := ParseSchemaDataFormat(v)
		return f, err == nil && f != DataFormatUnspecified
	}

	return DataFormatUnspecified, false
}

// VersionID returns the schema version id stamped on the metadata
func (m Metadata) VersionID() (SchemaVersionID, bool) {
	switch v := m[MetadataSchemaVersionID].(type) {
	case uuid.UUID:
		return v, v != uuid.Nil
	case string:
		id, err := uuid.Parse(v)
		return id, err == nil && id != uuid.Nil
	}

	return uuid.Nil, false
}

// IsSchemaDescribed reports whether both a schema name and a data format are present
func (m Metadata) IsSchemaDescribed() bool {
	_, hasName := m.SchemaName()
	_, hasFormat := m.DataFormat()
	return hasName && hasFormat
}

// WithSchemaName stamps the schema name
func (m Metadata) WithSchemaName(name SchemaName) Metadata {
	m[MetadataSchemaName] = string(name)
	return m
}

// WithDataFormat stamps the data format as its lowercase wire name
func (m Metadata) WithDataFormat(format SchemaDataFormat) Metadata {
	m[MetadataSchemaFormat] = format.String()
	return m
}

// WithVersionID stamps the schema version id as its string form
func (m Metadata) WithVersionID(id SchemaVersionID) Metadata {
	m[MetadataSchemaVersionID] = id.String()
	return m
}

// Clone returns a shallow copy
func (m Metadata) Clone() Metadata {
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}

func (m Metadata) String() string {
	name, _ := m.SchemaName()
	format, _ := m.DataFormat()
	id, _ := m.VersionID()
	return fmt.Sprintf(`schema=%s format=%s version=%s`, name, format, id)
}
