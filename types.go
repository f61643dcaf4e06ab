/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaName is the logical identity of a schema
type SchemaName string

// NewSchemaName returns a SchemaName or a precondition error if the name is empty or whitespace
func NewSchemaName(name string) (SchemaName, error) {
	name = strings.TrimSpace(name)
	if name == `` {
		return ``, &PreconditionError{Reason: `schema name cannot be empty`}
	}

	return SchemaName(name), nil
}

func (n SchemaName) String() string {
	return string(n)
}

// IsEmpty reports whether the name is empty or whitespace only
func (n SchemaName) IsEmpty() bool {
	return strings.TrimSpace(string(n)) == ``
}

// SchemaVersionID identifies one registered version. uuid.Nil is the "none" value.
type SchemaVersionID = uuid.UUID

// SchemaDataFormat is the wire encoding of a payload
type SchemaDataFormat int

const (
	DataFormatUnspecified SchemaDataFormat = iota
	DataFormatJson
	DataFormatProtobuf
	DataFormatAvro
	DataFormatBytes
)

var dataFormatNames = map[SchemaDataFormat]string{
	DataFormatUnspecified: `unspecified`,
	DataFormatJson:        `json`,
	DataFormatProtobuf:    `protobuf`,
	DataFormatAvro:        `avro`,
	DataFormatBytes:       `bytes`,
}

// String returns the lowercase wire name of the format
func (f SchemaDataFormat) String() string {
	if name, ok := dataFormatNames[f]; ok {
		return name
	}

	return fmt.Sprintf(`unknown(%d)`, int(f))
}

// ParseSchemaDataFormat parses the lowercase wire name of a data format
func ParseSchemaDataFormat(s string) (SchemaDataFormat, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for format, name := range dataFormatNames {
		if name == v {
			return format, nil
		}
	}

	return DataFormatUnspecified, &PreconditionError{Reason: fmt.Sprintf(`unknown schema data format [%s]`, s)}
}

func (f SchemaDataFormat) validate() error {
	if f == DataFormatUnspecified {
		return &PreconditionError{Reason: `schema data format must be specified`}
	}
	if _, ok := dataFormatNames[f]; !ok {
		return &PreconditionError{Reason: fmt.Sprintf(`schema data format %s is not supported`, f)}
	}

	return nil
}

// CompatibilityMode is the evolution policy of a schema
type CompatibilityMode int

const (
	CompatibilityUnspecified CompatibilityMode = iota
	CompatibilityBackward
	CompatibilityForward
	CompatibilityFull
	CompatibilityNone
)

func (m CompatibilityMode) String() string {
	switch m {
	case CompatibilityBackward:
		return `backward`
	case CompatibilityForward:
		return `forward`
	case CompatibilityFull:
		return `full`
	case CompatibilityNone:
		return `none`
	default:
		return `unspecified`
	}
}

// SchemaVersionDescriptor is a (version id, version number) pair. Version numbers are
// assigned by the registry; a zero number means the number is not known locally.
type SchemaVersionDescriptor struct {
	VersionID     SchemaVersionID
	VersionNumber int
}

func (d SchemaVersionDescriptor) String() string {
	return fmt.Sprintf(`%s#%d`, d.VersionID, d.VersionNumber)
}

// SchemaVersion is an immutable registered snapshot of a schema definition
type SchemaVersion struct {
	SchemaName    SchemaName
	VersionID     SchemaVersionID
	VersionNumber int
	Definition    string
	DataFormat    SchemaDataFormat
	RegisteredAt  time.Time
}

// Descriptor returns the version's (id, number) pair
func (v SchemaVersion) Descriptor() SchemaVersionDescriptor {
	return SchemaVersionDescriptor{VersionID: v.VersionID, VersionNumber: v.VersionNumber}
}

// Schema describes a named schema held by the registry
type Schema struct {
	Name          SchemaName
	DataFormat    SchemaDataFormat
	Compatibility CompatibilityMode
	Description   string
	Tags          map[string]string
	LatestVersion SchemaVersion
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SchemaIdentifier addresses a schema either by name or by one of its version ids
type SchemaIdentifier struct {
	Name      SchemaName
	VersionID SchemaVersionID
}

// IdentifyByName returns an identifier addressing the latest version of a schema
func IdentifyByName(name SchemaName) SchemaIdentifier {
	return SchemaIdentifier{Name: name}
}

// IdentifyByVersionID returns an identifier addressing a specific version
func IdentifyByVersionID(id SchemaVersionID) SchemaIdentifier {
	return SchemaIdentifier{VersionID: id}
}

// ByVersionID reports whether the identifier addresses a version id
func (i SchemaIdentifier) ByVersionID() bool {
	return i.VersionID != uuid.Nil
}

func (i SchemaIdentifier) String() string {
	if i.ByVersionID() {
		return i.VersionID.String()
	}

	return string(i.Name)
}
