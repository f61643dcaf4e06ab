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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hamba/avro/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tryfix/errors"
)

type localSchema struct {
	schema   Schema
	versions []SchemaVersion
}

// LocalRegistry is an in-memory RegistryClient. It enforces the compatibility mode of each
// schema when versions are added or checked, which makes it usable for tests and single
// process setups.
type LocalRegistry struct {
	mu      sync.RWMutex
	schemas map[SchemaName]*localSchema
	byID    map[SchemaVersionID]SchemaVersion
	json    jsoniter.API
	now     func() time.Time
}

// NewLocalRegistry returns an empty LocalRegistry
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{
		schemas: make(map[SchemaName]*localSchema),
		byID:    make(map[SchemaVersionID]SchemaVersion),
		json:    jsoniter.ConfigCompatibleWithStandardLibrary,
		now:     time.Now,
	}
}

// CreateSchema implements RegistryClient
func (r *LocalRegistry) CreateSchema(ctx context.Context, req CreateSchemaRequest) (SchemaVersionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersionDescriptor{}, err
	}
	if req.Name.IsEmpty() {
		return SchemaVersionDescriptor{}, &PreconditionError{Reason: `schema name cannot be empty`}
	}
	if err := req.DataFormat.validate(); err != nil {
		return SchemaVersionDescriptor{}, err
	}
	if err := r.validateDefinition(req.Definition, req.DataFormat); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[req.Name]; ok {
		return SchemaVersionDescriptor{}, fmt.Errorf(`schema [%s]: %w`, req.Name, ErrAlreadyExists)
	}

	mode := req.Compatibility
	if mode == CompatibilityUnspecified {
		mode = CompatibilityBackward
	}

	now := r.now()
	version := SchemaVersion{
		SchemaName:    req.Name,
		VersionID:     uuid.New(),
		VersionNumber: 1,
		Definition:    req.Definition,
		DataFormat:    req.DataFormat,
		RegisteredAt:  now,
	}

	r.schemas[req.Name] = &localSchema{
		schema: Schema{
			Name:          req.Name,
			DataFormat:    req.DataFormat,
			Compatibility: mode,
			Description:   req.Description,
			Tags:          req.Tags,
			LatestVersion: version,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		versions: []SchemaVersion{version},
	}
	r.byID[version.VersionID] = version

	return version.Descriptor(), nil
}

// RegisterSchemaVersion adds a version to an existing schema. The definition must be
// compatible with the latest version under the compatibility mode of the schema.
func (r *LocalRegistry) RegisterSchemaVersion(ctx context.Context, name SchemaName, definition string) (SchemaVersionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schemas[name]
	if !ok {
		return SchemaVersionDescriptor{}, &NotFoundError{Identifier: string(name)}
	}
	if err := r.validateDefinition(definition, s.schema.DataFormat); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	latest := s.versions[len(s.versions)-1]
	if latest.Definition == definition {
		return latest.Descriptor(), nil
	}

	issues, err := r.compare(latest.Definition, definition, s.schema.DataFormat, s.schema.Compatibility)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}
	if len(issues) > 0 {
		return SchemaVersionDescriptor{}, &CompatibilityError{Identifier: string(name), Issues: issues}
	}

	now := r.now()
	version := SchemaVersion{
		SchemaName:    name,
		VersionID:     uuid.New(),
		VersionNumber: latest.VersionNumber + 1,
		Definition:    definition,
		DataFormat:    s.schema.DataFormat,
		RegisteredAt:  now,
	}
	s.versions = append(s.versions, version)
	s.schema.LatestVersion = version
	s.schema.UpdatedAt = now
	r.byID[version.VersionID] = version

	return version.Descriptor(), nil
}

// GetSchema implements RegistryClient
func (r *LocalRegistry) GetSchema(ctx context.Context, name SchemaName) (Schema, error) {
	if err := ctx.Err(); err != nil {
		return Schema{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	if !ok {
		return Schema{}, &NotFoundError{Identifier: string(name)}
	}

	return s.schema, nil
}

// GetSchemaVersion implements RegistryClient
func (r *LocalRegistry) GetSchemaVersion(ctx context.Context, name SchemaName, versionNumber *int) (SchemaVersion, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersion{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	if !ok {
		return SchemaVersion{}, &NotFoundError{Identifier: string(name)}
	}

	if versionNumber == nil {
		return s.versions[len(s.versions)-1], nil
	}

	for _, v := range s.versions {
		if v.VersionNumber == *versionNumber {
			return v, nil
		}
	}

	return SchemaVersion{}, &NotFoundError{Identifier: fmt.Sprintf(`%s@%d`, name, *versionNumber)}
}

// GetSchemaVersionByID implements RegistryClient
func (r *LocalRegistry) GetSchemaVersionByID(ctx context.Context, id SchemaVersionID) (SchemaVersion, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersion{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.byID[id]
	if !ok {
		return SchemaVersion{}, &NotFoundError{Identifier: id.String()}
	}

	return v, nil
}

// DeleteSchema implements RegistryClient
func (r *LocalRegistry) DeleteSchema(ctx context.Context, name SchemaName) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schemas[name]
	if !ok {
		return &NotFoundError{Identifier: string(name)}
	}

	for _, v := range s.versions {
		delete(r.byID, v.VersionID)
	}
	delete(r.schemas, name)

	return nil
}

// CheckSchemaCompatibility implements RegistryClient. The definition is checked against the
// identified version, or the latest one when identified by name. The latest version is
// returned when the definition is also compatible with it.
func (r *LocalRegistry) CheckSchemaCompatibility(ctx context.Context, identifier SchemaIdentifier, definition string, format SchemaDataFormat) (SchemaVersionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersionDescriptor{}, err
	}
	if err := format.validate(); err != nil {
		return SchemaVersionDescriptor{}, err
	}
	if err := r.validateDefinition(definition, format); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	target, s, err := r.lookup(identifier)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}

	if s.schema.DataFormat != format {
		return SchemaVersionDescriptor{}, &CompatibilityError{Identifier: identifier.String(), Issues: []CompatibilityIssue{{
			Kind:         `DataFormatMismatch`,
			OriginalType: s.schema.DataFormat.String(),
			NewType:      format.String(),
		}}}
	}

	issues, err := r.compare(target.Definition, definition, format, s.schema.Compatibility)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}
	if len(issues) > 0 {
		return SchemaVersionDescriptor{}, &CompatibilityError{Identifier: identifier.String(), Issues: issues}
	}

	latest := s.versions[len(s.versions)-1]
	if latest.VersionID == target.VersionID {
		return latest.Descriptor(), nil
	}

	if issues, err := r.compare(latest.Definition, definition, format, s.schema.Compatibility); err == nil && len(issues) == 0 {
		return latest.Descriptor(), nil
	}

	return target.Descriptor(), nil
}

func (r *LocalRegistry) lookup(identifier SchemaIdentifier) (SchemaVersion, *localSchema, error) {
	if identifier.ByVersionID() {
		v, ok := r.byID[identifier.VersionID]
		if !ok {
			return SchemaVersion{}, nil, &NotFoundError{Identifier: identifier.String()}
		}
		return v, r.schemas[v.SchemaName], nil
	}

	s, ok := r.schemas[identifier.Name]
	if !ok {
		return SchemaVersion{}, nil, &NotFoundError{Identifier: identifier.String()}
	}

	return s.versions[len(s.versions)-1], s, nil
}

func (r *LocalRegistry) validateDefinition(definition string, format SchemaDataFormat) error {
	if strings.TrimSpace(definition) == `` {
		return &PreconditionError{Reason: `schema definition cannot be empty`}
	}

	switch format {
	case DataFormatJson:
		if _, err := jsonschema.CompileString(`schema.json`, definition); err != nil {
			return errors.WithPrevious(err, `invalid json schema definition`)
		}
	case DataFormatAvro:
		if _, err := avro.Parse(definition); err != nil {
			return errors.WithPrevious(err, `invalid avro schema definition`)
		}
	case DataFormatProtobuf:
		if _, err := r.protoMessageName(definition); err != nil {
			return err
		}
	}

	return nil
}

// compare returns the issues found when replacing previous with next under mode
func (r *LocalRegistry) compare(previous, next string, format SchemaDataFormat, mode CompatibilityMode) ([]CompatibilityIssue, error) {
	if mode == CompatibilityNone {
		return nil, nil
	}

	switch format {
	case DataFormatJson:
		return r.compareJSON(previous, next, mode)
	case DataFormatAvro:
		return compareAvro(previous, next, mode)
	case DataFormatProtobuf:
		return r.compareProtobuf(previous, next)
	}

	return nil, nil
}

type jsonNode struct {
	Type       interface{}          `json:"type"`
	Properties map[string]*jsonNode `json:"properties"`
	Required   []string             `json:"required"`
	Items      *jsonNode            `json:"items"`
}

func (r *LocalRegistry) compareJSON(previous, next string, mode CompatibilityMode) ([]CompatibilityIssue, error) {
	prev, curr := new(jsonNode), new(jsonNode)
	if err := r.json.Unmarshal([]byte(previous), prev); err != nil {
		return nil, errors.WithPrevious(err, `cannot read json schema definition`)
	}
	if err := r.json.Unmarshal([]byte(next), curr); err != nil {
		return nil, errors.WithPrevious(err, `cannot read json schema definition`)
	}

	issues := make([]CompatibilityIssue, 0)
	diffJSON(`$`, prev, curr, mode, &issues)

	return issues, nil
}

func diffJSON(path string, prev, curr *jsonNode, mode CompatibilityMode, issues *[]CompatibilityIssue) {
	if prev == nil || curr == nil {
		return
	}

	if prevType, currType := fmt.Sprint(prev.Type), fmt.Sprint(curr.Type); prev.Type != nil && curr.Type != nil && prevType != currType {
		*issues = append(*issues, CompatibilityIssue{
			Kind:         `TypeChanged`,
			PropertyPath: path,
			OriginalType: prevType,
			NewType:      currType,
		})
		return
	}

	checkBackward := mode == CompatibilityBackward || mode == CompatibilityFull
	checkForward := mode == CompatibilityForward || mode == CompatibilityFull

	currRequired := stringSet(curr.Required)

	if checkBackward {
		for _, name := range curr.Required {
			if _, ok := prev.Properties[name]; !ok {
				*issues = append(*issues, CompatibilityIssue{
					Kind:         `NewRequiredProperty`,
					PropertyPath: path + `.` + name,
					NewType:      fmt.Sprint(typeOf(curr.Properties[name])),
					Details:      `readers of the new version require a property absent in existing data`,
				})
			}
		}
	}

	if checkForward {
		for _, name := range prev.Required {
			if _, ok := currRequired[name]; !ok {
				*issues = append(*issues, CompatibilityIssue{
					Kind:         `RemovedRequiredProperty`,
					PropertyPath: path + `.` + name,
					OriginalType: fmt.Sprint(typeOf(prev.Properties[name])),
					Details:      `readers of the previous version require a property the new version may omit`,
				})
			}
		}
	}

	names := make([]string, 0, len(prev.Properties))
	for name := range prev.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if next, ok := curr.Properties[name]; ok {
			diffJSON(path+`.`+name, prev.Properties[name], next, mode, issues)
		}
	}

	if prev.Items != nil && curr.Items != nil {
		diffJSON(path+`[]`, prev.Items, curr.Items, mode, issues)
	}
}

func typeOf(n *jsonNode) interface{} {
	if n == nil {
		return nil
	}

	return n.Type
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}

	return set
}

func compareAvro(previous, next string, mode CompatibilityMode) ([]CompatibilityIssue, error) {
	prev, err := avro.Parse(previous)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot read avro schema definition`)
	}
	curr, err := avro.Parse(next)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot read avro schema definition`)
	}

	compat := avro.NewSchemaCompatibility()
	issues := make([]CompatibilityIssue, 0)

	if mode == CompatibilityBackward || mode == CompatibilityFull {
		if err := compat.Compatible(curr, prev); err != nil {
			issues = append(issues, CompatibilityIssue{Kind: `BackwardIncompatible`, Details: err.Error()})
		}
	}
	if mode == CompatibilityForward || mode == CompatibilityFull {
		if err := compat.Compatible(prev, curr); err != nil {
			issues = append(issues, CompatibilityIssue{Kind: `ForwardIncompatible`, Details: err.Error()})
		}
	}

	return issues, nil
}

func (r *LocalRegistry) compareProtobuf(previous, next string) ([]CompatibilityIssue, error) {
	prev, err := r.protoMessageName(previous)
	if err != nil {
		return nil, err
	}
	curr, err := r.protoMessageName(next)
	if err != nil {
		return nil, err
	}

	if prev != curr {
		return []CompatibilityIssue{{
			Kind:         `MessageChanged`,
			OriginalType: prev,
			NewType:      curr,
		}}, nil
	}

	return nil, nil
}

func (r *LocalRegistry) protoMessageName(definition string) (string, error) {
	var doc struct {
		Message string `json:"message"`
	}
	if err := r.json.Unmarshal([]byte(definition), &doc); err != nil {
		return ``, errors.WithPrevious(err, `invalid protobuf schema definition`)
	}
	if doc.Message == `` {
		return ``, &PreconditionError{Reason: `protobuf schema definition names no message`}
	}

	return doc.Message, nil
}
