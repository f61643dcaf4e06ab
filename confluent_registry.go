/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/riferrei/srclient"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

// confluentIDSpace prefixes Confluent integer schema ids to turn them into version ids
var confluentIDSpace = uuid.MustParse(`c0f1ae17-5c4e-4a11-8000-000000000000`)

// ConfluentConfig is the connection configuration of a Confluent compatible schema registry
type ConfluentConfig struct {
	URL      string
	Username string
	Password string
}

type confluentVersion struct {
	subject string
	version int
}

// ConfluentRegistry is a RegistryClient backed by a Confluent compatible schema registry.
// Schema names are used as subjects and Confluent schema ids are carried in the low 32 bits of
// the version ids.
type ConfluentRegistry struct {
	client srclient.ISchemaRegistryClient
	logger log.Logger

	mu       sync.RWMutex
	versions map[int]confluentVersion
}

// NewConfluentRegistry returns a ConfluentRegistry connected to cfg.URL
func NewConfluentRegistry(cfg ConfluentConfig, logger log.Logger) (*ConfluentRegistry, error) {
	if cfg.URL == `` {
		return nil, &PreconditionError{Reason: `schema registry url is required`}
	}

	client := srclient.CreateSchemaRegistryClient(cfg.URL)
	if cfg.Username != `` {
		client.SetCredentials(cfg.Username, cfg.Password)
	}

	return NewConfluentRegistryWithClient(client, logger), nil
}

// NewConfluentRegistryWithClient wraps an existing srclient client, for instance the srclient mock
func NewConfluentRegistryWithClient(client srclient.ISchemaRegistryClient, logger log.Logger) *ConfluentRegistry {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &ConfluentRegistry{
		client:   client,
		logger:   logger.NewLog(log.Prefixed(`ConfluentRegistry`)),
		versions: make(map[int]confluentVersion),
	}
}

// CreateSchema implements RegistryClient. Confluent registries add versions to existing
// subjects silently, so the subject is looked up first.
func (r *ConfluentRegistry) CreateSchema(ctx context.Context, req CreateSchemaRequest) (SchemaVersionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	schemaType, err := confluentSchemaType(req.DataFormat)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}

	if _, err := r.client.GetLatestSchema(string(req.Name)); err == nil {
		return SchemaVersionDescriptor{}, fmt.Errorf(`subject [%s]: %w`, req.Name, ErrAlreadyExists)
	} else if !isConfluentNotFound(err) {
		return SchemaVersionDescriptor{}, errors.WithPrevious(err, fmt.Sprintf(`cannot lookup subject [%s]`, req.Name))
	}

	s, err := r.client.CreateSchema(string(req.Name), req.Definition, schemaType)
	if err != nil {
		return SchemaVersionDescriptor{}, errors.WithPrevious(err, fmt.Sprintf(`cannot create subject [%s]`, req.Name))
	}

	if level, ok := confluentCompatibilityLevel(req.Compatibility); ok {
		if _, err := r.client.ChangeSubjectCompatibilityLevel(string(req.Name), level); err != nil {
			r.logger.Warn(fmt.Sprintf(`cannot set compatibility of subject [%s] to %s due to %s`, req.Name, level, err))
		}
	}

	r.logger.Info(fmt.Sprintf(`subject [%s] created with schema id %d`, req.Name, s.ID()))

	return r.remember(req.Name, s), nil
}

// GetSchema implements RegistryClient
func (r *ConfluentRegistry) GetSchema(ctx context.Context, name SchemaName) (Schema, error) {
	latest, err := r.GetSchemaVersion(ctx, name, nil)
	if err != nil {
		return Schema{}, err
	}

	return Schema{
		Name:          name,
		DataFormat:    latest.DataFormat,
		LatestVersion: latest,
	}, nil
}

// GetSchemaVersion implements RegistryClient
func (r *ConfluentRegistry) GetSchemaVersion(ctx context.Context, name SchemaName, versionNumber *int) (SchemaVersion, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersion{}, err
	}

	var (
		s   *srclient.Schema
		err error
	)
	if versionNumber == nil {
		s, err = r.client.GetLatestSchema(string(name))
	} else {
		s, err = r.client.GetSchemaByVersion(string(name), *versionNumber)
	}
	if err != nil {
		if isConfluentNotFound(err) {
			return SchemaVersion{}, &NotFoundError{Identifier: string(name)}
		}
		return SchemaVersion{}, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch subject [%s]`, name))
	}

	return r.version(name, s), nil
}

// GetSchemaVersionByID implements RegistryClient. Ids of other processes are resolved through
// the subjects registered for their schema id.
func (r *ConfluentRegistry) GetSchemaVersionByID(ctx context.Context, id SchemaVersionID) (SchemaVersion, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersion{}, err
	}

	known, err := r.lookup(id)
	if err != nil {
		return SchemaVersion{}, err
	}

	return r.GetSchemaVersion(ctx, SchemaName(known.subject), &known.version)
}

// DeleteSchema implements RegistryClient
func (r *ConfluentRegistry) DeleteSchema(ctx context.Context, name SchemaName) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.client.DeleteSubject(string(name), false); err != nil {
		if isConfluentNotFound(err) {
			return &NotFoundError{Identifier: string(name)}
		}
		return errors.WithPrevious(err, fmt.Sprintf(`cannot delete subject [%s]`, name))
	}

	r.mu.Lock()
	for id, v := range r.versions {
		if v.subject == string(name) {
			delete(r.versions, id)
		}
	}
	r.mu.Unlock()

	return nil
}

// CheckSchemaCompatibility implements RegistryClient
func (r *ConfluentRegistry) CheckSchemaCompatibility(ctx context.Context, identifier SchemaIdentifier, definition string, format SchemaDataFormat) (SchemaVersionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	schemaType, err := confluentSchemaType(format)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}

	subject, version := string(identifier.Name), `latest`
	if identifier.ByVersionID() {
		known, err := r.lookup(identifier.VersionID)
		if err != nil {
			return SchemaVersionDescriptor{}, err
		}
		subject, version = known.subject, fmt.Sprint(known.version)
	}

	compatible, err := r.client.IsSchemaCompatible(subject, definition, version, schemaType)
	if err != nil {
		if isConfluentNotFound(err) {
			return SchemaVersionDescriptor{}, &NotFoundError{Identifier: identifier.String()}
		}
		return SchemaVersionDescriptor{}, errors.WithPrevious(err, fmt.Sprintf(`compatibility check failed for [%s]`, identifier))
	}
	if !compatible {
		return SchemaVersionDescriptor{}, &CompatibilityError{Identifier: identifier.String(), Issues: []CompatibilityIssue{{
			Kind:    `Incompatible`,
			Details: fmt.Sprintf(`subject [%s] version %s rejected the definition`, subject, version),
		}}}
	}

	latest, err := r.GetSchemaVersion(ctx, SchemaName(subject), nil)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}

	return latest.Descriptor(), nil
}

func (r *ConfluentRegistry) remember(name SchemaName, s *srclient.Schema) SchemaVersionDescriptor {
	r.mu.Lock()
	r.versions[s.ID()] = confluentVersion{subject: string(name), version: s.Version()}
	r.mu.Unlock()

	return SchemaVersionDescriptor{VersionID: confluentVersionID(s.ID()), VersionNumber: s.Version()}
}

func (r *ConfluentRegistry) version(name SchemaName, s *srclient.Schema) SchemaVersion {
	descriptor := r.remember(name, s)

	format := DataFormatAvro
	if t := s.SchemaType(); t != nil {
		format = dataFormatOf(*t)
	}

	return SchemaVersion{
		SchemaName:    name,
		VersionID:     descriptor.VersionID,
		VersionNumber: descriptor.VersionNumber,
		Definition:    s.Schema(),
		DataFormat:    format,
	}
}

// lookup maps a version id back to its subject and version, asking the registry for the
// subjects of the schema id when the id was issued to another process
func (r *ConfluentRegistry) lookup(id SchemaVersionID) (confluentVersion, error) {
	schemaID, ok := confluentSchemaID(id)
	if !ok {
		return confluentVersion{}, &NotFoundError{Identifier: id.String()}
	}

	r.mu.RLock()
	v, ok := r.versions[schemaID]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	pairs, err := r.client.GetSubjectVersionsById(schemaID)
	if err != nil {
		if isConfluentNotFound(err) {
			return confluentVersion{}, &NotFoundError{Identifier: id.String()}
		}
		return confluentVersion{}, errors.WithPrevious(err, fmt.Sprintf(`cannot lookup subjects of schema id %d`, schemaID))
	}
	if len(pairs) == 0 {
		return confluentVersion{}, &NotFoundError{Identifier: id.String()}
	}

	v = confluentVersion{subject: pairs[0].Subject, version: pairs[0].Version}
	r.mu.Lock()
	r.versions[schemaID] = v
	r.mu.Unlock()

	r.logger.Debug(fmt.Sprintf(`schema id %d resolved to subject [%s] version %d`, schemaID, v.subject, v.version))

	return v, nil
}

func confluentVersionID(schemaID int) SchemaVersionID {
	id := confluentIDSpace
	binary.BigEndian.PutUint32(id[12:], uint32(schemaID))
	return id
}

func confluentSchemaID(id SchemaVersionID) (int, bool) {
	prefix := confluentIDSpace
	for i := 0; i < 12; i++ {
		if id[i] != prefix[i] {
			return 0, false
		}
	}

	return int(binary.BigEndian.Uint32(id[12:])), true
}

func confluentSchemaType(format SchemaDataFormat) (srclient.SchemaType, error) {
	switch format {
	case DataFormatAvro:
		return srclient.Avro, nil
	case DataFormatJson:
		return srclient.Json, nil
	case DataFormatProtobuf:
		return srclient.Protobuf, nil
	}

	return ``, &PreconditionError{Reason: fmt.Sprintf(`data format %s is not supported by confluent registries`, format)}
}

func dataFormatOf(t srclient.SchemaType) SchemaDataFormat {
	switch t {
	case srclient.Json:
		return DataFormatJson
	case srclient.Protobuf:
		return DataFormatProtobuf
	}

	return DataFormatAvro
}

func confluentCompatibilityLevel(mode CompatibilityMode) (srclient.CompatibilityLevel, bool) {
	switch mode {
	case CompatibilityBackward:
		return srclient.Backward, true
	case CompatibilityForward:
		return srclient.Forward, true
	case CompatibilityFull:
		return srclient.Full, true
	case CompatibilityNone:
		return srclient.None, true
	}

	return ``, false
}

// isConfluentNotFound detects subject, version and schema not found responses (error codes
// 40401, 40402 and 40403). Untyped errors of the srclient mock are matched on their text.
func isConfluentNotFound(err error) bool {
	var registryErr srclient.Error
	if stderrors.As(err, &registryErr) {
		return isConfluentNotFoundCode(registryErr.Code)
	}

	var registryErrPtr *srclient.Error
	if stderrors.As(err, &registryErrPtr) && registryErrPtr != nil {
		return isConfluentNotFoundCode(registryErrPtr.Code)
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, `not found`) || strings.Contains(msg, `404`)
}

func isConfluentNotFoundCode(code int) bool {
	switch code {
	case 404, 40401, 40402, 40403:
		return true
	}

	return false
}
