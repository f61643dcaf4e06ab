/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = `github.com/tryfix/eventschema`

// versionList is an immutable list of versions confirmed compatible with a type. The last
// element is the most recently confirmed version.
type versionList struct {
	versions []SchemaVersionDescriptor
}

func (l *versionList) last() SchemaVersionDescriptor {
	return l.versions[len(l.versions)-1]
}

func (l *versionList) contains(id SchemaVersionID) bool {
	for _, v := range l.versions {
		if v.VersionID == id {
			return true
		}
	}

	return false
}

// with returns a list that also holds latest, and presented just before the last element.
// Nothing is ever removed; l is returned unchanged when it already holds both.
func (l *versionList) with(presented *SchemaVersionDescriptor, latest SchemaVersionDescriptor) *versionList {
	versions := append(make([]SchemaVersionDescriptor, 0, len(l.versions)+2), l.versions...)
	changed := false

	if !l.contains(latest.VersionID) {
		versions = append(versions, latest)
		changed = true
	}

	if presented != nil && presented.VersionID != latest.VersionID && !l.contains(presented.VersionID) {
		at := len(versions) - 1
		versions = append(versions[:at], append([]SchemaVersionDescriptor{*presented}, versions[at:]...)...)
		changed = true
	}

	if !changed {
		return l
	}

	return &versionList{versions: versions}
}

func newVersionList(presented *SchemaVersionDescriptor, latest SchemaVersionDescriptor) *versionList {
	if presented != nil && presented.VersionID != latest.VersionID {
		return &versionList{versions: []SchemaVersionDescriptor{*presented, latest}}
	}

	return &versionList{versions: []SchemaVersionDescriptor{latest}}
}

// SchemaManager registers and validates schemas of application types against the registry
// and caches, per type, the versions confirmed compatible.
//
// A type pays registry round-trips only until one of its versions is confirmed; afterwards every
// lookup for the same or an older compatible version is served from the cache. The cache is
// append-only and never holds the outcome of a failed call.
type SchemaManager struct {
	client            RegistryClient
	types             *TypeMapper
	exporter          SchemaExporter
	compatibility     CompatibilityMode
	maxAttempts       int
	warmUpConcurrency int

	// reflect.Type -> *versionList
	compatible sync.Map

	logger  log.Logger
	tracer  trace.Tracer
	metrics *managerMetrics
}

// NewSchemaManager returns a SchemaManager using client as the remote registry and types as the
// name/type mapping
func NewSchemaManager(client RegistryClient, types *TypeMapper, opts ...Option) *SchemaManager {
	o := newOptions(opts...)
	if types == nil {
		types = NewTypeMapper(o.resolver)
	}

	return &SchemaManager{
		client:            client,
		types:             types,
		exporter:          o.exporter,
		compatibility:     o.compatibility,
		maxAttempts:       o.maxRegistrationAttempts,
		warmUpConcurrency: o.warmUpConcurrency,
		logger:            o.logger.NewLog(log.Prefixed(`SchemaManager`)),
		tracer:            o.tracerProvider.Tracer(instrumentationName),
		metrics:           newManagerMetrics(o.registerer),
	}
}

// TypeMapper returns the name/type mapping used by the manager
func (m *SchemaManager) TypeMapper() *TypeMapper {
	return m.types
}

// RegisterSchema returns the registered version of the schema of t, creating the schema when
// the registry does not know it yet. Concurrent first time registrations of the same type all
// observe the same version.
func (m *SchemaManager) RegisterSchema(ctx context.Context, name SchemaName, t reflect.Type, format SchemaDataFormat) (SchemaVersionDescriptor, error) {
	if err := validateRequest(name, t, format); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if list, ok := m.load(t); ok {
			m.metrics.cacheHits.WithLabelValues(`register`).Inc()
			return list.last(), nil
		}

		if err := ctx.Err(); err != nil {
			return SchemaVersionDescriptor{}, err
		}

		existing, err := m.GetSchemaVersion(ctx, name, nil)
		if err == nil {
			return m.seed(t, existing.Descriptor()).last(), nil
		}
		if !IsNotFound(err) {
			return SchemaVersionDescriptor{}, err
		}

		definition, err := m.exporter.Export(t, format)
		if err != nil {
			return SchemaVersionDescriptor{}, err
		}

		created, err := m.createSchema(ctx, CreateSchemaRequest{
			Name:          name,
			Definition:    definition,
			DataFormat:    format,
			Compatibility: m.compatibility,
			Tags:          map[string]string{`type`: qualifiedTypeName(t)},
		})
		if IsAlreadyExists(err) {
			m.metrics.retries.Inc()
			m.logger.Debug(fmt.Sprintf(`schema [%s] was created concurrently, retrying (attempt %d)`, name, attempt))
			continue
		}
		if err != nil {
			return SchemaVersionDescriptor{}, err
		}

		if _, loaded := m.compatible.LoadOrStore(t, newVersionList(nil, created)); !loaded {
			m.logger.Info(fmt.Sprintf(`schema [%s] registered for type %v with version %s`, name, t, created))
			return created, nil
		}

		m.metrics.retries.Inc()
		m.logger.Debug(fmt.Sprintf(`lost registration race for type %v, retrying (attempt %d)`, t, attempt))
	}

	return SchemaVersionDescriptor{}, fmt.Errorf(`schema [%s] after %d attempts: %w`, name, m.maxAttempts, ErrRegistrationContention)
}

// EnsureCompatibilityByVersionID confirms that t is compatible with the given registered
// version. It is the fast path for records produced by schema-aware writers.
func (m *SchemaManager) EnsureCompatibilityByVersionID(ctx context.Context, id SchemaVersionID, t reflect.Type, format SchemaDataFormat) (SchemaVersionDescriptor, error) {
	if id == (SchemaVersionID{}) {
		return SchemaVersionDescriptor{}, &PreconditionError{Reason: `schema version id cannot be empty`}
	}
	if err := validateType(t, format); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	if list, ok := m.load(t); ok && list.contains(id) {
		m.metrics.cacheHits.WithLabelValues(`validate`).Inc()
		return list.last(), nil
	}

	return m.ensureCompatibility(ctx, IdentifyByVersionID(id), t, format)
}

// EnsureCompatibilityBySchemaName confirms that t is compatible with the latest version of the
// named schema. It is the fallback for records carrying no version id.
func (m *SchemaManager) EnsureCompatibilityBySchemaName(ctx context.Context, name SchemaName, t reflect.Type, format SchemaDataFormat) (SchemaVersionDescriptor, error) {
	if err := validateRequest(name, t, format); err != nil {
		return SchemaVersionDescriptor{}, err
	}

	if list, ok := m.load(t); ok {
		m.metrics.cacheHits.WithLabelValues(`validate`).Inc()
		return list.last(), nil
	}

	return m.ensureCompatibility(ctx, IdentifyByName(name), t, format)
}

func (m *SchemaManager) ensureCompatibility(ctx context.Context, identifier SchemaIdentifier, t reflect.Type, format SchemaDataFormat) (SchemaVersionDescriptor, error) {
	definition, err := m.exporter.Export(t, format)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}

	latest, err := m.checkCompatibility(ctx, identifier, definition, format)
	if err != nil {
		return SchemaVersionDescriptor{}, err
	}

	var presented *SchemaVersionDescriptor
	if identifier.ByVersionID() {
		presented = m.presentedVersion(ctx, identifier.VersionID, latest)
	}

	last := m.extend(t, presented, latest).last()
	m.logger.Debug(fmt.Sprintf(`type %v confirmed compatible with [%s], last version %s`, t, identifier, last))

	return last, nil
}

// presentedVersion returns the descriptor of a version presented by id. The number stays zero
// when the registry cannot resolve it.
func (m *SchemaManager) presentedVersion(ctx context.Context, id SchemaVersionID, latest SchemaVersionDescriptor) *SchemaVersionDescriptor {
	if id == latest.VersionID {
		return &latest
	}

	version, err := m.GetSchemaVersionByID(ctx, id)
	if err != nil {
		m.logger.Debug(fmt.Sprintf(`version number of %s unknown due to %s`, id, err))
		return &SchemaVersionDescriptor{VersionID: id}
	}

	descriptor := version.Descriptor()
	return &descriptor
}

// CompatibleVersions returns the versions confirmed compatible with t, oldest first
func (m *SchemaManager) CompatibleVersions(t reflect.Type) []SchemaVersionDescriptor {
	list, ok := m.load(t)
	if !ok {
		return nil
	}

	return append([]SchemaVersionDescriptor(nil), list.versions...)
}

func (m *SchemaManager) load(t reflect.Type) (*versionList, bool) {
	v, ok := m.compatible.Load(t)
	if !ok {
		return nil, false
	}

	return v.(*versionList), true
}

// seed stores a single version list for t unless another list won the race, and returns the
// stored list
func (m *SchemaManager) seed(t reflect.Type, version SchemaVersionDescriptor) *versionList {
	actual, _ := m.compatible.LoadOrStore(t, newVersionList(nil, version))
	return actual.(*versionList)
}

// extend adds latest and presented to the list of t with compare-and-swap, so a concurrent
// extension never drops an already confirmed version
func (m *SchemaManager) extend(t reflect.Type, presented *SchemaVersionDescriptor, latest SchemaVersionDescriptor) *versionList {
	for {
		current, ok := m.load(t)
		if !ok {
			next := newVersionList(presented, latest)
			actual, loaded := m.compatible.LoadOrStore(t, next)
			if !loaded {
				return next
			}
			current = actual.(*versionList)
		}

		next := current.with(presented, latest)
		if next == current {
			return current
		}
		if m.compatible.CompareAndSwap(t, current, next) {
			return next
		}
	}
}

// GetSchema returns the schema descriptor of name
func (m *SchemaManager) GetSchema(ctx context.Context, name SchemaName) (schema Schema, err error) {
	err = m.observe(ctx, `get_schema`, string(name), func(ctx context.Context) error {
		schema, err = m.client.GetSchema(ctx, name)
		return err
	})

	return schema, err
}

// GetSchemaVersion returns a version of name, the latest one when versionNumber is nil
func (m *SchemaManager) GetSchemaVersion(ctx context.Context, name SchemaName, versionNumber *int) (version SchemaVersion, err error) {
	err = m.observe(ctx, `get_schema_version`, string(name), func(ctx context.Context) error {
		version, err = m.client.GetSchemaVersion(ctx, name, versionNumber)
		return err
	})

	return version, err
}

// GetSchemaVersionByID returns the version with the given id
func (m *SchemaManager) GetSchemaVersionByID(ctx context.Context, id SchemaVersionID) (version SchemaVersion, err error) {
	err = m.observe(ctx, `get_schema_version_by_id`, id.String(), func(ctx context.Context) error {
		version, err = m.client.GetSchemaVersionByID(ctx, id)
		return err
	})

	return version, err
}

// DeleteSchema deletes name from the registry. Local mappings and cached compatible versions
// are kept.
func (m *SchemaManager) DeleteSchema(ctx context.Context, name SchemaName) error {
	return m.observe(ctx, `delete_schema`, string(name), func(ctx context.Context) error {
		return m.client.DeleteSchema(ctx, name)
	})
}

func (m *SchemaManager) createSchema(ctx context.Context, req CreateSchemaRequest) (version SchemaVersionDescriptor, err error) {
	err = m.observe(ctx, `create_schema`, string(req.Name), func(ctx context.Context) error {
		version, err = m.client.CreateSchema(ctx, req)
		return err
	})

	return version, err
}

func (m *SchemaManager) checkCompatibility(ctx context.Context, identifier SchemaIdentifier, definition string, format SchemaDataFormat) (version SchemaVersionDescriptor, err error) {
	err = m.observe(ctx, `check_schema_compatibility`, identifier.String(), func(ctx context.Context) error {
		version, err = m.client.CheckSchemaCompatibility(ctx, identifier, definition, format)
		return err
	})

	return version, err
}

func (m *SchemaManager) observe(ctx context.Context, operation, identifier string, fn func(ctx context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, `eventschema.`+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(`schema.identifier`, identifier)))
	defer span.End()

	err := fn(ctx)
	m.metrics.observeRequest(operation, err)
	if err != nil && !IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// Print logs the mapped schemas and their confirmed compatible versions as a table
func (m *SchemaManager) Print() {
	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`schema`, `type`, `compatible versions`, `last version`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.SetAutoFormatHeaders(true)

	mappings := m.types.Mappings()
	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, string(name))
	}
	sort.Strings(names)

	for _, name := range names {
		t := mappings[SchemaName(name)]
		row := []string{name, fmt.Sprint(t), `0`, `-`}
		if list, ok := m.load(t); ok {
			row[2] = fmt.Sprint(len(list.versions))
			row[3] = list.last().String()
		}
		table.Append(row)
	}

	table.Render()
	m.logger.Info(fmt.Sprintf("schemas\n%s", b.String()))
}

func validateType(t reflect.Type, format SchemaDataFormat) error {
	if t == nil {
		return &PreconditionError{Reason: `message type cannot be nil`}
	}

	return format.validate()
}

func validateRequest(name SchemaName, t reflect.Type, format SchemaDataFormat) error {
	if name.IsEmpty() {
		return &PreconditionError{Reason: `schema name cannot be empty`}
	}

	return validateType(t, format)
}
