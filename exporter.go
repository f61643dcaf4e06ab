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
	"regexp"
	"strings"
	"time"

	"github.com/hamba/avro/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/tryfix/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
)

// SchemaExporter turns an application type into a schema definition for a data format
type SchemaExporter interface {
	Export(t reflect.Type, format SchemaDataFormat) (string, error)
}

// SchemaExporterFunc adapts a function to SchemaExporter
type SchemaExporterFunc func(t reflect.Type, format SchemaDataFormat) (string, error)

func (f SchemaExporterFunc) Export(t reflect.Type, format SchemaDataFormat) (string, error) {
	return f(t, format)
}

const jsonSchemaDraft = `https://json-schema.org/draft/2020-12/schema`

var (
	timeType         = reflect.TypeOf(time.Time{})
	protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()
	invalidAvroChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// ReflectExporter derives definitions from Go types: JSON Schema for Json, record schemas for
// Avro and file descriptors for Protobuf messages.
type ReflectExporter struct {
	json jsoniter.API
}

// NewReflectExporter returns a ReflectExporter
func NewReflectExporter() *ReflectExporter {
	return &ReflectExporter{json: jsoniter.ConfigCompatibleWithStandardLibrary}
}

// Export implements SchemaExporter
func (e *ReflectExporter) Export(t reflect.Type, format SchemaDataFormat) (string, error) {
	if t == nil {
		return ``, &PreconditionError{Reason: `message type cannot be nil`}
	}

	switch format {
	case DataFormatJson:
		return e.exportJSON(t)
	case DataFormatAvro:
		return e.exportAvro(t)
	case DataFormatProtobuf:
		return e.exportProtobuf(t)
	default:
		return ``, &PreconditionError{Reason: fmt.Sprintf(`cannot export a schema definition for data format %s`, format)}
	}
}

func (e *ReflectExporter) exportJSON(t reflect.Type) (string, error) {
	doc := jsonSchemaFor(t, map[reflect.Type]bool{})
	doc[`$schema`] = jsonSchemaDraft
	doc[`title`] = typeName(t)

	byt, err := e.json.Marshal(doc)
	if err != nil {
		return ``, errors.WithPrevious(err, fmt.Sprintf(`json schema export failed for type %v`, t))
	}

	return string(byt), nil
}

func jsonSchemaFor(t reflect.Type, seen map[reflect.Type]bool) map[string]interface{} {
	t = indirect(t)
	if t == timeType {
		return map[string]interface{}{`type`: `string`, `format`: `date-time`}
	}

	switch t.Kind() {
	case reflect.Bool:
		return map[string]interface{}{`type`: `boolean`}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]interface{}{`type`: `integer`}
	case reflect.Float32, reflect.Float64:
		return map[string]interface{}{`type`: `number`}
	case reflect.String:
		return map[string]interface{}{`type`: `string`}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return map[string]interface{}{`type`: `string`, `contentEncoding`: `base64`}
		}
		return map[string]interface{}{`type`: `array`, `items`: jsonSchemaFor(t.Elem(), seen)}
	case reflect.Map:
		return map[string]interface{}{`type`: `object`, `additionalProperties`: jsonSchemaFor(t.Elem(), seen)}
	case reflect.Struct:
		if seen[t] {
			return map[string]interface{}{`type`: `object`}
		}
		seen[t] = true
		defer delete(seen, t)

		properties := map[string]interface{}{}
		required := make([]string, 0)
		collectJSONProperties(t, seen, properties, &required)

		doc := map[string]interface{}{`type`: `object`, `properties`: properties}
		if len(required) > 0 {
			doc[`required`] = required
		}
		return doc
	default:
		return map[string]interface{}{}
	}
}

func collectJSONProperties(t reflect.Type, seen map[reflect.Type]bool, properties map[string]interface{}, required *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Tag.Get(`json`) == `` && indirect(f.Type).Kind() == reflect.Struct {
			collectJSONProperties(indirect(f.Type), seen, properties, required)
			continue
		}

		name, omitEmpty, skip := jsonFieldName(f)
		if skip {
			continue
		}

		properties[name] = jsonSchemaFor(f.Type, seen)
		if !omitEmpty && f.Type.Kind() != reflect.Ptr {
			*required = append(*required, name)
		}
	}
}

func jsonFieldName(f reflect.StructField) (name string, omitEmpty bool, skip bool) {
	if !f.IsExported() {
		return ``, false, true
	}

	tag := f.Tag.Get(`json`)
	if tag == `-` {
		return ``, false, true
	}

	parts := strings.Split(tag, `,`)
	name = parts[0]
	if name == `` {
		name = f.Name
	}
	for _, opt := range parts[1:] {
		if opt == `omitempty` {
			omitEmpty = true
		}
	}

	return name, omitEmpty, false
}

func (e *ReflectExporter) exportAvro(t reflect.Type) (string, error) {
	if indirect(t).Kind() != reflect.Struct {
		return ``, &PreconditionError{Reason: fmt.Sprintf(`avro schemas can only be exported for struct types, got %v`, t)}
	}

	s, err := avroSchemaFor(indirect(t), map[reflect.Type]bool{})
	if err != nil {
		return ``, err
	}

	byt, err := e.json.Marshal(s)
	if err != nil {
		return ``, errors.WithPrevious(err, fmt.Sprintf(`avro schema export failed for type %v`, t))
	}

	if _, err := avro.Parse(string(byt)); err != nil {
		return ``, errors.WithPrevious(err, fmt.Sprintf(`exported avro schema for type %v is invalid`, t))
	}

	return string(byt), nil
}

func avroName(s string) string {
	name := invalidAvroChars.ReplaceAllString(s, `_`)
	if name == `` || (name[0] >= '0' && name[0] <= '9') {
		name = `_` + name
	}

	return name
}

func avroNamespace(t reflect.Type) string {
	parts := strings.Split(t.PkgPath(), `/`)
	for i, p := range parts {
		parts[i] = avroName(p)
	}

	return strings.Join(parts, `.`)
}

func avroSchemaFor(t reflect.Type, seen map[reflect.Type]bool) (interface{}, error) {
	if t == timeType {
		return map[string]interface{}{`type`: `long`, `logicalType`: `timestamp-micros`}, nil
	}

	switch t.Kind() {
	case reflect.Ptr:
		inner, err := avroSchemaFor(t.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return []interface{}{`null`, inner}, nil
	case reflect.Bool:
		return `boolean`, nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return `int`, nil
	case reflect.Int, reflect.Int64, reflect.Uint32:
		return `long`, nil
	case reflect.Float32:
		return `float`, nil
	case reflect.Float64:
		return `double`, nil
	case reflect.String:
		return `string`, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return `bytes`, nil
		}
		items, err := avroSchemaFor(t.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{`type`: `array`, `items`: items}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, &PreconditionError{Reason: fmt.Sprintf(`avro maps require string keys, got %v`, t)}
		}
		values, err := avroSchemaFor(t.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{`type`: `map`, `values`: values}, nil
	case reflect.Struct:
		name := avroName(typeName(t))
		namespace := avroNamespace(t)
		if seen[t] {
			if namespace == `` {
				return name, nil
			}
			return namespace + `.` + name, nil
		}
		seen[t] = true

		fields := make([]interface{}, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get(`avro`) == `-` {
				continue
			}
			fieldName := f.Tag.Get(`avro`)
			if fieldName == `` {
				fieldName = f.Name
			}
			fieldType, err := avroSchemaFor(f.Type, seen)
			if err != nil {
				return nil, err
			}
			field := map[string]interface{}{`name`: fieldName, `type`: fieldType}
			if f.Type.Kind() == reflect.Ptr {
				field[`default`] = nil
			}
			fields = append(fields, field)
		}

		record := map[string]interface{}{`type`: `record`, `name`: name, `fields`: fields}
		if namespace != `` {
			record[`namespace`] = namespace
		}
		return record, nil
	default:
		return nil, &PreconditionError{Reason: fmt.Sprintf(`type %v has no avro representation`, t)}
	}
}

func (e *ReflectExporter) exportProtobuf(t reflect.Type) (string, error) {
	msg, err := newProtoMessage(t)
	if err != nil {
		return ``, err
	}

	descriptor := msg.ProtoReflect().Descriptor()
	file := protodesc.ToFileDescriptorProto(descriptor.ParentFile())

	// protojson output is not byte stable, re-encode it with sorted keys
	raw, err := protojson.Marshal(file)
	if err != nil {
		return ``, errors.WithPrevious(err, fmt.Sprintf(`protobuf descriptor export failed for type %v`, t))
	}
	var fileDoc interface{}
	if err := e.json.Unmarshal(raw, &fileDoc); err != nil {
		return ``, errors.WithPrevious(err, fmt.Sprintf(`protobuf descriptor export failed for type %v`, t))
	}

	byt, err := e.json.Marshal(map[string]interface{}{
		`message`: string(descriptor.FullName()),
		`file`:    fileDoc,
	})
	if err != nil {
		return ``, errors.WithPrevious(err, fmt.Sprintf(`protobuf descriptor export failed for type %v`, t))
	}

	return string(byt), nil
}

func newProtoMessage(t reflect.Type) (proto.Message, error) {
	if t.Kind() != reflect.Ptr || !t.Implements(protoMessageType) {
		return nil, &PreconditionError{Reason: fmt.Sprintf(`type %v is not a protobuf message`, t)}
	}

	return reflect.New(t.Elem()).Interface().(proto.Message), nil
}
