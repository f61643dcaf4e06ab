/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"path"
	"reflect"
	"strings"
)

// NamingStrategy generates the default schema name of a type that has no mapping yet
type NamingStrategy interface {
	GenerateSchemaName(t reflect.Type, stream string) SchemaName
}

// NamingStrategyFunc adapts a function to NamingStrategy
type NamingStrategyFunc func(t reflect.Type, stream string) SchemaName

func (f NamingStrategyFunc) GenerateSchemaName(t reflect.Type, stream string) SchemaName {
	return f(t, stream)
}

// TypeNameStrategy names schemas after the bare type name: "OrderPlaced"
type TypeNameStrategy struct {
	Prefix string
}

func (s TypeNameStrategy) GenerateSchemaName(t reflect.Type, _ string) SchemaName {
	return withPrefix(s.Prefix, typeName(t))
}

// QualifiedTypeNameStrategy names schemas after the package qualified type name: "orders.OrderPlaced"
type QualifiedTypeNameStrategy struct {
	Prefix string
}

func (s QualifiedTypeNameStrategy) GenerateSchemaName(t reflect.Type, _ string) SchemaName {
	return withPrefix(s.Prefix, qualifiedTypeName(t))
}

// CategoryStrategy names schemas after the stream category and the type name: "order-OrderPlaced"
// for stream "order-1234". Streams without a category fall back to the type name.
type CategoryStrategy struct {
	Prefix string
}

func (s CategoryStrategy) GenerateSchemaName(t reflect.Type, stream string) SchemaName {
	category := streamCategory(stream)
	if category == `` {
		return withPrefix(s.Prefix, typeName(t))
	}

	return withPrefix(s.Prefix, category+`-`+typeName(t))
}

func withPrefix(prefix, name string) SchemaName {
	if prefix == `` {
		return SchemaName(name)
	}

	return SchemaName(prefix + `.` + name)
}

func streamCategory(stream string) string {
	stream = strings.TrimPrefix(stream, `$`)
	i := strings.Index(stream, `-`)
	if i <= 0 {
		return ``
	}

	return stream[:i]
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t
}

func typeName(t reflect.Type) string {
	t = indirect(t)
	if t.Name() != `` {
		return t.Name()
	}

	return t.String()
}

func qualifiedTypeName(t reflect.Type) string {
	t = indirect(t)
	if t.Name() == `` || t.PkgPath() == `` {
		return t.String()
	}

	return path.Base(t.PkgPath()) + `.` + t.Name()
}
