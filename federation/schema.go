// Package federation routes SQL subplans to the sources that own their
// tables. Contiguous subtrees whose tables share a compute context are
// unparsed back to the owning source's dialect and executed remotely; the
// residual tree runs locally over the returned record streams.
package federation

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DataType is the logical column type of a field.
type DataType int

const (
	TypeUtf8 DataType = iota
	TypeInt64
	TypeFloat64
	TypeBool
	TypeFloat32List
)

func (t DataType) String() string {
	switch t {
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeFloat32List:
		return "list<float32>"
	default:
		return "utf8"
	}
}

// Field is a named, typed column.
type Field struct {
	Name string
	Type DataType
}

// Schema is the ordered field list of a table or stream.
type Schema struct {
	Fields []Field
}

// NewSchema builds a schema from fields.
func NewSchema(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// FieldIndex returns the index of the named field, or -1. Qualified names
// ("t1.id") match on their bare suffix when no exact match exists.
func (s *Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return s.FieldIndex(name[idx+1:])
	}
	return -1
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Merge concatenates two schemas, as produced by a join.
func (s *Schema) Merge(other *Schema) *Schema {
	fields := make([]Field, 0, len(s.Fields)+len(other.Fields))
	fields = append(fields, s.Fields...)
	fields = append(fields, other.Fields...)
	return &Schema{Fields: fields}
}

// Digest returns a stable content hash of the schema, used in request
// fingerprints.
func (s *Schema) Digest() string {
	var sb strings.Builder
	for _, f := range s.Fields {
		sb.WriteString(f.Name)
		sb.WriteString(":")
		sb.WriteString(f.Type.String())
		sb.WriteString(";")
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(sb.String())))
}

// TableRef identifies a table as (catalog?, schema?, name). Bare names
// resolve within the implicit default namespace.
type TableRef struct {
	Catalog string
	Schema  string
	Name    string
}

// ParseTableRef parses "name", "schema.name" or "catalog.schema.name".
func ParseTableRef(s string) TableRef {
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 3:
		return TableRef{Catalog: parts[0], Schema: parts[1], Name: parts[2]}
	case 2:
		return TableRef{Schema: parts[0], Name: parts[1]}
	default:
		return TableRef{Name: s}
	}
}

func (r TableRef) String() string {
	var parts []string
	if r.Catalog != "" {
		parts = append(parts, r.Catalog)
	}
	if r.Schema != "" {
		parts = append(parts, r.Schema)
	}
	parts = append(parts, r.Name)
	return strings.Join(parts, ".")
}
