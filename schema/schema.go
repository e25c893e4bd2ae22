// Package schema turns OMG IDL message definitions into field tables.
//
// Load parses the IDL text of a Schema record and produces one Schema per
// struct, in declaration order, with typedefs resolved and constants and
// enums collected. Flatten inlines nested structs into a single field
// list that can drive payload decoding without further lookups.
package schema

import (
	"fmt"
	"strings"
)

// Kind classifies the value a Field holds.
type Kind uint8

const (
	KindPrimitive Kind = iota // KindPrimitive is a numeric, char or boolean base type.
	KindString                // KindString is a string or wstring.
	KindEnum                  // KindEnum is an enumerated type, encoded as uint32.
	KindStruct                // KindStruct is a nested struct.
	KindSequence              // KindSequence is a sequence; ElementKind describes its elements.
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindStruct:
		return "struct"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Field describes one struct member.
//
// Type is the primitive name ("short", "unsignedshort", "longdouble"),
// "string", "sequence", or the scoped name of a struct or enum. For a fixed
// array Type is the element type. MaxLength is the array length or
// sequence bound, and -1 otherwise.
type Field struct {
	Name          string
	Type          string
	Kind          Kind
	ElementType   string
	ElementKind   Kind
	IsComplexType bool
	IsArray       bool
	IsVector      bool
	MaxLength     int
	Parent        *Field
}

// Schema is the field table of one struct. Flat is true when every field
// decodes without looking up another struct: nested structs are absent,
// or inlined as by Flatten.
type Schema struct {
	ID     int
	Name   string
	Fields []*Field
	Flat   bool
}

// Constant is a named IDL constant with its expression text.
type Constant struct {
	Name  string
	Type  string
	Value string
}

// Enum lists the enumerators of an enumerated type in value order.
type Enum struct {
	Name   string
	Values []string
}

// Descriptor is a loaded schema: the root struct, every struct of the
// source, and the constants and enums declared alongside.
type Descriptor struct {
	ID        int
	Name      string
	Root      *Schema
	Schemas   []*Schema
	Constants []Constant
	Enums     map[string]*Enum
	Flat      bool

	byName map[string]*Schema
}

// Fields returns the fields of the root struct.
func (d *Descriptor) Fields() []*Field {
	if d.Root == nil {
		return nil
	}

	return d.Root.Fields
}

// Struct returns the schema of a struct by scoped name.
func (d *Descriptor) Struct(name string) (*Schema, bool) {
	s, ok := d.byName[name]
	return s, ok
}

// Enum returns an enum by scoped name.
func (d *Descriptor) Enum(name string) (*Enum, bool) {
	e, ok := d.Enums[name]
	return e, ok
}

// Label returns the enumerator name of v, or "" when v is out of range.
func (e *Enum) Label(v uint32) string {
	if int(v) >= len(e.Values) {
		return ""
	}

	return e.Values[v]
}

// ScopedName maps a ROS 2 style type name such as "pkg/msg/Type" to its
// IDL scoped form "pkg::msg::Type". Other names are returned unchanged.
func ScopedName(name string) string {
	return strings.ReplaceAll(name, "/", "::")
}
