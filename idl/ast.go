// Package idl parses OMG IDL interface descriptions into a syntax tree.
//
// The parser is a hand-written recursive-descent front end for the subset
// of IDL used to describe message layouts: modules, structs (with single
// inheritance), enums, constants, typedefs, sequences, strings and fixed
// arrays. Preprocessor lines, comments and annotations are skipped.
// Unions, interfaces, value types and multi-dimensional arrays are
// reported as errs.ErrUnsupportedConstruct.
//
// Every error is an *errs.SyntaxError carrying the line and column of the
// offending token.
package idl

// File is a parsed IDL source.
type File struct {
	Definitions []Definition
}

// Definition is a top-level or module-level declaration: *Module, *Struct,
// *Enum, *Const or *Typedef.
type Definition interface {
	Position() Position
	definition()
}

// Module groups definitions under a scope name.
type Module struct {
	Name        string
	Definitions []Definition
	Pos         Position
}

// Struct declares a structure type. Base is the scoped name of the
// inherited struct, or empty.
type Struct struct {
	Name    string
	Base    string
	Members []*Member
	Pos     Position
}

// Member is one declarator of a struct member. ArraySize is the fixed array
// length, or -1 for a scalar declarator.
type Member struct {
	Name      string
	Type      *TypeSpec
	ArraySize int
	Pos       Position
}

// Enum declares an enumerated type; values are numbered from zero in order.
type Enum struct {
	Name        string
	Enumerators []string
	Pos         Position
}

// Const declares a named constant. Value is the expression text with
// whitespace removed; Int holds the evaluated value of integer constants.
type Const struct {
	Name   string
	Type   *TypeSpec
	Value  string
	Int    int64
	HasInt bool
	Pos    Position
}

// Typedef declares an alias. ArraySize is -1 unless the alias is a fixed array.
type Typedef struct {
	Name      string
	Type      *TypeSpec
	ArraySize int
	Pos       Position
}

// TypeKind classifies a TypeSpec.
type TypeKind uint8

const (
	// KindPrimitive is a base type such as long or unsigned short.
	KindPrimitive TypeKind = iota
	// KindString is string or wstring, optionally bounded.
	KindString
	// KindSequence is sequence<Elem> or sequence<Elem, Bound>.
	KindSequence
	// KindNamed refers to a struct, enum or typedef by scoped name.
	KindNamed
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	default:
		return "named"
	}
}

// TypeSpec is a type reference.
//
// Name is the concatenated keyword tokens of a primitive ("unsignedshort",
// "longdouble"), "string" or "wstring", "sequence", or the scoped name as
// written for a named type. Bound is the string or sequence bound, or -1
// when unbounded. Elem is the element type of a sequence.
type TypeSpec struct {
	Kind  TypeKind
	Name  string
	Bound int
	Elem  *TypeSpec
}

func (m *Module) Position() Position  { return m.Pos }
func (s *Struct) Position() Position  { return s.Pos }
func (e *Enum) Position() Position    { return e.Pos }
func (c *Const) Position() Position   { return c.Pos }
func (t *Typedef) Position() Position { return t.Pos }

func (*Module) definition()  {}
func (*Struct) definition()  {}
func (*Enum) definition()    {}
func (*Const) definition()   {}
func (*Typedef) definition() {}
