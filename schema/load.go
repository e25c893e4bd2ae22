package schema

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/idl"
	"github.com/arloliu/mcapkit/internal/logging"
	"github.com/arloliu/mcapkit/internal/options"
)

// UnboundedSequenceLength is the MaxLength given to sequences declared
// without a bound.
const UnboundedSequenceLength = 255

type config struct {
	logger *slog.Logger
}

// Option configures Load.
type Option = options.Option[*config]

// WithLogger sets the logger that reports unbounded sequences.
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(c *config) {
		c.logger = logger
	})
}

type declaration struct {
	scope []string
	def   idl.Definition
}

type loader struct {
	logger *slog.Logger
	decls  map[string]declaration
	order  []string
	d      *Descriptor
}

// Load parses IDL text into a Descriptor.
//
// Parameters:
//   - name: the schema name; the struct whose scoped name matches it, with
//     ROS 2 style "pkg/msg/Type" names accepted, becomes the root
//   - id: the schema id, kept on the descriptor
//   - data: IDL source text
//   - opts: optional logger
//
// Returns:
//   - *Descriptor: one Schema per struct in declaration order, with ids
//     starting at 1
//   - error: an *errs.SyntaxError wrapping errs.ErrSchemaParse or
//     errs.ErrUnsupportedConstruct
//
// When no struct matches name, the last declared struct is the root.
func Load(name string, id int, data []byte, opts ...Option) (*Descriptor, error) {
	cfg := &config{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	file, err := idl.Parse(data)
	if err != nil {
		return nil, err
	}

	l := &loader{
		logger: logging.Default(cfg.logger).With("component", "schema", "schema", name),
		decls:  make(map[string]declaration),
		d: &Descriptor{
			ID:     id,
			Name:   name,
			Enums:  make(map[string]*Enum),
			byName: make(map[string]*Schema),
		},
	}
	if err := l.collect(file.Definitions, nil); err != nil {
		return nil, err
	}

	for _, scoped := range l.order {
		if _, err := l.structSchema(scoped, nil); err != nil {
			return nil, err
		}
	}

	d := l.d
	d.Root = d.root(name)
	d.Flat = d.Root == nil || d.Root.Flat

	return d, nil
}

func joinScope(scope []string, name string) string {
	if len(scope) == 0 {
		return name
	}

	return strings.Join(scope, "::") + "::" + name
}

func (l *loader) collect(defs []idl.Definition, scope []string) error {
	for _, def := range defs {
		switch v := def.(type) {
		case *idl.Module:
			if err := l.collect(v.Definitions, append(scope[:len(scope):len(scope)], v.Name)); err != nil {
				return err
			}

			continue
		case *idl.Struct:
			scoped := joinScope(scope, v.Name)
			if err := l.declare(scoped, scope, v); err != nil {
				return err
			}
			l.order = append(l.order, scoped)
		case *idl.Enum:
			scoped := joinScope(scope, v.Name)
			if err := l.declare(scoped, scope, v); err != nil {
				return err
			}
			l.d.Enums[scoped] = &Enum{Name: scoped, Values: v.Enumerators}
		case *idl.Typedef:
			if err := l.declare(joinScope(scope, v.Name), scope, v); err != nil {
				return err
			}
		case *idl.Const:
			l.d.Constants = append(l.d.Constants, Constant{
				Name:  joinScope(scope, v.Name),
				Type:  v.Type.Name,
				Value: v.Value,
			})
		}
	}

	return nil
}

func (l *loader) declare(scoped string, scope []string, def idl.Definition) error {
	if _, dup := l.decls[scoped]; dup {
		return syntaxError(def.Position(), errs.ErrSchemaParse, "%s redeclared", scoped)
	}
	l.decls[scoped] = declaration{scope: scope, def: def}

	return nil
}

// lookup resolves name from scope outward.
func (l *loader) lookup(name string, scope []string) (string, declaration, bool) {
	if rest, ok := strings.CutPrefix(name, "::"); ok {
		d, found := l.decls[rest]
		return rest, d, found
	}
	for i := len(scope); i >= 0; i-- {
		scoped := joinScope(scope[:i], name)
		if d, ok := l.decls[scoped]; ok {
			return scoped, d, true
		}
	}

	return "", declaration{}, false
}

// structSchema builds, once, the schema of the struct declared as scoped.
// building holds the structs under construction, to reject cyclic bases.
func (l *loader) structSchema(scoped string, building map[string]bool) (*Schema, error) {
	if s, ok := l.d.byName[scoped]; ok {
		return s, nil
	}

	decl := l.decls[scoped]
	st := decl.def.(*idl.Struct)
	if building[scoped] {
		return nil, syntaxError(st.Pos, errs.ErrUnsupportedConstruct, "struct %s inherits from itself", scoped)
	}
	if building == nil {
		building = make(map[string]bool)
	}
	building[scoped] = true

	s := &Schema{Name: scoped, Flat: true}
	if st.Base != "" {
		baseName, base, ok := l.lookup(st.Base, decl.scope)
		if _, isStruct := base.def.(*idl.Struct); !ok || !isStruct {
			return nil, syntaxError(st.Pos, errs.ErrSchemaParse, "unknown base struct %s", st.Base)
		}
		bs, err := l.structSchema(baseName, building)
		if err != nil {
			return nil, err
		}
		for _, f := range bs.Fields {
			c := *f
			s.Fields = append(s.Fields, &c)
		}
		s.Flat = bs.Flat
	}

	for _, m := range st.Members {
		f, err := l.field(m, decl.scope)
		if err != nil {
			return nil, err
		}
		if f.Kind == KindStruct || f.ElementKind == KindStruct {
			s.Flat = false
		}
		s.Fields = append(s.Fields, f)
	}

	// Schemas are numbered in declaration order, bases included.
	if _, ok := l.d.byName[scoped]; !ok {
		s.ID = len(l.d.Schemas) + 1
		l.d.Schemas = append(l.d.Schemas, s)
		l.d.byName[scoped] = s
	}

	return s, nil
}

type resolved struct {
	name      string
	kind      Kind
	bound     int
	elem      *resolved
	arraySize int
}

func (l *loader) field(m *idl.Member, scope []string) (*Field, error) {
	r, err := l.resolve(m.Type, scope, m.Pos)
	if err != nil {
		return nil, err
	}
	if m.ArraySize > 0 {
		if r.arraySize > 0 {
			return nil, syntaxError(m.Pos, errs.ErrUnsupportedConstruct, "multi-dimensional array %s", m.Name)
		}
		r.arraySize = m.ArraySize
	}

	f := &Field{Name: m.Name, Type: r.name, Kind: r.kind, MaxLength: -1}
	switch r.kind {
	case KindStruct:
		f.IsComplexType = true
	case KindSequence:
		f.IsVector = true
		f.IsComplexType = true
		f.ElementType = r.elem.name
		f.ElementKind = r.elem.kind
		f.MaxLength = r.bound
		if f.MaxLength < 0 {
			l.logger.Warn("unbounded sequence limited to a fixed length",
				"field", m.Name, "max_length", UnboundedSequenceLength)
			f.MaxLength = UnboundedSequenceLength
		}
	}

	if r.arraySize > 0 {
		if r.kind == KindSequence {
			return nil, syntaxError(m.Pos, errs.ErrUnsupportedConstruct, "array of sequences %s", m.Name)
		}
		f.IsArray = true
		f.IsComplexType = true
		f.MaxLength = r.arraySize
	}

	return f, nil
}

// resolve follows typedefs until ts names a primitive, string, sequence,
// struct or enum.
func (l *loader) resolve(ts *idl.TypeSpec, scope []string, pos idl.Position) (*resolved, error) {
	switch ts.Kind {
	case idl.KindPrimitive:
		return &resolved{name: ts.Name, kind: KindPrimitive, bound: -1}, nil
	case idl.KindString:
		return &resolved{name: ts.Name, kind: KindString, bound: ts.Bound}, nil
	case idl.KindSequence:
		elem, err := l.resolve(ts.Elem, scope, pos)
		if err != nil {
			return nil, err
		}
		if elem.kind == KindSequence || elem.arraySize > 0 {
			return nil, syntaxError(pos, errs.ErrUnsupportedConstruct, "sequence of %s", ts.Elem.Name)
		}

		return &resolved{name: "sequence", kind: KindSequence, bound: ts.Bound, elem: elem}, nil
	}

	scoped, decl, ok := l.lookup(ts.Name, scope)
	if !ok {
		return nil, syntaxError(pos, errs.ErrSchemaParse, "unknown type %s", ts.Name)
	}

	switch def := decl.def.(type) {
	case *idl.Struct:
		return &resolved{name: scoped, kind: KindStruct, bound: -1}, nil
	case *idl.Enum:
		return &resolved{name: scoped, kind: KindEnum, bound: -1}, nil
	case *idl.Typedef:
		r, err := l.resolve(def.Type, decl.scope, pos)
		if err != nil {
			return nil, err
		}
		if def.ArraySize > 0 {
			if r.arraySize > 0 {
				return nil, syntaxError(pos, errs.ErrUnsupportedConstruct, "multi-dimensional typedef %s", scoped)
			}
			r.arraySize = def.ArraySize
		}

		return r, nil
	default:
		return nil, syntaxError(pos, errs.ErrSchemaParse, "%s is not a type", ts.Name)
	}
}

// root picks the struct matching name.
func (d *Descriptor) root(name string) *Schema {
	want := strings.TrimPrefix(ScopedName(name), "::")
	if s, ok := d.byName[want]; ok {
		return s
	}
	// ROS 2 names sometimes omit the msg scope: "pkg/Type" for "pkg::msg::Type".
	for _, s := range d.Schemas {
		if i := strings.LastIndex(s.Name, "::"); i >= 0 {
			pkg, _, _ := strings.Cut(s.Name, "::")
			if want == pkg+"::"+s.Name[i+2:] {
				return s
			}
		}
	}
	if len(d.Schemas) == 0 {
		return nil
	}

	return d.Schemas[len(d.Schemas)-1]
}

func syntaxError(pos idl.Position, kind error, format string, args ...any) error {
	return &errs.SyntaxError{Line: pos.Line, Column: pos.Column, Msg: fmt.Sprintf(format, args...), Err: kind}
}
