package cdr

import (
	"fmt"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/schema"
)

// Value is one decoded leaf field of a payload.
//
// Data holds the Go value of the field: int16, uint16, int32, uint32,
// int64, uint64, float32, float64, bool, uint8 (octet and char) or int8,
// [LongDoubleSize]byte for long double, string, uint32 for enums, and
// []any for sequences. A sequence of structs holds one []Value per element,
// named relative to the element. Label is the enumerator name of an enum
// value.
type Value struct {
	Name  string
	Field *schema.Field
	Data  any
	Label string
}

// FlatDecoder decodes payloads of one schema. It flattens the root struct
// and the element structs of its sequences once, and is safe for
// concurrent use.
type FlatDecoder struct {
	desc  *schema.Descriptor
	root  *schema.Schema
	elems map[string]*schema.Schema
}

// NewFlatDecoder prepares a decoder for desc.
func NewFlatDecoder(desc *schema.Descriptor) (*FlatDecoder, error) {
	root, err := desc.Flatten()
	if err != nil {
		return nil, err
	}

	fd := &FlatDecoder{desc: desc, root: root, elems: make(map[string]*schema.Schema)}
	pending := []*schema.Schema{root}
	for len(pending) > 0 {
		s := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		for _, f := range s.Fields {
			if f.Kind != schema.KindSequence || f.ElementKind != schema.KindStruct {
				continue
			}
			if _, ok := fd.elems[f.ElementType]; ok {
				continue
			}
			elem, err := desc.FlattenStruct(f.ElementType)
			if err != nil {
				return nil, err
			}
			fd.elems[f.ElementType] = elem
			pending = append(pending, elem)
		}
	}

	return fd, nil
}

// DecodeFlat decodes payload against desc. Callers decoding many payloads
// of one schema should keep a FlatDecoder instead.
func DecodeFlat(desc *schema.Descriptor, payload []byte) ([]Value, error) {
	fd, err := NewFlatDecoder(desc)
	if err != nil {
		return nil, err
	}

	return fd.Decode(payload)
}

// Decode decodes one payload into its leaf values in field order. Struct
// and array marker fields produce no value. Trailing bytes are ignored.
func (fd *FlatDecoder) Decode(payload []byte) ([]Value, error) {
	d, err := NewDecoder(payload)
	if err != nil {
		return nil, err
	}

	return fd.fields(d, fd.root.Fields, make([]Value, 0, len(fd.root.Fields)))
}

func (fd *FlatDecoder) fields(d *Decoder, fields []*schema.Field, out []Value) ([]Value, error) {
	for _, f := range fields {
		if f.IsArray || f.Kind == schema.KindStruct {
			continue
		}

		v := Value{Name: f.Name, Field: f}
		var err error
		if f.Kind == schema.KindSequence {
			v.Data, err = fd.sequence(d, f)
		} else {
			v.Data, v.Label, err = fd.scalar(d, f.Kind, f.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out = append(out, v)
	}

	return out, nil
}

func (fd *FlatDecoder) sequence(d *Decoder, f *schema.Field) ([]any, error) {
	n, err := d.SequenceLength()
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, n)
	for range n {
		var item any
		if f.ElementKind == schema.KindStruct {
			item, err = fd.fields(d, fd.elems[f.ElementType].Fields, nil)
		} else {
			item, _, err = fd.scalar(d, f.ElementKind, f.ElementType)
		}
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", len(items), err)
		}
		items = append(items, item)
	}

	return items, nil
}

func (fd *FlatDecoder) scalar(d *Decoder, kind schema.Kind, typ string) (any, string, error) {
	switch kind {
	case schema.KindString:
		if typ == "wstring" {
			s, err := d.WString()
			return s, "", err
		}
		s, err := d.String()

		return s, "", err
	case schema.KindEnum:
		v, err := d.Uint32()
		if err != nil {
			return nil, "", err
		}
		var label string
		if e, ok := fd.desc.Enum(typ); ok {
			label = e.Label(v)
		}

		return v, label, nil
	case schema.KindPrimitive:
		v, err := Primitive(d, typ)
		return v, "", err
	default:
		return nil, "", fmt.Errorf("%w: %s field of type %s", errs.ErrUnsupportedConstruct, kind, typ)
	}
}

func value[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Primitive reads one value of the named IDL base type.
func Primitive(d *Decoder, typ string) (any, error) {
	switch typ {
	case "short", "int16":
		return value(d.Int16())
	case "unsignedshort", "uint16", "wchar":
		return value(d.Uint16())
	case "long", "int32":
		return value(d.Int32())
	case "unsignedlong", "uint32":
		return value(d.Uint32())
	case "longlong", "int64":
		return value(d.Int64())
	case "unsignedlonglong", "uint64":
		return value(d.Uint64())
	case "float":
		return value(d.Float32())
	case "double":
		return value(d.Float64())
	case "longdouble":
		return value(d.LongDouble())
	case "boolean":
		return value(d.Bool())
	case "octet", "char", "uint8":
		return value(d.Uint8())
	case "int8":
		return value(d.Int8())
	default:
		return nil, fmt.Errorf("%w: base type %s", errs.ErrUnsupportedConstruct, typ)
	}
}
