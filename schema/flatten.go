package schema

import (
	"fmt"

	"github.com/arloliu/mcapkit/errs"
)

// Flatten returns the root struct with every nested struct inlined.
//
// A struct or fixed array field stays in the list as a marker, followed by
// its expanded children whose Parent points at it. Array elements are named
// "name[i]" and struct members "name.member". Sequences are leaf fields;
// Flat is false when a sequence holds structs.
func (d *Descriptor) Flatten() (*Schema, error) {
	if d.Root == nil {
		return nil, fmt.Errorf("%w: schema %q declares no struct", errs.ErrUnsupportedConstruct, d.Name)
	}

	return d.flatten(d.Root)
}

// FlattenStruct is Flatten for any struct of the descriptor, named by its
// scoped name. Decoders use it for the elements of a sequence of structs.
func (d *Descriptor) FlattenStruct(name string) (*Schema, error) {
	s, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown struct %s", errs.ErrSchemaParse, name)
	}

	return d.flatten(s)
}

func (d *Descriptor) flatten(s *Schema) (*Schema, error) {
	out := &Schema{ID: s.ID, Name: s.Name, Flat: true}
	if err := d.flattenStruct(out, s, "", nil, make(map[string]bool)); err != nil {
		return nil, err
	}

	return out, nil
}

func (d *Descriptor) flattenStruct(out *Schema, s *Schema, prefix string, parent *Field, visiting map[string]bool) error {
	if visiting[s.Name] {
		return fmt.Errorf("%w: struct %s contains itself", errs.ErrUnsupportedConstruct, s.Name)
	}
	visiting[s.Name] = true
	defer delete(visiting, s.Name)

	for _, f := range s.Fields {
		if err := d.flattenField(out, f, prefix+f.Name, parent, visiting); err != nil {
			return err
		}
	}

	return nil
}

func (d *Descriptor) flattenField(out *Schema, f *Field, name string, parent *Field, visiting map[string]bool) error {
	c := *f
	c.Name = name
	c.Parent = parent
	out.Fields = append(out.Fields, &c)

	switch {
	case f.IsArray:
		elem := *f
		elem.IsArray = false
		elem.MaxLength = -1
		elem.IsComplexType = f.Kind == KindStruct
		for i := range f.MaxLength {
			if err := d.flattenField(out, &elem, fmt.Sprintf("%s[%d]", name, i), &c, visiting); err != nil {
				return err
			}
		}
	case f.Kind == KindStruct:
		sub, ok := d.byName[f.Type]
		if !ok {
			return fmt.Errorf("%w: unknown struct %s", errs.ErrSchemaParse, f.Type)
		}

		return d.flattenStruct(out, sub, name+".", &c, visiting)
	case f.Kind == KindSequence && f.ElementKind == KindStruct:
		out.Flat = false
	}

	return nil
}
