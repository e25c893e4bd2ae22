package idl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/mcapkit/errs"
)

var keywords = map[string]bool{
	"module": true, "struct": true, "enum": true, "const": true, "typedef": true,
	"union": true, "switch": true, "case": true, "default": true, "interface": true,
	"valuetype": true, "exception": true, "sequence": true, "string": true, "wstring": true,
	"unsigned": true, "short": true, "long": true, "float": true, "double": true,
	"char": true, "wchar": true, "boolean": true, "octet": true, "any": true,
	"int8": true, "uint8": true, "int16": true, "uint16": true, "int32": true,
	"uint32": true, "int64": true, "uint64": true, "map": true, "fixed": true,
	"TRUE": true, "FALSE": true, "native": true, "bitset": true, "bitmask": true,
}

// unsupportedDefinitions are valid IDL declarations with no field layout.
var unsupportedDefinitions = map[string]bool{
	"union": true, "interface": true, "valuetype": true, "exception": true,
	"abstract": true, "local": true, "custom": true, "eventtype": true,
	"component": true, "home": true, "native": true, "bitset": true, "bitmask": true,
}

type parser struct {
	lex *lexer
	tok token

	scope  []string
	consts map[string]int64
	angle  int

	// rec collects token text while a constant expression is parsed.
	rec *strings.Builder
}

// Parse parses IDL source text.
func Parse(src []byte) (*File, error) {
	p := &parser{lex: newLexer(string(src)), consts: make(map[string]int64)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	defs, err := p.definitions()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf(p.tok.pos, "unexpected %s", p.tok)
	}

	return &File{Definitions: defs}, nil
}

func (p *parser) advance() error {
	if p.rec != nil {
		p.rec.WriteString(p.tok.text)
	}
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok

	return nil
}

func (p *parser) errorf(pos Position, format string, args ...any) error {
	return &errs.SyntaxError{Line: pos.Line, Column: pos.Column, Msg: fmt.Sprintf(format, args...), Err: errs.ErrSchemaParse}
}

func (p *parser) unsupported(pos Position, format string, args ...any) error {
	return &errs.SyntaxError{Line: pos.Line, Column: pos.Column, Msg: fmt.Sprintf(format, args...), Err: errs.ErrUnsupportedConstruct}
}

// is reports whether the current token is the keyword or punctuation text.
func (p *parser) is(text string) bool {
	return (p.tok.kind == tokPunct || p.tok.kind == tokIdent) && p.tok.text == text
}

func (p *parser) accept(text string) (bool, error) {
	if !p.is(text) {
		return false, nil
	}

	return true, p.advance()
}

func (p *parser) expect(text string) error {
	if !p.is(text) {
		return p.errorf(p.tok.pos, "expected %q, found %s", text, p.tok)
	}

	return p.advance()
}

// expectClose consumes a closing angle bracket, splitting a ">>" token.
func (p *parser) expectClose() error {
	if p.is(">>") {
		p.tok = token{kind: tokPunct, text: ">", pos: Position{Line: p.tok.pos.Line, Column: p.tok.pos.Column + 1}}
		return nil
	}

	return p.expect(">")
}

func (p *parser) ident() (string, Position, error) {
	tok := p.tok
	if tok.kind != tokIdent || keywords[tok.text] {
		return "", tok.pos, p.errorf(tok.pos, "expected identifier, found %s", tok)
	}

	return tok.text, tok.pos, p.advance()
}

func (p *parser) scopedName() (string, error) {
	var b strings.Builder
	if p.is("::") {
		b.WriteString("::")
		if err := p.advance(); err != nil {
			return "", err
		}
	}
	for {
		name, _, err := p.ident()
		if err != nil {
			return "", err
		}
		b.WriteString(name)
		if !p.is("::") {
			return b.String(), nil
		}
		b.WriteString("::")
		if err := p.advance(); err != nil {
			return "", err
		}
	}
}

// annotations skips any @name or @name(...) annotations.
func (p *parser) annotations() error {
	for p.is("@") {
		if err := p.advance(); err != nil {
			return err
		}
		if _, err := p.scopedName(); err != nil {
			return err
		}
		if !p.is("(") {
			continue
		}

		start := p.tok.pos
		depth := 0
		for {
			switch {
			case p.tok.kind == tokEOF:
				return p.errorf(start, "unterminated annotation")
			case p.is("("):
				depth++
			case p.is(")"):
				depth--
			}
			if err := p.advance(); err != nil {
				return err
			}
			if depth == 0 {
				break
			}
		}
	}

	return nil
}

func (p *parser) definitions() ([]Definition, error) {
	var defs []Definition
	for {
		if err := p.annotations(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokEOF || p.is("}") {
			return defs, nil
		}

		d, err := p.definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, d...)
	}
}

func (p *parser) definition() ([]Definition, error) {
	tok := p.tok
	if tok.kind == tokIdent && unsupportedDefinitions[tok.text] {
		return nil, p.unsupported(tok.pos, "%s declarations are not supported", tok.text)
	}

	var defs []Definition
	var err error
	// The semicolon after a closing brace is optional.
	braced := true
	switch {
	case p.is("module"):
		var m *Module
		m, err = p.module()
		defs = []Definition{m}
	case p.is("struct"):
		var s *Struct
		if s, err = p.structDecl(); s != nil {
			defs = []Definition{s}
		}
	case p.is("enum"):
		var e *Enum
		e, err = p.enumDecl()
		defs = []Definition{e}
	case p.is("const"):
		var c *Const
		c, err = p.constDecl()
		defs = []Definition{c}
		braced = false
	case p.is("typedef"):
		defs, err = p.typedefDecl()
		braced = false
	default:
		return nil, p.errorf(tok.pos, "expected definition, found %s", tok)
	}
	if err != nil {
		return nil, err
	}
	if braced {
		_, err = p.accept(";")
		return defs, err
	}

	return defs, p.expect(";")
}

func (p *parser) module() (*Module, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, _, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}

	p.scope = append(p.scope, name)
	defs, err := p.definitions()
	p.scope = p.scope[:len(p.scope)-1]
	if err != nil {
		return nil, err
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}

	return &Module{Name: name, Definitions: defs, Pos: pos}, nil
}

// structDecl returns nil for a forward declaration.
func (p *parser) structDecl() (*Struct, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, _, err := p.ident()
	if err != nil {
		return nil, err
	}
	if p.is(";") {
		return nil, nil
	}

	s := &Struct{Name: name, Pos: pos}
	if ok, err := p.accept(":"); err != nil {
		return nil, err
	} else if ok {
		if s.Base, err = p.scopedName(); err != nil {
			return nil, err
		}
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}

	for {
		if err := p.annotations(); err != nil {
			return nil, err
		}
		if p.is("}") {
			break
		}
		members, err := p.members()
		if err != nil {
			return nil, err
		}
		s.Members = append(s.Members, members...)
	}

	return s, p.advance()
}

func (p *parser) members() ([]*Member, error) {
	ts, err := p.typeSpec()
	if err != nil {
		return nil, err
	}

	var out []*Member
	for {
		name, pos, size, err := p.declarator()
		if err != nil {
			return nil, err
		}
		out = append(out, &Member{Name: name, Type: ts, ArraySize: size, Pos: pos})
		if err := p.annotations(); err != nil {
			return nil, err
		}
		if ok, err := p.accept(","); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}

	return out, p.expect(";")
}

// declarator parses a name with an optional single fixed array size.
func (p *parser) declarator() (string, Position, int, error) {
	name, pos, err := p.ident()
	if err != nil {
		return "", pos, 0, err
	}
	if !p.is("[") {
		return name, pos, -1, nil
	}

	if err := p.advance(); err != nil {
		return "", pos, 0, err
	}
	size, err := p.positiveInt()
	if err != nil {
		return "", pos, 0, err
	}
	if err := p.expect("]"); err != nil {
		return "", pos, 0, err
	}
	if p.is("[") {
		return "", pos, 0, p.unsupported(p.tok.pos, "multi-dimensional array %q", name)
	}

	return name, pos, size, nil
}

func (p *parser) enumDecl() (*Enum, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, _, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}

	e := &Enum{Name: name, Pos: pos}
	for {
		if err := p.annotations(); err != nil {
			return nil, err
		}
		v, _, err := p.ident()
		if err != nil {
			return nil, err
		}
		e.Enumerators = append(e.Enumerators, v)
		if ok, err := p.accept(","); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}

	return e, p.expect("}")
}

func (p *parser) constDecl() (*Const, error) {
	pos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	ts, err := p.typeSpec()
	if err != nil {
		return nil, err
	}
	name, _, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect("="); err != nil {
		return nil, err
	}

	var text strings.Builder
	p.rec = &text
	v, err := p.expr()
	p.rec = nil
	if err != nil {
		return nil, err
	}

	c := &Const{Name: name, Type: ts, Value: text.String(), Int: v.n, HasInt: v.isInt, Pos: pos}
	if v.isInt {
		p.consts[p.scoped(name)] = v.n
	}

	return c, nil
}

func (p *parser) typedefDecl() ([]Definition, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	ts, err := p.typeSpec()
	if err != nil {
		return nil, err
	}

	var defs []Definition
	for {
		name, pos, size, err := p.declarator()
		if err != nil {
			return nil, err
		}
		defs = append(defs, &Typedef{Name: name, Type: ts, ArraySize: size, Pos: pos})
		if ok, err := p.accept(","); err != nil {
			return nil, err
		} else if !ok {
			return defs, nil
		}
	}
}

func (p *parser) typeSpec() (*TypeSpec, error) {
	tok := p.tok
	if tok.kind != tokIdent && !p.is("::") {
		return nil, p.errorf(tok.pos, "expected type, found %s", tok)
	}

	switch tok.text {
	case "string", "wstring":
		if err := p.advance(); err != nil {
			return nil, err
		}
		ts := &TypeSpec{Kind: KindString, Name: tok.text, Bound: -1}
		if p.is("<") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			p.angle++
			bound, err := p.positiveInt()
			p.angle--
			if err != nil {
				return nil, err
			}
			ts.Bound = bound
			if err := p.expectClose(); err != nil {
				return nil, err
			}
		}

		return ts, nil
	case "sequence":
		return p.sequence()
	case "map", "fixed", "any", "Object", "ValueBase":
		return nil, p.unsupported(tok.pos, "%s types are not supported", tok.text)
	case "struct", "enum", "union":
		return nil, p.unsupported(tok.pos, "anonymous %s member types are not supported", tok.text)
	}

	if name, ok, err := p.primitive(); err != nil || ok {
		return &TypeSpec{Kind: KindPrimitive, Name: name, Bound: -1}, err
	}

	name, err := p.scopedName()
	if err != nil {
		return nil, err
	}

	return &TypeSpec{Kind: KindNamed, Name: name, Bound: -1}, nil
}

func (p *parser) sequence() (*TypeSpec, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect("<"); err != nil {
		return nil, err
	}

	elemPos := p.tok.pos
	elem, err := p.typeSpec()
	if err != nil {
		return nil, err
	}
	if elem.Kind == KindSequence {
		return nil, p.unsupported(elemPos, "nested sequences are not supported")
	}

	ts := &TypeSpec{Kind: KindSequence, Name: "sequence", Bound: -1, Elem: elem}
	if ok, err := p.accept(","); err != nil {
		return nil, err
	} else if ok {
		p.angle++
		ts.Bound, err = p.positiveInt()
		p.angle--
		if err != nil {
			return nil, err
		}
	}

	return ts, p.expectClose()
}

// primitive parses a base type keyword sequence into its concatenated name.
func (p *parser) primitive() (string, bool, error) {
	var name string
	switch p.tok.text {
	case "short", "float", "double", "char", "wchar", "boolean", "octet",
		"int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64":
		name = p.tok.text
		return name, true, p.advance()
	case "long":
		if err := p.advance(); err != nil {
			return "", true, err
		}
		switch {
		case p.is("long"):
			return "longlong", true, p.advance()
		case p.is("double"):
			return "longdouble", true, p.advance()
		}

		return "long", true, nil
	case "unsigned":
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return "", true, err
		}
		switch {
		case p.is("short"):
			return "unsignedshort", true, p.advance()
		case p.is("long"):
			if err := p.advance(); err != nil {
				return "", true, err
			}
			if p.is("long") {
				return "unsignedlonglong", true, p.advance()
			}

			return "unsignedlong", true, nil
		}

		return "", true, p.errorf(pos, "expected short or long after unsigned")
	}

	return "", false, nil
}

func (p *parser) positiveInt() (int, error) {
	pos := p.tok.pos
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if !v.isInt || v.n <= 0 || v.n > int64(^uint32(0)>>1) {
		return 0, p.errorf(pos, "expected positive integer constant")
	}

	return int(v.n), nil
}

func (p *parser) scoped(name string) string {
	if len(p.scope) == 0 {
		return name
	}

	return strings.Join(p.scope, "::") + "::" + name
}

// lookupConst resolves a constant name from the innermost enclosing scope outward.
func (p *parser) lookupConst(name string) (int64, bool) {
	if rest, ok := strings.CutPrefix(name, "::"); ok {
		v, ok := p.consts[rest]
		return v, ok
	}
	for i := len(p.scope); i >= 0; i-- {
		key := name
		if i > 0 {
			key = strings.Join(p.scope[:i], "::") + "::" + name
		}
		if v, ok := p.consts[key]; ok {
			return v, true
		}
	}

	return 0, false
}

func parseInt(text string) (int64, error) {
	if len(text) > 1 && text[0] == '0' && text[1] != 'x' && text[1] != 'X' {
		return strconv.ParseInt(text[1:], 8, 64)
	}

	return strconv.ParseInt(text, 0, 64)
}
