package idl

// value is the result of a constant expression. Only integer expressions
// are evaluated; floating, string, char and boolean operands make the
// result non-integer without failing the parse.
type value struct {
	n     int64
	isInt bool
}

var nonInt = value{}

func intValue(n int64) value { return value{n: n, isInt: true} }

type binaryOp struct {
	op    string
	apply func(a, b int64) (int64, bool)
}

// precedence lists the binary operator levels, loosest first.
var precedence = [][]binaryOp{
	{{"|", func(a, b int64) (int64, bool) { return a | b, true }}},
	{{"^", func(a, b int64) (int64, bool) { return a ^ b, true }}},
	{{"&", func(a, b int64) (int64, bool) { return a & b, true }}},
	{
		{"<<", func(a, b int64) (int64, bool) { return a << uint64(b&63), b >= 0 && b < 64 }},
		{">>", func(a, b int64) (int64, bool) { return a >> uint64(b&63), b >= 0 && b < 64 }},
	},
	{
		{"+", func(a, b int64) (int64, bool) { return a + b, true }},
		{"-", func(a, b int64) (int64, bool) { return a - b, true }},
	},
	{
		{"*", func(a, b int64) (int64, bool) { return a * b, true }},
		{"/", func(a, b int64) (int64, bool) {
			if b == 0 {
				return 0, false
			}
			return a / b, true
		}},
		{"%", func(a, b int64) (int64, bool) {
			if b == 0 {
				return 0, false
			}
			return a % b, true
		}},
	},
}

func (p *parser) expr() (value, error) {
	return p.binary(0)
}

func (p *parser) binary(level int) (value, error) {
	if level == len(precedence) {
		return p.unary()
	}

	lhs, err := p.binary(level + 1)
	if err != nil {
		return nonInt, err
	}
	for {
		var op *binaryOp
		for i := range precedence[level] {
			// Inside template brackets ">>" closes two brackets.
			if p.is(precedence[level][i].op) && (p.angle == 0 || precedence[level][i].op != ">>") {
				op = &precedence[level][i]
				break
			}
		}
		if op == nil {
			return lhs, nil
		}

		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nonInt, err
		}
		rhs, err := p.binary(level + 1)
		if err != nil {
			return nonInt, err
		}
		if !lhs.isInt || !rhs.isInt {
			lhs = nonInt
			continue
		}
		n, ok := op.apply(lhs.n, rhs.n)
		if !ok {
			return nonInt, p.errorf(pos, "invalid operand for %q", op.op)
		}
		lhs = intValue(n)
	}
}

func (p *parser) unary() (value, error) {
	switch {
	case p.is("-"), p.is("+"), p.is("~"):
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nonInt, err
		}
		v, err := p.unary()
		if err != nil || !v.isInt {
			return v, err
		}
		switch op {
		case "-":
			v.n = -v.n
		case "~":
			v.n = ^v.n
		}

		return v, nil
	case p.is("("):
		if err := p.advance(); err != nil {
			return nonInt, err
		}
		v, err := p.expr()
		if err != nil {
			return nonInt, err
		}

		return v, p.expect(")")
	}

	tok := p.tok
	switch tok.kind {
	case tokInt:
		n, err := parseInt(tok.text)
		if err != nil {
			return nonInt, p.errorf(tok.pos, "integer literal %s out of range", tok.text)
		}

		return intValue(n), p.advance()
	case tokFloat, tokString, tokChar:
		return nonInt, p.advance()
	case tokIdent:
		if tok.text == "TRUE" || tok.text == "FALSE" {
			return nonInt, p.advance()
		}
		name, err := p.scopedName()
		if err != nil {
			return nonInt, err
		}
		if n, ok := p.lookupConst(name); ok {
			return intValue(n), nil
		}

		return nonInt, nil
	case tokPunct:
		if tok.text == "::" {
			name, err := p.scopedName()
			if err != nil {
				return nonInt, err
			}
			if n, ok := p.lookupConst(name); ok {
				return intValue(n), nil
			}

			return nonInt, nil
		}
	}

	return nonInt, p.errorf(tok.pos, "expected constant expression, found %s", tok)
}
