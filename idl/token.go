package idl

import (
	"fmt"
	"strings"

	"github.com/arloliu/mcapkit/errs"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokChar
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokInt:
		return "integer"
	case tokFloat:
		return "float"
	case tokString:
		return "string literal"
	case tokChar:
		return "char literal"
	default:
		return "punctuation"
	}
}

// Position locates a token or declaration in the source, 1-based.
type Position struct {
	Line   int
	Column int
}

type token struct {
	kind tokenKind
	text string
	pos  Position
}

func (t token) String() string {
	if t.kind == tokEOF {
		return t.kind.String()
	}

	return fmt.Sprintf("%q", t.text)
}

// twoCharPunct lists the punctuation recognised as a single token.
var twoCharPunct = []string{"::", "<<", ">>"}

// lexer splits IDL source into tokens. Comments, whitespace and
// preprocessor lines are dropped.
type lexer struct {
	src  string
	off  int
	line int
	col  int
	// bol is true while only whitespace has been seen on the current line.
	bol bool
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1, bol: true}
}

func (l *lexer) errorf(pos Position, format string, args ...any) error {
	return &errs.SyntaxError{Line: pos.Line, Column: pos.Column, Msg: fmt.Sprintf(format, args...), Err: errs.ErrSchemaParse}
}

func (l *lexer) peekByte(ahead int) byte {
	if l.off+ahead < len(l.src) {
		return l.src[l.off+ahead]
	}

	return 0
}

func (l *lexer) advance(n int) {
	for range n {
		if l.off >= len(l.src) {
			return
		}
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
			l.bol = true
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *lexer) pos() Position {
	return Position{Line: l.line, Column: l.col}
}

// skip drops whitespace, comments and preprocessor lines.
func (l *lexer) skip() error {
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case c == '\n':
			l.advance(1)
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.col++
			l.off++
		case c == '#' && l.bol:
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance(1)
			}
		case c == '/' && l.peekByte(1) == '/':
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance(1)
			}
		case c == '/' && l.peekByte(1) == '*':
			start := l.pos()
			end := strings.Index(l.src[l.off+2:], "*/")
			if end < 0 {
				return l.errorf(start, "unterminated comment")
			}
			l.advance(end + 4)
		default:
			return nil
		}
	}

	return nil
}

func (l *lexer) next() (token, error) {
	if err := l.skip(); err != nil {
		return token{}, err
	}
	pos := l.pos()
	if l.off >= len(l.src) {
		return token{kind: tokEOF, pos: pos}, nil
	}
	l.bol = false

	c := l.src[l.off]
	start := l.off
	switch {
	case c == 'L' && (l.peekByte(1) == '"' || l.peekByte(1) == '\''):
		// wide literals
		l.advance(1)
		if l.src[l.off] == '"' {
			return l.quoted(pos, '"', tokString)
		}

		return l.quoted(pos, '\'', tokChar)
	case isIdentStart(c):
		for l.off < len(l.src) && isIdentPart(l.src[l.off]) {
			l.advance(1)
		}

		return token{kind: tokIdent, text: l.src[start:l.off], pos: pos}, nil
	case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
		return l.number(pos)
	case c == '"':
		return l.quoted(pos, '"', tokString)
	case c == '\'':
		return l.quoted(pos, '\'', tokChar)
	}

	for _, p := range twoCharPunct {
		if strings.HasPrefix(l.src[l.off:], p) {
			l.advance(len(p))
			return token{kind: tokPunct, text: p, pos: pos}, nil
		}
	}
	if strings.IndexByte("{}()[]<>;,:=+-*/%|&^~@", c) >= 0 {
		l.advance(1)
		return token{kind: tokPunct, text: string(c), pos: pos}, nil
	}

	return token{}, l.errorf(pos, "unexpected character %q", c)
}

func (l *lexer) number(pos Position) (token, error) {
	start := l.off
	kind := tokInt

	if l.src[l.off] == '0' && (l.peekByte(1) == 'x' || l.peekByte(1) == 'X') {
		l.advance(2)
		for l.off < len(l.src) && isHexDigit(l.src[l.off]) {
			l.advance(1)
		}
		if l.off-start == 2 {
			return token{}, l.errorf(pos, "malformed hex literal")
		}

		return token{kind: kind, text: l.src[start:l.off], pos: pos}, nil
	}

	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case isDigit(c):
		case c == '.':
			kind = tokFloat
		case c == 'e' || c == 'E':
			kind = tokFloat
			if n := l.peekByte(1); n == '+' || n == '-' {
				l.advance(1)
			}
		case c == 'd' || c == 'D' || c == 'f' || c == 'F':
			// fixed point and float suffixes
			kind = tokFloat
			l.advance(1)

			return token{kind: kind, text: l.src[start:l.off], pos: pos}, nil
		default:
			return token{kind: kind, text: l.src[start:l.off], pos: pos}, nil
		}
		l.advance(1)
	}

	return token{kind: kind, text: l.src[start:l.off], pos: pos}, nil
}

func (l *lexer) quoted(pos Position, quote byte, kind tokenKind) (token, error) {
	start := l.off
	l.advance(1)
	for l.off < len(l.src) {
		switch l.src[l.off] {
		case '\\':
			l.advance(2)
		case '\n':
			return token{}, l.errorf(pos, "newline in literal")
		case quote:
			l.advance(1)
			return token{kind: kind, text: l.src[start:l.off], pos: pos}, nil
		default:
			l.advance(1)
		}
	}

	return token{}, l.errorf(pos, "unterminated literal")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
