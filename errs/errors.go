// Package errs defines the error values shared by every mcapkit package.
//
// Callers match failures with errors.Is against the sentinel values and use
// errors.As with RecordError or SyntaxError to recover diagnostic context
// such as the byte offset or source line of the failure.
package errs

import (
	"errors"
	"fmt"

	"github.com/arloliu/mcapkit/format"
)

var (
	// ErrMalformedRecord reports a framing, opcode or length inconsistency.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrCorruptFrame reports an LZ4 frame header, block or checksum failure.
	ErrCorruptFrame = errors.New("corrupt compressed frame")
	// ErrCRCMismatch reports a non-zero stored CRC that does not match the data.
	ErrCRCMismatch = errors.New("crc mismatch")
	// ErrUnresolvedReference reports a message or channel referring to an undefined channel or schema.
	ErrUnresolvedReference = errors.New("unresolved reference")
	// ErrUnexpectedEndOfData reports a read past the end of the available bytes.
	ErrUnexpectedEndOfData = errors.New("unexpected end of data")
	// ErrUnsupportedCompression reports a compression name or type the engine cannot handle.
	ErrUnsupportedCompression = errors.New("unsupported compression")
	// ErrMalformedPayload reports a message payload that does not match its schema.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrSchemaParse reports an IDL syntax error.
	ErrSchemaParse = errors.New("schema parse error")
	// ErrUnsupportedConstruct reports valid IDL that cannot be represented as a field table.
	ErrUnsupportedConstruct = errors.New("unsupported schema construct")
	// ErrInvalidMagic reports a missing or wrong leading or trailing magic.
	ErrInvalidMagic = errors.New("invalid magic")
	// ErrInvalidOption reports an option value outside its accepted range.
	ErrInvalidOption = errors.New("invalid option")
	// ErrClosed reports use of a source or writer after Close.
	ErrClosed = errors.New("already closed")
)

// RecordError attaches the position of a failing record to an underlying error.
//
// Index is the zero-based position of the record in its stream (top-level or
// inside a chunk), or -1 when the position is not known.
type RecordError struct {
	Offset uint64
	Index  int
	Opcode format.Opcode
	Err    error
}

// NewRecordError wraps err with the record position.
func NewRecordError(offset uint64, index int, op format.Opcode, err error) *RecordError {
	return &RecordError{Offset: offset, Index: index, Opcode: op, Err: err}
}

func (e *RecordError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s record #%d at offset %d: %v", e.Opcode, e.Index, e.Offset, e.Err)
	}

	return fmt.Sprintf("%s record at offset %d: %v", e.Opcode, e.Offset, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// SyntaxError reports where an IDL source failed to parse.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.Err }
