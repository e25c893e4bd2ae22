package cdr

import (
	"math"
	"unicode/utf16"

	"github.com/arloliu/mcapkit/endian"
)

// Encoder appends values to a CDR payload. The zero value is not usable;
// create one with NewEncoder.
type Encoder struct {
	buf   []byte
	order endian.EndianEngine
}

// NewEncoder starts a payload with the plain CDR header for order.
func NewEncoder(order endian.EndianEngine) *Encoder {
	id := endian.Encapsulation(order)
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(id>>8), byte(id), 0, 0)

	return &Encoder{buf: buf, order: order}
}

// Bytes returns the payload, header included.
func (e *Encoder) Bytes() []byte { return e.buf }

// Align pads with zeros up to the next multiple of n.
func (e *Encoder) Align(n int) {
	for range padding(len(e.buf)-endian.EncapsulationSize, n) {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) Uint8(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) Int8(v int8) { e.Uint8(uint8(v)) } //nolint: gosec

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
		return
	}
	e.Uint8(0)
}

func (e *Encoder) Uint16(v uint16) {
	e.Align(2)
	e.buf = e.order.AppendUint16(e.buf, v)
}

func (e *Encoder) Int16(v int16) { e.Uint16(uint16(v)) } //nolint: gosec

func (e *Encoder) Uint32(v uint32) {
	e.Align(4)
	e.buf = e.order.AppendUint32(e.buf, v)
}

func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) } //nolint: gosec

func (e *Encoder) Uint64(v uint64) {
	e.Align(8)
	e.buf = e.order.AppendUint64(e.buf, v)
}

func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) } //nolint: gosec

func (e *Encoder) Float32(v float32) { e.Uint32(math.Float32bits(v)) }

func (e *Encoder) Float64(v float64) { e.Uint64(math.Float64bits(v)) }

func (e *Encoder) LongDouble(v [LongDoubleSize]byte) {
	e.Align(8)
	e.buf = append(e.buf, v[:]...)
}

// String writes s with its length and terminating NUL.
func (e *Encoder) String(s string) {
	e.Uint32(uint32(len(s) + 1)) //nolint: gosec
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

// WString writes s as UTF-16 code units.
func (e *Encoder) WString(s string) {
	units := utf16.Encode([]rune(s))
	e.Uint32(uint32(len(units))) //nolint: gosec
	for _, u := range units {
		e.buf = e.order.AppendUint16(e.buf, u)
	}
}

// SequenceLength writes the element count of a sequence.
func (e *Encoder) SequenceLength(n int) { e.Uint32(uint32(n)) } //nolint: gosec
