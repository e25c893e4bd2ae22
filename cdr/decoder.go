// Package cdr reads and writes OMG CDR encoded message payloads.
//
// A payload starts with a 4-byte encapsulation header whose second byte
// selects the byte order. Every primitive is aligned to its own size,
// measured from the end of the header. Strings are a uint32 length that
// counts the terminating NUL, followed by the bytes and the NUL. Sequences
// are a uint32 element count followed by the elements.
//
// Decoder and Encoder handle single values. DecodeFlat walks a loaded
// schema.Descriptor and decodes a whole payload into named values.
package cdr

import (
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/arloliu/mcapkit/endian"
	"github.com/arloliu/mcapkit/errs"
)

// LongDoubleSize is the encoded width of an IDL long double.
const LongDoubleSize = 16

// Decoder reads values from a CDR payload in order.
type Decoder struct {
	buf   []byte
	off   int
	order endian.EndianEngine
}

// NewDecoder reads the encapsulation header of payload.
func NewDecoder(payload []byte) (*Decoder, error) {
	if len(payload) < endian.EncapsulationSize {
		return nil, fmt.Errorf("%w: %d byte payload is shorter than the encapsulation header",
			errs.ErrUnexpectedEndOfData, len(payload))
	}

	return &Decoder{
		buf:   payload[endian.EncapsulationSize:],
		order: endian.FromEncapsulation(payload),
	}, nil
}

// ByteOrder returns the byte order selected by the header.
func (d *Decoder) ByteOrder() endian.EndianEngine { return d.order }

// Offset returns the read position relative to the end of the header.
func (d *Decoder) Offset() int { return d.off }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// Align skips the padding up to the next multiple of n.
func (d *Decoder) Align(n int) error {
	pad := padding(d.off, n)
	if pad > d.Remaining() {
		return d.short(pad)
	}
	d.off += pad

	return nil
}

func (d *Decoder) short(n int) error {
	return fmt.Errorf("%w: need %d bytes at offset %d, %d left",
		errs.ErrUnexpectedEndOfData, n, d.off, d.Remaining())
}

// read aligns to align and returns the next size bytes.
func (d *Decoder) read(size, align int) ([]byte, error) {
	if err := d.Align(align); err != nil {
		return nil, err
	}
	if size > d.Remaining() {
		return nil, d.short(size)
	}
	b := d.buf[d.off : d.off+size]
	d.off += size

	return b, nil
}

func (d *Decoder) Uint8() (uint8, error) {
	b, err := d.read(1, 1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (d *Decoder) Int8() (int8, error) {
	v, err := d.Uint8()
	return int8(v), err //nolint: gosec
}

// Bool reads a boolean, which must be encoded as 0 or 1.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint8()
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, fmt.Errorf("%w: boolean value %d at offset %d", errs.ErrMalformedPayload, v, d.off-1)
	}

	return v == 1, nil
}

func (d *Decoder) Uint16() (uint16, error) {
	b, err := d.read(2, 2)
	if err != nil {
		return 0, err
	}

	return d.order.Uint16(b), nil
}

func (d *Decoder) Int16() (int16, error) {
	v, err := d.Uint16()
	return int16(v), err //nolint: gosec
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.read(4, 4)
	if err != nil {
		return 0, err
	}

	return d.order.Uint32(b), nil
}

func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err //nolint: gosec
}

func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.read(8, 8)
	if err != nil {
		return 0, err
	}

	return d.order.Uint64(b), nil
}

func (d *Decoder) Int64() (int64, error) {
	v, err := d.Uint64()
	return int64(v), err //nolint: gosec
}

func (d *Decoder) Float32() (float32, error) {
	v, err := d.Uint32()
	return math.Float32frombits(v), err
}

func (d *Decoder) Float64() (float64, error) {
	v, err := d.Uint64()
	return math.Float64frombits(v), err
}

// LongDouble returns the raw 16 bytes of a long double, aligned to 8.
func (d *Decoder) LongDouble() ([LongDoubleSize]byte, error) {
	var v [LongDoubleSize]byte
	b, err := d.read(LongDoubleSize, 8)
	if err != nil {
		return v, err
	}
	copy(v[:], b)

	return v, nil
}

// String reads a NUL terminated string. A zero length decodes as "".
func (d *Decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if int64(n) > int64(d.Remaining()) {
		return "", d.short(int(n))
	}
	b := d.buf[d.off : d.off+int(n)]
	if b[n-1] != 0 {
		return "", fmt.Errorf("%w: string at offset %d is not NUL terminated", errs.ErrMalformedPayload, d.off)
	}
	d.off += int(n)

	return string(b[:n-1]), nil
}

// WString reads a wide string: a uint32 count of UTF-16 code units
// followed by the units, without a terminator.
func (d *Decoder) WString() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if int64(n)*2 > int64(d.Remaining()) {
		return "", d.short(int(n) * 2)
	}

	units := make([]uint16, n)
	for i := range units {
		units[i] = d.order.Uint16(d.buf[d.off:])
		d.off += 2
	}

	return string(utf16.Decode(units)), nil
}

// SequenceLength reads a sequence element count. Every element takes at
// least one byte, so a count larger than the remaining payload fails.
func (d *Decoder) SequenceLength() (int, error) {
	n, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if int64(n) > int64(d.Remaining()) {
		return 0, fmt.Errorf("%w: sequence of %d elements at offset %d, %d bytes left",
			errs.ErrMalformedPayload, n, d.off-4, d.Remaining())
	}

	return int(n), nil
}

func padding(off, align int) int {
	if align <= 1 {
		return 0
	}

	return (align - off%align) % align
}
