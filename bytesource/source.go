// Package bytesource provides random-access little-endian readers over the
// backing stores a container can live in.
//
// Every implementation satisfies Source with identical semantics: a cursor
// advanced by the typed reads, random reads that leave the cursor alone, and
// on-demand decompression of a byte range. Higher layers never know whether
// the bytes come from memory, a memory map, a local file or object storage.
//
// A Source owns mutable cursor state and working buffers; it is not safe for
// concurrent use. Open one Source per goroutine.
package bytesource

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
)

// Source is a random-access binary reader with a cursor.
type Source interface {
	// Position returns the cursor position.
	Position() uint64
	// SetPosition moves the cursor. Moving past Size fails.
	SetPosition(pos uint64) error
	// Size returns the total number of bytes available.
	Size() uint64

	// ReadUint8 reads one byte at the cursor and advances it.
	ReadUint8() (uint8, error)
	// ReadUint16 reads a little-endian uint16 at the cursor and advances it.
	ReadUint16() (uint16, error)
	// ReadUint32 reads a little-endian uint32 at the cursor and advances it.
	ReadUint32() (uint32, error)
	// ReadUint64 reads a little-endian uint64 at the cursor and advances it.
	ReadUint64() (uint64, error)
	// ReadString reads a uint32 length-prefixed UTF-8 string and advances the cursor.
	ReadString() (string, error)

	// BytesAt returns length bytes starting at offset without moving the cursor.
	//
	// Whether the result aliases internal memory depends on the
	// implementation; callers must treat it as read-only.
	BytesAt(offset, length uint64) ([]byte, error)

	// DecompressedAt reads compressedLength bytes at offset and decodes them
	// with the given compression into exactly uncompressedLength bytes.
	DecompressedAt(offset, compressedLength, uncompressedLength uint64, c format.CompressionType) ([]byte, error)

	// Close releases the backing store. It is safe to call more than once.
	Close() error
}

// fetcher supplies views of the backing store. A view is only valid until
// the next fetch call.
type fetcher interface {
	view(offset, length uint64) ([]byte, error)
	// owned reports whether views stay valid after the next fetch.
	owned() bool
}

// cursor implements Source on top of a fetcher.
type cursor struct {
	f      fetcher
	size   uint64
	pos    uint64
	closed bool
	closer func() error
}

func (c *cursor) Position() uint64 { return c.pos }

func (c *cursor) Size() uint64 { return c.size }

func (c *cursor) SetPosition(pos uint64) error {
	if c.closed {
		return errs.ErrClosed
	}
	if pos > c.size {
		return fmt.Errorf("%w: position %d beyond size %d", errs.ErrUnexpectedEndOfData, pos, c.size)
	}
	c.pos = pos

	return nil
}

func (c *cursor) next(n uint64) ([]byte, error) {
	b, err := c.fetch(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += n

	return b, nil
}

func (c *cursor) fetch(offset, length uint64) ([]byte, error) {
	if c.closed {
		return nil, errs.ErrClosed
	}
	if offset > c.size || length > c.size-offset {
		return nil, fmt.Errorf("%w: %d bytes at offset %d, size %d", errs.ErrUnexpectedEndOfData, length, offset, c.size)
	}
	if length == 0 {
		return []byte{}, nil
	}

	return c.f.view(offset, length)
}

func (c *cursor) ReadUint8() (uint8, error) {
	b, err := c.next(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (c *cursor) ReadUint16() (uint16, error) {
	b, err := c.next(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) ReadUint32() (uint32, error) {
	b, err := c.next(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) ReadUint64() (uint64, error) {
	b, err := c.next(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) ReadString() (string, error) {
	start := c.pos
	n, err := c.ReadUint32()
	if err != nil {
		return "", err
	}
	b, err := c.next(uint64(n))
	if err != nil {
		c.pos = start
		return "", err
	}

	return string(b), nil
}

func (c *cursor) BytesAt(offset, length uint64) ([]byte, error) {
	b, err := c.fetch(offset, length)
	if err != nil {
		return nil, err
	}
	if c.f.owned() {
		return b, nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out, nil
}

func (c *cursor) DecompressedAt(offset, compressedLength, uncompressedLength uint64, ct format.CompressionType) ([]byte, error) {
	if uncompressedLength > math.MaxInt32 {
		return nil, fmt.Errorf("%w: uncompressed length %d too large", errs.ErrMalformedRecord, uncompressedLength)
	}

	codec, err := compress.GetCodec(ct)
	if err != nil {
		return nil, err
	}

	var data []byte
	if ct == format.CompressionNone {
		// No-op decoding returns its input, so it must not be a transient view.
		data, err = c.BytesAt(offset, compressedLength)
	} else {
		data, err = c.fetch(offset, compressedLength)
	}
	if err != nil {
		return nil, err
	}

	out, err := codec.Decompress(data, int(uncompressedLength))
	if err != nil {
		return nil, fmt.Errorf("decompress %d bytes at offset %d: %w", compressedLength, offset, err)
	}

	return out, nil
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		return c.closer()
	}

	return nil
}
