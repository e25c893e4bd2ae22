package record

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
)

// chunkFixedSize covers the chunk fields before the compression string body:
// start time, end time, uncompressed size, uncompressed CRC and the string length.
const chunkFixedSize = 8 + 8 + 8 + 4 + 4

// ReadPrefix reads the opcode and body length of the record at offset.
func ReadPrefix(src bytesource.Source, offset uint64) (format.Opcode, uint64, error) {
	p, err := src.BytesAt(offset, format.RecordPrefixSize)
	if err != nil {
		return 0, 0, err
	}

	return format.Opcode(p[0]), binary.LittleEndian.Uint64(p[1:]), nil
}

// ReadAt decodes the record framed at offset.
//
// It returns the record and its framed size. Chunks are decoded lazily
// through ParseChunkHeader so their compressed records are not read.
func ReadAt(src bytesource.Source, offset uint64) (Record, uint64, error) {
	op, length, err := ReadPrefix(src, offset)
	if err != nil {
		return nil, 0, err
	}

	bodyOffset := offset + format.RecordPrefixSize
	if bodyOffset > src.Size() || length > src.Size()-bodyOffset {
		return nil, 0, fmt.Errorf("%w: %s body of %d bytes at offset %d exceeds source size %d",
			errs.ErrMalformedRecord, op, length, bodyOffset, src.Size())
	}
	total := format.RecordPrefixSize + length

	if op == format.OpChunk {
		c, err := ParseChunkHeader(src, bodyOffset, length)
		if err != nil {
			return nil, 0, err
		}

		return c, total, nil
	}

	body, err := src.BytesAt(bodyOffset, length)
	if err != nil {
		return nil, 0, err
	}
	rec, err := Parse(op, body)
	if err != nil {
		return nil, 0, err
	}
	if u, ok := rec.(*Unknown); ok {
		u.Offset = offset
	}

	return rec, total, nil
}

// ParseChunkHeader decodes the fixed part of a chunk body located at
// bodyOffset in src. The returned chunk is lazy: its compressed records stay
// in the source and are located by RecordsOffset and RecordsLength.
func ParseChunkHeader(src bytesource.Source, bodyOffset, bodyLength uint64) (*Chunk, error) {
	if bodyLength < chunkFixedSize+8 {
		return nil, fmt.Errorf("%w: chunk body of %d bytes too short", errs.ErrMalformedRecord, bodyLength)
	}

	fixed, err := src.BytesAt(bodyOffset, chunkFixedSize)
	if err != nil {
		return nil, err
	}
	c := &Chunk{
		MessageStartTime: binary.LittleEndian.Uint64(fixed[0:]),
		MessageEndTime:   binary.LittleEndian.Uint64(fixed[8:]),
		UncompressedSize: binary.LittleEndian.Uint64(fixed[16:]),
		UncompressedCRC:  binary.LittleEndian.Uint32(fixed[24:]),
	}
	nameLen := uint64(binary.LittleEndian.Uint32(fixed[28:]))
	if nameLen > bodyLength-chunkFixedSize-8 {
		return nil, fmt.Errorf("%w: chunk compression name of %d bytes exceeds body", errs.ErrMalformedRecord, nameLen)
	}

	tail, err := src.BytesAt(bodyOffset+chunkFixedSize, nameLen+8)
	if err != nil {
		return nil, err
	}
	c.Compression = string(tail[:nameLen])
	c.RecordsLength = binary.LittleEndian.Uint64(tail[nameLen:])
	c.RecordsOffset = bodyOffset + chunkFixedSize + nameLen + 8

	if c.RecordsLength != bodyLength-chunkFixedSize-nameLen-8 {
		return nil, fmt.Errorf("%w: chunk records length %d disagrees with body length %d",
			errs.ErrMalformedRecord, c.RecordsLength, bodyLength)
	}

	return c, nil
}

// Decompress returns the chunk's uncompressed record stream.
//
// In-memory records are decoded directly; lazy chunks are read from src,
// which may be nil only for in-memory chunks. The stream length is checked
// against UncompressedSize but the CRC is not; see VerifyCRC.
func (c *Chunk) Decompress(src bytesource.Source) ([]byte, error) {
	ct, ok := c.CompressionType()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedCompression, c.Compression)
	}

	if c.Records == nil && c.RecordsLength > 0 {
		if src == nil {
			return nil, fmt.Errorf("%w: lazy chunk without a source", errs.ErrMalformedRecord)
		}

		return src.DecompressedAt(c.RecordsOffset, c.RecordsLength, c.UncompressedSize, ct)
	}

	if c.UncompressedSize > math.MaxInt32 {
		return nil, fmt.Errorf("%w: uncompressed size %d too large", errs.ErrMalformedRecord, c.UncompressedSize)
	}
	codec, err := compress.GetCodec(ct)
	if err != nil {
		return nil, err
	}

	return codec.Decompress(c.Records, int(c.UncompressedSize)) //nolint: gosec
}

// Load reads the compressed records of a lazy chunk into memory.
func (c *Chunk) Load(src bytesource.Source) error {
	if c.Loaded() {
		if c.Records == nil {
			c.Records = []byte{}
		}

		return nil
	}

	data, err := src.BytesAt(c.RecordsOffset, c.RecordsLength)
	if err != nil {
		return err
	}
	c.Records = data

	return nil
}

// ParseRecords walks an uncompressed chunk record stream.
//
// fn receives each record with its offset relative to the start of data.
// Decoding stops at the first error, which carries the record position as
// an *errs.RecordError. An error returned by fn is passed through unchanged.
func ParseRecords(data []byte, fn func(offset uint64, rec Record) error) error {
	var offset uint64
	size := uint64(len(data))

	for i := 0; offset < size; i++ {
		if size-offset < format.RecordPrefixSize {
			return errs.NewRecordError(offset, i, 0,
				fmt.Errorf("%w: %d trailing bytes", errs.ErrMalformedRecord, size-offset))
		}

		op := format.Opcode(data[offset])
		length := binary.LittleEndian.Uint64(data[offset+1:])
		bodyStart := offset + format.RecordPrefixSize
		if length > size-bodyStart {
			return errs.NewRecordError(offset, i, op,
				fmt.Errorf("%w: body of %d bytes exceeds stream", errs.ErrMalformedRecord, length))
		}

		rec, err := Parse(op, data[bodyStart:bodyStart+length])
		if err != nil {
			return errs.NewRecordError(offset, i, op, err)
		}
		if u, ok := rec.(*Unknown); ok {
			u.Offset = offset
		}

		if err := fn(offset, rec); err != nil {
			return err
		}
		offset = bodyStart + length
	}

	return nil
}

// ReadAll decodes every record of an uncompressed chunk record stream.
func ReadAll(data []byte) ([]Record, error) {
	var out []Record
	err := ParseRecords(data, func(_ uint64, rec Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// BuildMessageIndexes indexes the messages of an uncompressed chunk record
// stream by channel. Entries keep stream order; the result is sorted by
// channel id.
func BuildMessageIndexes(data []byte) ([]*MessageIndex, error) {
	byChannel := make(map[uint16]*MessageIndex)

	err := ParseRecords(data, func(offset uint64, rec Record) error {
		m, ok := rec.(*Message)
		if !ok {
			return nil
		}

		mi, ok := byChannel[m.ChannelID]
		if !ok {
			mi = &MessageIndex{ChannelID: m.ChannelID}
			byChannel[m.ChannelID] = mi
		}
		mi.Records = append(mi.Records, MessageIndexEntry{Timestamp: m.LogTime, Offset: offset})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return SortedIndexes(byChannel), nil
}

// SortedIndexes returns the indexes of m ordered by channel id.
func SortedIndexes(m map[uint16]*MessageIndex) []*MessageIndex {
	out := make([]*MessageIndex, 0, len(m))
	for _, mi := range m {
		out = append(out, mi)
	}
	slices.SortFunc(out, func(a, b *MessageIndex) int {
		return cmp.Compare(a.ChannelID, b.ChannelID)
	})

	return out
}
