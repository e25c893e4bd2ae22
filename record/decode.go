package record

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
)

// Parse decodes the body of a record with the given opcode.
//
// Unknown opcodes decode to *Unknown. A body shorter than its fixed fields,
// or with a length prefix running past the end, returns ErrMalformedRecord.
// Byte fields alias body.
func Parse(op format.Opcode, body []byte) (Record, error) {
	r := &bodyReader{op: op, b: body}

	var rec Record
	switch op {
	case format.OpHeader:
		rec = &Header{Profile: r.str(), Library: r.str()}
	case format.OpFooter:
		rec = &Footer{SummaryStart: r.u64(), SummaryOffsetStart: r.u64(), SummaryCRC: r.u32()}
	case format.OpSchema:
		rec = &Schema{ID: r.u16(), Name: r.str(), Encoding: r.str(), Data: r.bytes32()}
	case format.OpChannel:
		rec = &Channel{ID: r.u16(), SchemaID: r.u16(), Topic: r.str(), MessageEncoding: r.str(), Metadata: r.strMap()}
	case format.OpMessage:
		rec = &Message{ChannelID: r.u16(), Sequence: r.u32(), LogTime: r.u64(), PublishTime: r.u64(), Data: r.rest()}
	case format.OpChunk:
		c := &Chunk{
			MessageStartTime: r.u64(),
			MessageEndTime:   r.u64(),
			UncompressedSize: r.u64(),
			UncompressedCRC:  r.u32(),
			Compression:      r.str(),
		}
		c.Records = r.bytes64()
		c.RecordsLength = uint64(len(c.Records))
		rec = c
	case format.OpMessageIndex:
		rec = &MessageIndex{ChannelID: r.u16(), Records: r.indexEntries()}
	case format.OpChunkIndex:
		rec = &ChunkIndex{
			MessageStartTime:    r.u64(),
			MessageEndTime:      r.u64(),
			ChunkStartOffset:    r.u64(),
			ChunkLength:         r.u64(),
			MessageIndexOffsets: r.u16Map(),
			MessageIndexLength:  r.u64(),
			Compression:         r.str(),
			CompressedSize:      r.u64(),
			UncompressedSize:    r.u64(),
		}
	case format.OpAttachment:
		rec = &Attachment{
			LogTime:    r.u64(),
			CreateTime: r.u64(),
			Name:       r.str(),
			MediaType:  r.str(),
			Data:       r.bytes64(),
			CRC:        r.u32(),
		}
	case format.OpAttachmentIndex:
		rec = &AttachmentIndex{
			Offset:     r.u64(),
			Length:     r.u64(),
			LogTime:    r.u64(),
			CreateTime: r.u64(),
			DataSize:   r.u64(),
			Name:       r.str(),
			MediaType:  r.str(),
		}
	case format.OpStatistics:
		rec = &Statistics{
			MessageCount:         r.u64(),
			SchemaCount:          r.u16(),
			ChannelCount:         r.u32(),
			AttachmentCount:      r.u32(),
			MetadataCount:        r.u32(),
			ChunkCount:           r.u32(),
			MessageStartTime:     r.u64(),
			MessageEndTime:       r.u64(),
			ChannelMessageCounts: r.u16Map(),
		}
	case format.OpMetadata:
		rec = &Metadata{Name: r.str(), Metadata: r.strMap()}
	case format.OpMetadataIndex:
		rec = &MetadataIndex{Offset: r.u64(), Length: r.u64(), Name: r.str()}
	case format.OpSummaryOffset:
		rec = &SummaryOffset{GroupOpcode: format.Opcode(r.u8()), GroupStart: r.u64(), GroupLength: r.u64()}
	case format.OpDataEnd:
		rec = &DataEnd{DataSectionCRC: r.u32()}
	default:
		return &Unknown{Op: op, Length: uint64(len(body)), Body: body}, nil
	}

	if r.err != nil {
		return nil, r.err
	}

	return rec, nil
}

// bodyReader decodes little-endian fields from a record body. The first
// failure sticks; later reads return zero values.
type bodyReader struct {
	op  format.Opcode
	b   []byte
	off int
	err error
}

func (r *bodyReader) take(n uint64, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)-r.off) {
		r.err = fmt.Errorf("%w: %s %s needs %d bytes, %d left",
			errs.ErrMalformedRecord, r.op, field, n, len(r.b)-r.off)

		return nil
	}
	p := r.b[r.off : r.off+int(n) : r.off+int(n)]
	r.off += int(n)

	return p
}

func (r *bodyReader) u8() uint8 {
	if p := r.take(1, "uint8"); p != nil {
		return p[0]
	}

	return 0
}

func (r *bodyReader) u16() uint16 {
	if p := r.take(2, "uint16"); p != nil {
		return binary.LittleEndian.Uint16(p)
	}

	return 0
}

func (r *bodyReader) u32() uint32 {
	if p := r.take(4, "uint32"); p != nil {
		return binary.LittleEndian.Uint32(p)
	}

	return 0
}

func (r *bodyReader) u64() uint64 {
	if p := r.take(8, "uint64"); p != nil {
		return binary.LittleEndian.Uint64(p)
	}

	return 0
}

func (r *bodyReader) str() string {
	n := r.u32()
	return string(r.take(uint64(n), "string"))
}

func (r *bodyReader) bytes32() []byte {
	n := r.u32()
	if p := r.take(uint64(n), "bytes"); p != nil {
		return p
	}

	return []byte{}
}

func (r *bodyReader) bytes64() []byte {
	n := r.u64()
	if p := r.take(n, "bytes"); p != nil {
		return p
	}

	return []byte{}
}

func (r *bodyReader) rest() []byte {
	if r.err != nil {
		return nil
	}

	p := r.b[r.off:len(r.b):len(r.b)]
	r.off = len(r.b)

	return p
}

// sub returns a reader over the next n bytes, used for length-prefixed maps and arrays.
func (r *bodyReader) sub(field string) *bodyReader {
	n := r.u32()
	p := r.take(uint64(n), field)

	return &bodyReader{op: r.op, b: p, err: r.err}
}

func (r *bodyReader) done() bool {
	return r.err != nil || r.off >= len(r.b)
}

func (r *bodyReader) strMap() map[string]string {
	s := r.sub("map")
	m := make(map[string]string)
	for !s.done() {
		k := s.str()
		v := s.str()
		if s.err == nil {
			m[k] = v
		}
	}
	if s.err != nil && r.err == nil {
		r.err = s.err
	}

	return m
}

func (r *bodyReader) u16Map() map[uint16]uint64 {
	s := r.sub("map")
	m := make(map[uint16]uint64)
	for !s.done() {
		k := s.u16()
		v := s.u64()
		if s.err == nil {
			m[k] = v
		}
	}
	if s.err != nil && r.err == nil {
		r.err = s.err
	}

	return m
}

func (r *bodyReader) indexEntries() []MessageIndexEntry {
	s := r.sub("array")
	entries := make([]MessageIndexEntry, 0, len(s.b)/16)
	for !s.done() {
		e := MessageIndexEntry{Timestamp: s.u64(), Offset: s.u64()}
		if s.err == nil {
			entries = append(entries, e)
		}
	}
	if s.err != nil && r.err == nil {
		r.err = s.err
	}

	return entries
}
