package record

import (
	"encoding/binary"
	"slices"

	"github.com/arloliu/mcapkit/format"
)

// Append appends r, framed as opcode + u64 length + body, to buf.
func Append(buf []byte, r Record) []byte {
	buf = append(buf, byte(r.Opcode()))
	lenPos := len(buf)
	buf = binary.LittleEndian.AppendUint64(buf, 0)
	buf = r.AppendBody(buf)
	binary.LittleEndian.PutUint64(buf[lenPos:], uint64(len(buf)-lenPos-8))

	return buf
}

// Encode returns r framed as a standalone byte slice.
func Encode(r Record) []byte {
	return Append(nil, r)
}

// AppendPrefix appends an opcode and body length without a body.
func AppendPrefix(buf []byte, op format.Opcode, length uint64) []byte {
	buf = append(buf, byte(op))
	return binary.LittleEndian.AppendUint64(buf, length)
}

func (h *Header) AppendBody(buf []byte) []byte {
	buf = appendString(buf, h.Profile)
	return appendString(buf, h.Library)
}

func (f *Footer) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, f.SummaryStart)
	buf = binary.LittleEndian.AppendUint64(buf, f.SummaryOffsetStart)
	return binary.LittleEndian.AppendUint32(buf, f.SummaryCRC)
}

func (s *Schema) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, s.ID)
	buf = appendString(buf, s.Name)
	buf = appendString(buf, s.Encoding)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Data)))
	return append(buf, s.Data...)
}

func (c *Channel) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, c.ID)
	buf = binary.LittleEndian.AppendUint16(buf, c.SchemaID)
	buf = appendString(buf, c.Topic)
	buf = appendString(buf, c.MessageEncoding)
	return appendStringMap(buf, c.Metadata)
}

func (m *Message) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, m.ChannelID)
	buf = binary.LittleEndian.AppendUint32(buf, m.Sequence)
	buf = binary.LittleEndian.AppendUint64(buf, m.LogTime)
	buf = binary.LittleEndian.AppendUint64(buf, m.PublishTime)
	return append(buf, m.Data...)
}

// AppendBody encodes the chunk with its in-memory Records. A lazily parsed
// chunk must have Records populated before it is encoded.
func (c *Chunk) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, c.MessageStartTime)
	buf = binary.LittleEndian.AppendUint64(buf, c.MessageEndTime)
	buf = binary.LittleEndian.AppendUint64(buf, c.UncompressedSize)
	buf = binary.LittleEndian.AppendUint32(buf, c.UncompressedCRC)
	buf = appendString(buf, c.Compression)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(c.Records)))
	return append(buf, c.Records...)
}

func (mi *MessageIndex) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, mi.ChannelID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(mi.Records)*16))
	for _, e := range mi.Records {
		buf = binary.LittleEndian.AppendUint64(buf, e.Timestamp)
		buf = binary.LittleEndian.AppendUint64(buf, e.Offset)
	}

	return buf
}

func (ci *ChunkIndex) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, ci.MessageStartTime)
	buf = binary.LittleEndian.AppendUint64(buf, ci.MessageEndTime)
	buf = binary.LittleEndian.AppendUint64(buf, ci.ChunkStartOffset)
	buf = binary.LittleEndian.AppendUint64(buf, ci.ChunkLength)
	buf = appendUint16Map(buf, ci.MessageIndexOffsets)
	buf = binary.LittleEndian.AppendUint64(buf, ci.MessageIndexLength)
	buf = appendString(buf, ci.Compression)
	buf = binary.LittleEndian.AppendUint64(buf, ci.CompressedSize)
	return binary.LittleEndian.AppendUint64(buf, ci.UncompressedSize)
}

func (a *Attachment) AppendBody(buf []byte) []byte {
	buf = a.appendCRCScope(buf)
	return binary.LittleEndian.AppendUint32(buf, a.CRC)
}

// appendCRCScope appends every body field covered by the attachment CRC.
func (a *Attachment) appendCRCScope(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, a.LogTime)
	buf = binary.LittleEndian.AppendUint64(buf, a.CreateTime)
	buf = appendString(buf, a.Name)
	buf = appendString(buf, a.MediaType)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(a.Data)))
	return append(buf, a.Data...)
}

func (ai *AttachmentIndex) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, ai.Offset)
	buf = binary.LittleEndian.AppendUint64(buf, ai.Length)
	buf = binary.LittleEndian.AppendUint64(buf, ai.LogTime)
	buf = binary.LittleEndian.AppendUint64(buf, ai.CreateTime)
	buf = binary.LittleEndian.AppendUint64(buf, ai.DataSize)
	buf = appendString(buf, ai.Name)
	return appendString(buf, ai.MediaType)
}

func (s *Statistics) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, s.MessageCount)
	buf = binary.LittleEndian.AppendUint16(buf, s.SchemaCount)
	buf = binary.LittleEndian.AppendUint32(buf, s.ChannelCount)
	buf = binary.LittleEndian.AppendUint32(buf, s.AttachmentCount)
	buf = binary.LittleEndian.AppendUint32(buf, s.MetadataCount)
	buf = binary.LittleEndian.AppendUint32(buf, s.ChunkCount)
	buf = binary.LittleEndian.AppendUint64(buf, s.MessageStartTime)
	buf = binary.LittleEndian.AppendUint64(buf, s.MessageEndTime)
	return appendUint16Map(buf, s.ChannelMessageCounts)
}

func (m *Metadata) AppendBody(buf []byte) []byte {
	buf = appendString(buf, m.Name)
	return appendStringMap(buf, m.Metadata)
}

func (mi *MetadataIndex) AppendBody(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, mi.Offset)
	buf = binary.LittleEndian.AppendUint64(buf, mi.Length)
	return appendString(buf, mi.Name)
}

func (so *SummaryOffset) AppendBody(buf []byte) []byte {
	buf = append(buf, byte(so.GroupOpcode))
	buf = binary.LittleEndian.AppendUint64(buf, so.GroupStart)
	return binary.LittleEndian.AppendUint64(buf, so.GroupLength)
}

func (d *DataEnd) AppendBody(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, d.DataSectionCRC)
}

func (u *Unknown) AppendBody(buf []byte) []byte {
	return append(buf, u.Body...)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// appendStringMap writes keys in ascending order so equal maps encode equally.
func appendStringMap(buf []byte, m map[string]string) []byte {
	lenPos := len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, 0)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, m[k])
	}
	binary.LittleEndian.PutUint32(buf[lenPos:], uint32(len(buf)-lenPos-4))

	return buf
}

func appendUint16Map(buf []byte, m map[uint16]uint64) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m)*10))

	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		buf = binary.LittleEndian.AppendUint16(buf, k)
		buf = binary.LittleEndian.AppendUint64(buf, m[k])
	}

	return buf
}
