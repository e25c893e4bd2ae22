// Package record defines the record variants of the container format and
// their binary encoding.
//
// Every record is framed as an opcode byte, a little-endian uint64 body
// length and the body. Decoding never fails on an unknown opcode: such
// records decode to Unknown so readers can skip them by length.
//
// Decoded records alias the byte slice they were parsed from (string fields
// excepted); callers that keep a record beyond the life of its source buffer
// must copy the byte fields they need.
package record

import (
	"github.com/arloliu/mcapkit/format"
)

// Record is one decoded record of any variant.
type Record interface {
	// Opcode returns the record's opcode.
	Opcode() format.Opcode
	// AppendBody appends the encoded body, without framing, to buf.
	AppendBody(buf []byte) []byte
}

// Header is the first record of a container.
type Header struct {
	Profile string
	Library string
}

// Footer is the last record of a container, followed only by the magic.
type Footer struct {
	// SummaryStart is the offset of the first summary record, or 0 when the
	// container has no summary.
	SummaryStart uint64
	// SummaryOffsetStart is the offset of the first SummaryOffset record, or 0.
	SummaryOffsetStart uint64
	// SummaryCRC covers SummaryStart up to this field, or 0 when not computed.
	SummaryCRC uint32
}

// Schema describes how to interpret the payloads of the channels that reference it.
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

// Channel is a named stream of messages sharing one schema.
//
// SchemaID 0 means the channel has no schema.
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

// Message is a single time-stamped payload on a channel.
// LogTime and PublishTime are nanoseconds since the epoch.
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// Chunk holds a compressed run of Schema, Channel and Message records.
//
// A chunk decoded with ParseChunkHeader is lazy: Records is nil and
// RecordsOffset/RecordsLength locate the compressed bytes in the source.
// A chunk decoded from an in-memory body has Records set.
type Chunk struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	UncompressedSize uint64
	UncompressedCRC  uint32
	// Compression is the wire name: "", "lz4" or "zstd".
	Compression string
	Records     []byte

	RecordsOffset uint64
	RecordsLength uint64
}

// MessageIndexEntry locates one message inside a chunk's uncompressed records.
type MessageIndexEntry struct {
	Timestamp uint64
	Offset    uint64
}

// MessageIndex lists the messages of one channel inside the preceding chunk.
type MessageIndex struct {
	ChannelID uint16
	Records   []MessageIndexEntry
}

// ChunkIndex locates a chunk and its message indexes in the file.
type ChunkIndex struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	// ChunkStartOffset and ChunkLength bound the whole Chunk record,
	// opcode and length prefix included.
	ChunkStartOffset uint64
	ChunkLength      uint64
	// MessageIndexOffsets maps channel id to the file offset of its MessageIndex record.
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         string
	CompressedSize      uint64
	UncompressedSize    uint64
}

// Attachment is an arbitrary named blob stored in the data section.
type Attachment struct {
	LogTime    uint64
	CreateTime uint64
	Name       string
	MediaType  string
	Data       []byte
	// CRC covers every preceding body byte, or 0 when not computed.
	CRC uint32
}

// AttachmentIndex locates an Attachment record.
type AttachmentIndex struct {
	Offset     uint64
	Length     uint64
	LogTime    uint64
	CreateTime uint64
	DataSize   uint64
	Name       string
	MediaType  string
}

// Statistics summarises the whole container.
type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

// Metadata is a named string map stored in the data section.
type Metadata struct {
	Name     string
	Metadata map[string]string
}

// MetadataIndex locates a Metadata record.
type MetadataIndex struct {
	Offset uint64
	Length uint64
	Name   string
}

// SummaryOffset locates the contiguous group of summary records with one opcode.
type SummaryOffset struct {
	GroupOpcode format.Opcode
	GroupStart  uint64
	GroupLength uint64
}

// DataEnd terminates the data section.
type DataEnd struct {
	// DataSectionCRC covers the file from offset 0 up to this record, or 0.
	DataSectionCRC uint32
}

// Unknown carries a record with an opcode this package does not define.
type Unknown struct {
	Op     format.Opcode
	Offset uint64
	Length uint64
	Body   []byte
}

func (*Header) Opcode() format.Opcode          { return format.OpHeader }
func (*Footer) Opcode() format.Opcode          { return format.OpFooter }
func (*Schema) Opcode() format.Opcode          { return format.OpSchema }
func (*Channel) Opcode() format.Opcode         { return format.OpChannel }
func (*Message) Opcode() format.Opcode         { return format.OpMessage }
func (*Chunk) Opcode() format.Opcode           { return format.OpChunk }
func (*MessageIndex) Opcode() format.Opcode    { return format.OpMessageIndex }
func (*ChunkIndex) Opcode() format.Opcode      { return format.OpChunkIndex }
func (*Attachment) Opcode() format.Opcode      { return format.OpAttachment }
func (*AttachmentIndex) Opcode() format.Opcode { return format.OpAttachmentIndex }
func (*Statistics) Opcode() format.Opcode      { return format.OpStatistics }
func (*Metadata) Opcode() format.Opcode        { return format.OpMetadata }
func (*MetadataIndex) Opcode() format.Opcode   { return format.OpMetadataIndex }
func (*SummaryOffset) Opcode() format.Opcode   { return format.OpSummaryOffset }
func (*DataEnd) Opcode() format.Opcode         { return format.OpDataEnd }
func (u *Unknown) Opcode() format.Opcode       { return u.Op }

// CompressionType maps the chunk's wire compression name to a CompressionType.
func (c *Chunk) CompressionType() (format.CompressionType, bool) {
	return format.ParseCompression(c.Compression)
}

// CompressedSize returns the length of the compressed records.
func (c *Chunk) CompressedSize() uint64 {
	if c.Records != nil {
		return uint64(len(c.Records))
	}

	return c.RecordsLength
}

// Loaded reports whether the compressed records are held in memory.
func (c *Chunk) Loaded() bool {
	return c.Records != nil || c.RecordsLength == 0
}

// Contains reports whether the chunk's message time span lies within [start, end].
func (ci *ChunkIndex) Contains(start, end uint64) bool {
	return start <= ci.MessageStartTime && ci.MessageEndTime <= end
}

// Overlaps reports whether the chunk's message time span intersects [start, end].
func (ci *ChunkIndex) Overlaps(start, end uint64) bool {
	return ci.MessageStartTime <= end && start <= ci.MessageEndTime
}

// Count returns the number of indexed messages.
func (mi *MessageIndex) Count() int {
	return len(mi.Records)
}
