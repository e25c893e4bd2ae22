package format

import "fmt"

type (
	// Opcode identifies the type of a top-level or chunked record.
	Opcode uint8
	// CompressionType identifies the codec applied to a chunk's records.
	CompressionType uint8
)

const (
	OpHeader          Opcode = 0x01 // OpHeader is the first record after the leading magic.
	OpFooter          Opcode = 0x02 // OpFooter is the last record before the trailing magic.
	OpSchema          Opcode = 0x03 // OpSchema defines a message schema.
	OpChannel         Opcode = 0x04 // OpChannel defines a message channel.
	OpMessage         Opcode = 0x05 // OpMessage holds one time-stamped payload.
	OpChunk           Opcode = 0x06 // OpChunk holds a compressed run of records.
	OpMessageIndex    Opcode = 0x07 // OpMessageIndex locates messages of one channel inside a chunk.
	OpChunkIndex      Opcode = 0x08 // OpChunkIndex locates a chunk in the file.
	OpAttachment      Opcode = 0x09 // OpAttachment holds an arbitrary named blob.
	OpAttachmentIndex Opcode = 0x0A // OpAttachmentIndex locates an attachment.
	OpStatistics      Opcode = 0x0B // OpStatistics summarises the file.
	OpMetadata        Opcode = 0x0C // OpMetadata holds a named string map.
	OpMetadataIndex   Opcode = 0x0D // OpMetadataIndex locates a metadata record.
	OpSummaryOffset   Opcode = 0x0E // OpSummaryOffset locates a group of summary records.
	OpDataEnd         Opcode = 0x0F // OpDataEnd terminates the data section.

	CompressionNone CompressionType = 0x1 // CompressionNone stores chunk records as-is.
	CompressionLZ4  CompressionType = 0x2 // CompressionLZ4 stores chunk records as an LZ4 frame.
	CompressionZstd CompressionType = 0x3 // CompressionZstd stores chunk records as a Zstandard frame.
)

// Magic is the 8-byte marker framing both ends of a container.
var Magic = [MagicSize]byte{0x89, 'M', 'C', 'A', 'P', '0', '\r', '\n'}

const (
	// MagicSize is the length of Magic.
	MagicSize = 8
	// RecordPrefixSize is the opcode byte plus the u64 body length.
	RecordPrefixSize = 9
	// FooterBodySize is the fixed body length of a Footer record.
	FooterBodySize = 8 + 8 + 4
	// FooterRecordSize is the framed size of a Footer record.
	FooterRecordSize = RecordPrefixSize + FooterBodySize
)

func (o Opcode) String() string {
	switch o {
	case OpHeader:
		return "Header"
	case OpFooter:
		return "Footer"
	case OpSchema:
		return "Schema"
	case OpChannel:
		return "Channel"
	case OpMessage:
		return "Message"
	case OpChunk:
		return "Chunk"
	case OpMessageIndex:
		return "MessageIndex"
	case OpChunkIndex:
		return "ChunkIndex"
	case OpAttachment:
		return "Attachment"
	case OpAttachmentIndex:
		return "AttachmentIndex"
	case OpStatistics:
		return "Statistics"
	case OpMetadata:
		return "Metadata"
	case OpMetadataIndex:
		return "MetadataIndex"
	case OpSummaryOffset:
		return "SummaryOffset"
	case OpDataEnd:
		return "DataEnd"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(o))
	}
}

// Known reports whether o is one of the defined opcodes.
func (o Opcode) Known() bool {
	return o >= OpHeader && o <= OpDataEnd
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionLZ4:
		return "LZ4"
	case CompressionZstd:
		return "Zstd"
	default:
		return "Unknown"
	}
}

// WireName returns the compression string stored in Chunk and ChunkIndex records.
func (c CompressionType) WireName() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return ""
	}
}

// ParseCompression maps a wire compression string to a CompressionType.
//
// The empty string means no compression. Matching is exact, as written by
// the encoder; unknown names return false.
func ParseCompression(name string) (CompressionType, bool) {
	switch name {
	case "":
		return CompressionNone, true
	case "lz4":
		return CompressionLZ4, true
	case "zstd":
		return CompressionZstd, true
	default:
		return 0, false
	}
}
