package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v4"
)

// lz4WriterPool pools frame writers. Reset keeps the options applied in New.
var lz4WriterPool = sync.Pool{
	New: func() any {
		zw := lz4.NewWriter(nil)
		if err := zw.Apply(
			lz4.ChecksumOption(true),
			lz4.BlockChecksumOption(false),
			lz4.BlockSizeOption(lz4.Block4Mb),
			lz4.CompressionLevelOption(lz4.Fast),
		); err != nil {
			panic(fmt.Sprintf("failed to configure lz4 writer for pool: %v", err))
		}

		return zw
	},
}

// LZ4Compressor implements the "lz4" chunk compression.
//
// Chunks carry complete LZ4 frames. Encoding uses pierrec/lz4 with a content
// checksum; decoding uses DecodeLZ4Frame, which accepts any conforming frame.
type LZ4Compressor struct{}

var _ Codec = (*LZ4Compressor)(nil)

// NewLZ4Compressor creates a new LZ4 frame codec.
//
// Returns:
//   - LZ4Compressor: New LZ4 codec instance
func NewLZ4Compressor() LZ4Compressor {
	return LZ4Compressor{}
}

// Compress encodes data as one LZ4 frame.
//
// Parameters:
//   - data: Input data to compress
//
// Returns:
//   - []byte: A complete frame, including end mark and content checksum
//   - error: Compression error if any
func (c LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return emptyLZ4Frame(), nil
	}

	var buf bytes.Buffer
	buf.Grow(lz4.CompressBlockBound(len(data)) + 32)

	zw, _ := lz4WriterPool.Get().(*lz4.Writer)
	defer lz4WriterPool.Put(zw)
	zw.Reset(&buf)

	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress decodes an LZ4 frame that must expand to uncompressedSize bytes.
func (c LZ4Compressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	out, err := DecodeLZ4Frame(data, uncompressedSize)
	if err != nil {
		return nil, err
	}
	if err := checkSize(len(out), uncompressedSize, "lz4"); err != nil {
		return nil, err
	}

	return out, nil
}

// emptyLZ4Frame builds a frame with no blocks: magic, descriptor, end mark
// and the content checksum of zero bytes.
func emptyLZ4Frame() []byte {
	frame := make([]byte, 0, 15)
	frame = binary.LittleEndian.AppendUint32(frame, lz4FrameMagic)
	descriptor := []byte{lz4Version | lz4FlagBlockIndependence | lz4FlagContentChecksum, 7 << 4}
	frame = append(frame, descriptor...)
	frame = append(frame, byte(xxhash.Checksum32S(descriptor, 0)>>8))
	frame = binary.LittleEndian.AppendUint32(frame, 0)
	frame = binary.LittleEndian.AppendUint32(frame, xxhash.Checksum32S(nil, 0))

	return frame
}
