package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/arloliu/mcapkit/errs"
)

// zstdDecoderPool pools zstd decoders for reuse.
// DecodeAll on a warmed-up decoder does not allocate beyond the output.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}

		return decoder
	},
}

// zstdEncoderPool pools zstd encoders for reuse.
var zstdEncoderPool = sync.Pool{
	New: func() any {
		encoder, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderCRC(false),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
		}

		return encoder
	},
}

// ZstdCompressor implements the "zstd" chunk compression with klauspost/compress.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd codec.
//
// Example:
//
//	codec := NewZstdCompressor()
//	compressed, err := codec.Compress(records)
//	if err != nil {
//		return err
//	}
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}

// Compress compresses data into a single Zstandard frame using a pooled encoder.
func (c ZstdCompressor) Compress(data []byte) ([]byte, error) {
	encoder, _ := zstdEncoderPool.Get().(*zstd.Encoder)
	defer zstdEncoderPool.Put(encoder)

	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2+64)), nil
}

// Decompress decodes Zstandard data using a pooled decoder.
func (c ZstdCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	if len(data) == 0 {
		if err := checkSize(0, uncompressedSize, "zstd"); err != nil {
			return nil, err
		}

		return []byte{}, nil
	}

	decoder, _ := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", errs.ErrCorruptFrame, err)
	}
	if err := checkSize(len(out), uncompressedSize, "zstd"); err != nil {
		return nil, err
	}

	return out, nil
}
