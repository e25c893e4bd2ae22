package compress

import (
	"fmt"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
)

// Compressor compresses the uncompressed records of a chunk.
type Compressor interface {
	// Compress compresses data and returns a newly allocated result.
	//
	// The input slice is not modified. Implementations may reuse internal
	// encoder state between calls.
	Compress(data []byte) ([]byte, error)
}

// Decompressor restores the uncompressed records of a chunk.
//
// Every chunk records its uncompressed length, so the expected size is always
// known up front. Implementations preallocate the output with it and must fail
// when the decoded length differs.
//
// Example:
//
//	codec, _ := compress.GetCodec(format.CompressionZstd)
//	records, err := codec.Decompress(chunkRecords, int(chunk.UncompressedSize))
//	if err != nil {
//	    return fmt.Errorf("decompress chunk: %w", err)
//	}
//
// Thread Safety: the built-in decompressors are safe for concurrent use.
type Decompressor interface {
	// Decompress decodes data, which must decode to exactly uncompressedSize bytes.
	//
	// Error conditions:
	//   - errs.ErrCorruptFrame when the compressed data is invalid
	//   - errs.ErrCorruptFrame when the decoded size differs from uncompressedSize
	Decompress(data []byte, uncompressedSize int) ([]byte, error)
}

// Codec combines both compression and decompression capabilities.
type Codec interface {
	Compressor
	Decompressor
}

// CreateCodec is a factory function that creates a Codec based on the specified compression type.
//
// Parameters:
//   - compressionType: Type of compression (None, LZ4 or Zstd)
//   - target: Description of target usage (for error messages)
//
// Returns:
//   - Codec: Codec instance for the specified type
//   - error: errs.ErrUnsupportedCompression for any other type
func CreateCodec(compressionType format.CompressionType, target string) (Codec, error) {
	switch compressionType {
	case format.CompressionNone:
		return NewNoOpCompressor(), nil
	case format.CompressionLZ4:
		return NewLZ4Compressor(), nil
	case format.CompressionZstd:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: invalid %s compression: %s", errs.ErrUnsupportedCompression, target, compressionType)
	}
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone: NewNoOpCompressor(),
	format.CompressionLZ4:  NewLZ4Compressor(),
	format.CompressionZstd: NewZstdCompressor(),
}

// GetCodec retrieves a built-in Codec for the specified compression type.
func GetCodec(compressionType format.CompressionType) (Codec, error) {
	if codec, ok := builtinCodecs[compressionType]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedCompression, compressionType)
}

// GetCodecByName retrieves a built-in Codec for a wire compression name such as "zstd".
func GetCodecByName(name string) (Codec, format.CompressionType, error) {
	ct, ok := format.ParseCompression(name)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", errs.ErrUnsupportedCompression, name)
	}
	codec, err := GetCodec(ct)
	if err != nil {
		return nil, 0, err
	}

	return codec, ct, nil
}

func checkSize(got, want int, name string) error {
	if got != want {
		return fmt.Errorf("%w: %s decoded %d bytes, expected %d", errs.ErrCorruptFrame, name, got, want)
	}

	return nil
}
