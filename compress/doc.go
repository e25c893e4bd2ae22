// Package compress provides the chunk codecs of the container format.
//
// A chunk names its compression with a short string stored on the wire:
//   - "" (format.CompressionNone): records stored verbatim
//   - "lz4" (format.CompressionLZ4): records stored as an LZ4 frame
//   - "zstd" (format.CompressionZstd): records stored as a Zstandard frame
//
// # Architecture
//
// The package defines three core interfaces:
//
//	type Compressor interface {
//	    Compress(data []byte) ([]byte, error)
//	}
//
//	type Decompressor interface {
//	    Decompress(data []byte, uncompressedSize int) ([]byte, error)
//	}
//
//	type Codec interface {
//	    Compressor
//	    Decompressor
//	}
//
// Every chunk declares its uncompressed size, so decompressors preallocate
// the output and reject data that decodes to any other length.
//
// # LZ4 Frames
//
// Decoding LZ4 is implemented here (DecodeLZ4Frame, DecodeLZ4Block) rather
// than delegated: it validates the frame descriptor, the header checksum,
// optional block and content checksums (xxHash32) and the optional content
// size, and it decodes both stored and compressed blocks. Encoding uses
// github.com/pierrec/lz4/v4, whose frames the decoder reads back.
//
// # Zstandard
//
// Zstandard uses github.com/klauspost/compress/zstd with pooled encoders and
// decoders:
//
//	codec, err := compress.GetCodec(format.CompressionZstd)
//	if err != nil {
//	    return err
//	}
//	compressed, _ := codec.Compress(records)
//	original, err := codec.Decompress(compressed, len(records))
//
// # Thread Safety
//
// All codec implementations are safe for concurrent use.
//
// # Error Handling
//
// Invalid compressed data and size mismatches return errors wrapping
// errs.ErrCorruptFrame. Unknown compression types or names return
// errs.ErrUnsupportedCompression.
package compress
