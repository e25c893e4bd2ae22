// Package mcapkit reads, crops and repacks MCAP-style robotics log
// containers.
//
// A container is a magic-framed stream of typed records: schemas, channels
// and time-stamped messages, grouped into compressed chunks, followed by an
// optional summary with indexes and statistics.
//
// # Core Features
//
//   - Summary fast path with fallback to a full linear scan
//   - LZ4 frame and Zstandard chunk compression
//   - Byte-exact cropping of a log time range
//   - Re-chunking and recompression with parallel chunk decoding
//   - Time-ordered message seeking across overlapping chunks
//   - OMG IDL schema loading and CDR payload decoding
//
// # Basic Usage
//
// Cropping a file to a time range:
//
//	c, _ := mcapkit.OpenFile("drive.mcap")
//	defer c.Close()
//
//	out, _ := mcapkit.Crop(c, start, end, format.CompressionZstd)
//	_ = os.WriteFile("drive-cropped.mcap", out, 0o644)
//
// Iterating messages in log time order:
//
//	m, _ := messages.NewManager(c, 0)
//	cur, _ := m.Seek(start)
//	for cur.Next() {
//	    msg := cur.Message()
//	    fmt.Println(msg.ChannelID, msg.LogTime)
//	}
//
// # Package Structure
//
// This package provides convenient top-level wrappers around the container,
// crop, repack, messages and schema packages, covering the most common use
// cases. For streaming output, progress reporting and fine-grained options,
// use those packages directly.
package mcapkit

import (
	"bytes"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/crop"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/messages"
	"github.com/arloliu/mcapkit/repack"
	"github.com/arloliu/mcapkit/schema"
)

// Open reads the container held by src.
//
// The summary section is used when present and valid; otherwise the data
// section is scanned. The container does not take ownership of src.
//
// Parameters:
//   - src: the random access source of the container bytes
//   - opts: optional reader settings (see container.Option)
//
// Returns:
//   - *container.Container: the opened container
//   - error: errs.ErrInvalidMagic, errs.ErrMalformedRecord or a source error
func Open(src bytesource.Source, opts ...container.Option) (*container.Container, error) {
	return container.Open(src, opts...)
}

// OpenFile opens the container stored at path. Close the returned container
// to release the file.
func OpenFile(path string, opts ...container.Option) (*container.Container, error) {
	return container.OpenFile(path, opts...)
}

// Crop returns a new container holding the records of c whose log time lies
// in [start, end].
//
// Chunks entirely inside the range are copied unchanged, so cropping
// [0, math.MaxUint64] of a file written by this module returns its exact
// bytes. Files from other writers keep their records, not their layout.
//
// Parameters:
//   - c: the source container
//   - start, end: the inclusive log time range in nanoseconds
//   - compression: the codec of chunks that must be rewritten; the zero
//     value keeps the codec of each source chunk
//
// Returns:
//   - []byte: the cropped container
//   - error: errs.ErrInvalidOption when start is after end, or any read,
//     decode or unresolved reference error
func Crop(c *container.Container, start, end uint64, compression format.CompressionType) ([]byte, error) {
	var opts []crop.Option
	if compression != 0 {
		opts = append(opts, crop.WithCompression(compression))
	}

	var buf bytes.Buffer
	if _, err := crop.Crop(c, &buf, start, end, opts...); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Repack returns c re-chunked with the default chunk size and durations,
// and every chunk compressed with compression.
//
// Message content, schemas, channels, attachments and metadata are
// preserved; chunk boundaries, indexes and the summary are regenerated.
// Stored CRCs are verified while reading.
func Repack(c *container.Container, compression format.CompressionType) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := repack.Repack(c, &buf, repack.WithCompression(compression)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// LoadSchema parses the IDL text of a Schema record.
//
// Parameters:
//   - name: the schema name, selecting the root struct
//   - id: the schema id
//   - data: the IDL source
//
// Returns:
//   - *schema.Descriptor: the field tables of every declared struct
//   - error: an *errs.SyntaxError wrapping errs.ErrSchemaParse or
//     errs.ErrUnsupportedConstruct
func LoadSchema(name string, id int, data []byte) (*schema.Descriptor, error) {
	return schema.Load(name, id, data)
}

// Round quantizes value to the nearest multiple of step, ties toward the
// larger multiple. value is returned unchanged when step <= 0.
func Round(value, step int64) int64 {
	return messages.Round(value, step)
}
