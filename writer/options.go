package writer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/options"
)

// DefaultChunkSize is the uncompressed size at which an open chunk is closed.
const DefaultChunkSize = 4 * 1024 * 1024

type config struct {
	compression format.CompressionType
	chunkSize   int
	chunked     bool
	minDuration uint64
	maxDuration uint64
	logger      *slog.Logger
}

func defaultConfig() *config {
	return &config{
		compression: format.CompressionZstd,
		chunkSize:   DefaultChunkSize,
		chunked:     true,
	}
}

// Option configures a Writer.
type Option = options.Option[*config]

// WithCompression sets the codec applied to chunks written by the writer.
func WithCompression(ct format.CompressionType) Option {
	return options.New(func(c *config) error {
		if _, err := compress.CreateCodec(ct, "writer"); err != nil {
			return err
		}
		c.compression = ct

		return nil
	})
}

// WithChunkSize sets the uncompressed chunk size threshold in bytes.
func WithChunkSize(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: chunk size %d", errs.ErrInvalidOption, n)
		}
		c.chunkSize = n

		return nil
	})
}

// WithChunked selects whether messages and definitions are grouped into
// chunks. Unchunked output writes every record at the top level.
func WithChunked(chunked bool) Option {
	return options.NoError(func(c *config) {
		c.chunked = chunked
	})
}

// WithChunkDuration bounds the log time span of a chunk.
//
// A chunk that reached the size threshold is kept open until it spans at
// least minDur, and is closed before it would span more than maxDur.
// Zero disables either bound.
func WithChunkDuration(minDur, maxDur time.Duration) Option {
	return options.New(func(c *config) error {
		if minDur < 0 || maxDur < 0 || (maxDur > 0 && minDur > maxDur) {
			return fmt.Errorf("%w: chunk duration [%s, %s]", errs.ErrInvalidOption, minDur, maxDur)
		}
		c.minDuration = uint64(minDur)
		c.maxDuration = uint64(maxDur)

		return nil
	})
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(c *config) {
		c.logger = logger
	})
}
