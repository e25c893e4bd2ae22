package repack

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/options"
	"github.com/arloliu/mcapkit/writer"
)

const (
	// DefaultChunkMin is the default minimum log time span of an output chunk.
	DefaultChunkMin = 50 * time.Millisecond
	// DefaultChunkMax is the default maximum log time span of an output chunk.
	DefaultChunkMax = 500 * time.Millisecond
)

type config struct {
	compression format.CompressionType
	chunkSize   int
	chunkMin    time.Duration
	chunkMax    time.Duration
	concurrency int
	verify      bool
	logger      *slog.Logger
	progress    func(done, total int)
}

func defaultConfig() *config {
	return &config{
		compression: format.CompressionZstd,
		chunkSize:   writer.DefaultChunkSize,
		chunkMin:    DefaultChunkMin,
		chunkMax:    DefaultChunkMax,
		concurrency: runtime.GOMAXPROCS(0),
		verify:      true,
	}
}

// Option configures Repack.
type Option = options.Option[*config]

// WithCompression sets the codec of the output chunks. The default is Zstd.
func WithCompression(ct format.CompressionType) Option {
	return options.New(func(c *config) error {
		if _, err := compress.CreateCodec(ct, "repack"); err != nil {
			return err
		}
		c.compression = ct

		return nil
	})
}

// WithChunkSize sets the uncompressed size threshold of output chunks.
func WithChunkSize(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: chunk size %d", errs.ErrInvalidOption, n)
		}
		c.chunkSize = n

		return nil
	})
}

// WithChunkDuration bounds the log time span of output chunks; see
// writer.WithChunkDuration. Zero disables a bound.
func WithChunkDuration(minDur, maxDur time.Duration) Option {
	return options.New(func(c *config) error {
		if minDur < 0 || maxDur < 0 || (maxDur > 0 && minDur > maxDur) {
			return fmt.Errorf("%w: chunk duration [%s, %s]", errs.ErrInvalidOption, minDur, maxDur)
		}
		c.chunkMin = minDur
		c.chunkMax = maxDur

		return nil
	})
}

// WithConcurrency sets how many source chunks are decoded at once.
func WithConcurrency(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: concurrency %d", errs.ErrInvalidOption, n)
		}
		c.concurrency = n

		return nil
	})
}

// WithVerifyCRC selects whether source chunk and attachment CRCs are
// checked before rewriting. It is on by default.
func WithVerifyCRC(verify bool) Option {
	return options.NoError(func(c *config) {
		c.verify = verify
	})
}

// WithLogger sets the logger for the completion event.
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(c *config) {
		c.logger = logger
	})
}

// WithProgress registers fn, called after each source chunk is rewritten
// with the number of chunks done and the total.
func WithProgress(fn func(done, total int)) Option {
	return options.NoError(func(c *config) {
		c.progress = fn
	})
}
