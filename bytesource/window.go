package bytesource

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/internal/options"
)

// DefaultWindowSize is the sliding window size used when none is configured.
const DefaultWindowSize = 64 * 1024

type config struct {
	windowSize int
}

// Option configures a windowed Source.
type Option = options.Option[*config]

// WithWindowSize sets the sliding window size in bytes.
func WithWindowSize(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: window size %d", errs.ErrInvalidOption, n)
		}
		c.windowSize = n

		return nil
	})
}

// Window is a buffered Source over an io.ReaderAt.
//
// It keeps one window of the backing store in memory. Reads inside the
// window, including small backward or forward jumps, are served from memory;
// a read that leaves the window refills it starting at the requested offset.
// Reads larger than the window bypass it.
type Window struct {
	cursor
	w *windowFetcher
}

var _ Source = (*Window)(nil)

// NewReaderAt creates a windowed Source over the first size bytes of r.
// Closing the Window closes r when r implements io.Closer.
func NewReaderAt(r io.ReaderAt, size uint64, opts ...Option) (*Window, error) {
	cfg := &config{windowSize: DefaultWindowSize}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	wf := &windowFetcher{r: r, buf: make([]byte, 0, cfg.windowSize)}
	w := &Window{w: wf}
	w.cursor = cursor{f: wf, size: size}
	if c, ok := r.(io.Closer); ok {
		w.closer = c.Close
	}

	return w, nil
}

// OpenFile opens path as a windowed Source. The file is closed by Close.
func OpenFile(path string, opts ...Option) (*Window, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w, err := NewReaderAt(f, uint64(info.Size()), opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return w, nil
}

// Refills returns how many times the window was reloaded from the backing store.
func (w *Window) Refills() int {
	return w.w.refills
}

type windowFetcher struct {
	r       io.ReaderAt
	buf     []byte
	start   uint64
	refills int
}

func (w *windowFetcher) owned() bool { return false }

func (w *windowFetcher) view(offset, length uint64) ([]byte, error) {
	end := w.start + uint64(len(w.buf))
	if offset >= w.start && offset+length <= end {
		lo := offset - w.start
		return w.buf[lo : lo+length], nil
	}

	if length > uint64(cap(w.buf)) {
		out := make([]byte, length)
		if err := readFull(w.r, out, offset); err != nil {
			return nil, err
		}

		return out, nil
	}

	w.buf = w.buf[:cap(w.buf)]
	n, err := w.r.ReadAt(w.buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		w.buf = w.buf[:0]
		return nil, fmt.Errorf("read at offset %d: %w", offset, err)
	}
	w.buf = w.buf[:n]
	w.start = offset
	w.refills++

	if uint64(n) < length {
		return nil, fmt.Errorf("%w: short read of %d bytes at offset %d", errs.ErrUnexpectedEndOfData, n, offset)
	}

	return w.buf[:length], nil
}

func readFull(r io.ReaderAt, p []byte, offset uint64) error {
	n, err := r.ReadAt(p, int64(offset))
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read of %d bytes at offset %d", errs.ErrUnexpectedEndOfData, n, offset)
	}

	return fmt.Errorf("read at offset %d: %w", offset, err)
}
