package writer

import (
	"hash"
	"io"

	"github.com/arloliu/mcapkit/record"
)

// output counts and checksums every byte written to the destination.
// The first write error sticks.
type output struct {
	w   io.Writer
	n   uint64
	crc hash.Hash32
	err error
}

func newOutput(w io.Writer) *output {
	return &output{w: w, crc: record.NewCRC32()}
}

func (o *output) Write(p []byte) (int, error) {
	if o.err != nil {
		return 0, o.err
	}

	n, err := o.w.Write(p)
	_, _ = o.crc.Write(p[:n])
	o.n += uint64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	o.err = err

	return n, err
}
