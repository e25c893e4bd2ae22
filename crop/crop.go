// Package crop extracts a log time range from a container into a new,
// fully indexed container.
//
// Chunks entirely inside the range are copied byte for byte, chunks
// entirely outside are dropped, and chunks straddling a bound are
// decompressed, filtered and recompressed. Cropping the full range of a
// file produced by package writer reproduces it exactly.
package crop

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/logging"
	"github.com/arloliu/mcapkit/internal/options"
	"github.com/arloliu/mcapkit/record"
	"github.com/arloliu/mcapkit/writer"
)

type config struct {
	compression format.CompressionType
	logger      *slog.Logger
}

// Option configures Crop.
type Option = options.Option[*config]

// WithCompression sets the codec of rewritten chunks. By default each
// rewritten chunk keeps the compression of its source chunk.
func WithCompression(ct format.CompressionType) Option {
	return options.New(func(c *config) error {
		if _, err := compress.CreateCodec(ct, "crop"); err != nil {
			return err
		}
		c.compression = ct

		return nil
	})
}

// WithLogger sets the logger for the completion event.
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(c *config) {
		c.logger = logger
	})
}

// Result counts what a crop kept and dropped.
type Result struct {
	Messages        uint64
	CopiedChunks    int
	RewrittenChunks int
	DroppedChunks   int
	Attachments     int
	Metadata        int
}

// Crop writes to w a container holding the records of c whose log time lies
// in [start, end]. Use math.MaxUint64 as end for an unbounded range.
//
// Schema and Channel records are kept, and any definition a kept message
// needs is emitted before it. Attachments are kept when their log time is in
// range; Metadata records have no time and are always kept. Indexes,
// statistics and the summary are regenerated.
//
// Cropping [0, math.MaxUint64] reproduces c byte for byte only when c was
// written by package writer. Containers from other writers keep every
// record, but their summary, padding and index layout are rewritten into
// this package's form.
func Crop(c *container.Container, w io.Writer, start, end uint64, opts ...Option) (*Result, error) {
	cfg := &config{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("%w: start %d after end %d", errs.ErrInvalidOption, start, end)
	}
	logger := logging.Default(cfg.logger).With("component", "crop")

	wr, err := writer.New(w, writer.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}

	cr := &cropper{
		c:        c,
		w:        wr,
		cfg:      cfg,
		start:    start,
		end:      end,
		schemas:  make(map[uint16]bool),
		channels: make(map[uint16]bool),
		chunks:   make(map[uint64]*record.ChunkIndex, len(c.ChunkIndexes())),
	}
	for _, ci := range c.ChunkIndexes() {
		cr.chunks[ci.ChunkStartOffset] = ci
	}

	entries, err := c.Records()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := cr.entry(e); err != nil {
			return nil, errs.NewRecordError(e.Offset, -1, e.Record.Opcode(), err)
		}
	}

	if err := wr.Close(); err != nil {
		return nil, err
	}

	logger.Info("crop finished",
		"start", start,
		"end", end,
		"messages", cr.res.Messages,
		"copied_chunks", cr.res.CopiedChunks,
		"rewritten_chunks", cr.res.RewrittenChunks,
		"dropped_chunks", cr.res.DroppedChunks)

	return &cr.res, nil
}

type cropper struct {
	c     *container.Container
	w     *writer.Writer
	cfg   *config
	start uint64
	end   uint64

	// schemas and channels hold the definitions already visible in the output.
	schemas  map[uint16]bool
	channels map[uint16]bool
	chunks   map[uint64]*record.ChunkIndex

	res Result
}

func (cr *cropper) inRange(ts uint64) bool {
	return cr.start <= ts && ts <= cr.end
}

func (cr *cropper) entry(e container.Entry) error {
	switch r := e.Record.(type) {
	case *record.Header:
		return cr.copyRaw(e)
	case *record.Schema:
		if err := cr.copyRaw(e); err != nil {
			return err
		}
		cr.schemas[r.ID] = true
	case *record.Channel:
		if err := cr.ensureSchema(r.SchemaID); err != nil {
			return err
		}
		if err := cr.copyRaw(e); err != nil {
			return err
		}
		cr.channels[r.ID] = true
	case *record.Message:
		if !cr.inRange(r.LogTime) {
			return nil
		}
		if err := cr.ensureChannel(r.ChannelID); err != nil {
			return err
		}
		cr.res.Messages++

		return cr.copyRaw(e)
	case *record.Chunk:
		return cr.chunk(e, r)
	case *record.Attachment:
		if !cr.inRange(r.LogTime) {
			return nil
		}
		cr.res.Attachments++

		return cr.copyRaw(e)
	case *record.Metadata:
		cr.res.Metadata++
		return cr.copyRaw(e)
	case *record.Unknown:
		return cr.copyRaw(e)
	}

	// MessageIndex, index, statistics, summary and DataEnd records are regenerated.
	return nil
}

func (cr *cropper) copyRaw(e container.Entry) error {
	raw, err := cr.c.RawBytes(e)
	if err != nil {
		return err
	}

	return cr.w.WriteRaw(raw, e.Record)
}

// ensureSchema emits a schema at the top level unless the output already has it.
func (cr *cropper) ensureSchema(id uint16) error {
	if id == 0 || cr.schemas[id] {
		return nil
	}

	s, ok := cr.c.Schema(id)
	if !ok {
		return fmt.Errorf("%w: schema %d", errs.ErrUnresolvedReference, id)
	}
	if err := cr.w.WriteRaw(record.Encode(s), s); err != nil {
		return err
	}
	cr.schemas[id] = true

	return nil
}

// ensureChannel emits a channel, and its schema, at the top level unless the
// output already has it.
func (cr *cropper) ensureChannel(id uint16) error {
	if cr.channels[id] {
		return nil
	}

	ch, ok := cr.c.Channel(id)
	if !ok {
		return fmt.Errorf("%w: channel %d", errs.ErrUnresolvedReference, id)
	}
	if err := cr.ensureSchema(ch.SchemaID); err != nil {
		return err
	}
	if err := cr.w.WriteRaw(record.Encode(ch), ch); err != nil {
		return err
	}
	cr.channels[id] = true

	return nil
}
