// Package writer produces containers: magic, header, data section, DataEnd,
// summary, footer and the closing magic.
//
// The normal API (WriteSchema, WriteChannel, WriteMessage, WriteAttachment,
// WriteMetadata) groups definitions and messages into compressed chunks.
// The low-level API (WriteChunk, CopyChunk, WriteRaw, DeclareSchema,
// DeclareChannel) lets the cropper and repacker place records and whole
// chunks exactly where they want them while the writer keeps the indexes,
// statistics and summary consistent.
//
// A Writer is not safe for concurrent use.
package writer

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/logging"
	"github.com/arloliu/mcapkit/internal/options"
	"github.com/arloliu/mcapkit/internal/pool"
	"github.com/arloliu/mcapkit/record"
)

// Writer encodes a container to an io.Writer.
type Writer struct {
	cfg    *config
	out    *output
	codec  compress.Codec
	logger *slog.Logger

	started bool
	closed  bool

	defs  definitions
	chunk *chunkBuilder

	chunkIndexes      []*record.ChunkIndex
	attachmentIndexes []*record.AttachmentIndex
	metadataIndexes   []*record.MetadataIndex
	stats             record.Statistics
	hasMessages       bool

	scratch *pool.ByteBuffer
}

// New creates a Writer on w. Nothing is written until the first record.
//
// The Writer never closes w; Close finishes the container only.
func New(w io.Writer, opts ...Option) (*Writer, error) {
	cfg := defaultConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	codec, err := compress.GetCodec(cfg.compression)
	if err != nil {
		return nil, err
	}

	wr := &Writer{
		cfg:     cfg,
		out:     newOutput(w),
		codec:   codec,
		logger:  logging.Default(cfg.logger).With("component", "writer"),
		defs:    newDefinitions(),
		scratch: pool.GetRecordBuffer(),
		stats:   record.Statistics{ChannelMessageCounts: make(map[uint16]uint64)},
	}
	if cfg.chunked {
		wr.chunk = newChunkBuilder()
	}

	return wr, nil
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() uint64 {
	return w.out.n
}

// Statistics returns a snapshot of the statistics accumulated so far.
func (w *Writer) Statistics() record.Statistics {
	s := w.stats
	s.SchemaCount = uint16(len(w.defs.schemas)) //nolint: gosec
	s.ChannelCount = uint32(len(w.defs.channels))
	s.ChannelMessageCounts = make(map[uint16]uint64, len(w.stats.ChannelMessageCounts))
	for id, n := range w.stats.ChannelMessageCounts {
		s.ChannelMessageCounts[id] = n
	}

	return s
}

// WriteHeader writes the leading magic and the Header record.
// It must be the first call; later writes add an empty header when it is missing.
func (w *Writer) WriteHeader(h *record.Header) error {
	if err := w.usable(); err != nil {
		return err
	}
	if w.started {
		return fmt.Errorf("%w: header already written", errs.ErrMalformedRecord)
	}

	w.start()
	w.writeRecord(h)

	return w.out.err
}

// WriteSchema registers a schema and writes it, inside the open chunk when
// chunking is enabled. Registering an identical schema again is a no-op;
// a different schema under a known id is an error.
func (w *Writer) WriteSchema(s *record.Schema) error {
	if err := w.begin(); err != nil {
		return err
	}

	fresh, err := w.defs.addSchema(s)
	if err != nil || !fresh {
		return err
	}
	w.place(s)

	return w.out.err
}

// WriteChannel registers a channel and writes it like WriteSchema. The
// channel's schema, when not 0, must already be registered.
func (w *Writer) WriteChannel(c *record.Channel) error {
	if err := w.begin(); err != nil {
		return err
	}

	fresh, err := w.defs.addChannel(c)
	if err != nil || !fresh {
		return err
	}
	w.place(c)

	return w.out.err
}

// WriteMessage writes a message on a registered channel.
func (w *Writer) WriteMessage(m *record.Message) error {
	if err := w.begin(); err != nil {
		return err
	}
	if !w.defs.hasChannel(m.ChannelID) {
		return fmt.Errorf("%w: message on unknown channel %d", errs.ErrUnresolvedReference, m.ChannelID)
	}

	w.observeMessage(m.ChannelID, m.LogTime)
	if w.chunk == nil {
		w.writeRecord(m)
		return w.out.err
	}

	if w.chunk.messages > 0 && w.cfg.maxDuration > 0 && span(w.chunk.start, m.LogTime) > w.cfg.maxDuration {
		if err := w.flushChunk(); err != nil {
			return err
		}
	}

	w.chunk.addMessage(m)

	if w.chunk.size() >= w.cfg.chunkSize &&
		(w.cfg.minDuration == 0 || w.chunk.end-w.chunk.start >= w.cfg.minDuration) {
		return w.flushChunk()
	}

	return w.out.err
}

// WriteAttachment writes an attachment at the top level. The CRC is
// computed by the writer.
func (w *Writer) WriteAttachment(a *record.Attachment) error {
	if err := w.begin(); err != nil {
		return err
	}

	att := *a
	att.CRC = att.ComputeCRC()
	offset := w.out.n
	n := w.writeRecord(&att)
	w.indexAttachment(&att, offset, n)

	return w.out.err
}

// WriteMetadata writes a metadata record at the top level.
func (w *Writer) WriteMetadata(m *record.Metadata) error {
	if err := w.begin(); err != nil {
		return err
	}

	offset := w.out.n
	n := w.writeRecord(m)
	w.indexMetadata(m, offset, n)

	return w.out.err
}

// Flush closes the open chunk, if any, and writes it with its message indexes.
func (w *Writer) Flush() error {
	if err := w.usable(); err != nil {
		return err
	}

	return w.flushChunk()
}

// Close flushes the open chunk and writes DataEnd, the summary, the footer
// and the closing magic. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return w.out.err
	}
	if err := w.begin(); err != nil {
		return err
	}
	if err := w.flushChunk(); err != nil {
		return err
	}

	w.writeRecord(&record.DataEnd{DataSectionCRC: w.out.crc.Sum32()})
	w.writeSummary()
	_, _ = w.out.Write(format.Magic[:])

	w.closed = true
	if w.chunk != nil {
		w.chunk.release()
	}
	pool.PutRecordBuffer(w.scratch)
	w.scratch = nil

	if w.out.err != nil {
		return w.out.err
	}

	w.logger.Debug("container written",
		"bytes", w.out.n,
		"chunks", w.stats.ChunkCount,
		"messages", w.stats.MessageCount)

	return nil
}

func (w *Writer) usable() error {
	if w.closed {
		return errs.ErrClosed
	}

	return w.out.err
}

// begin checks the writer is usable and writes an empty header when none was written.
func (w *Writer) begin() error {
	if err := w.usable(); err != nil {
		return err
	}
	if !w.started {
		w.start()
		w.writeRecord(&record.Header{})
	}

	return w.out.err
}

func (w *Writer) start() {
	w.started = true
	_, _ = w.out.Write(format.Magic[:])
}

// place writes a definition into the open chunk, or at the top level when unchunked.
func (w *Writer) place(rec record.Record) {
	if w.chunk != nil {
		w.chunk.add(rec)
		return
	}
	w.writeRecord(rec)
}

// writeRecord encodes rec at the top level and returns its framed size.
func (w *Writer) writeRecord(rec record.Record) uint64 {
	w.scratch.B = record.Append(w.scratch.B[:0], rec)
	n, _ := w.out.Write(w.scratch.B)

	return uint64(n) //nolint: gosec
}

func (w *Writer) observeMessage(channelID uint16, logTime uint64) {
	if !w.hasMessages || logTime < w.stats.MessageStartTime {
		w.stats.MessageStartTime = logTime
	}
	if !w.hasMessages || logTime > w.stats.MessageEndTime {
		w.stats.MessageEndTime = logTime
	}
	w.hasMessages = true
	w.stats.MessageCount++
	w.stats.ChannelMessageCounts[channelID]++
}

func (w *Writer) indexAttachment(a *record.Attachment, offset, length uint64) {
	w.attachmentIndexes = append(w.attachmentIndexes, &record.AttachmentIndex{
		Offset:     offset,
		Length:     length,
		LogTime:    a.LogTime,
		CreateTime: a.CreateTime,
		DataSize:   uint64(len(a.Data)),
		Name:       a.Name,
		MediaType:  a.MediaType,
	})
	w.stats.AttachmentCount++
}

func (w *Writer) indexMetadata(m *record.Metadata, offset, length uint64) {
	w.metadataIndexes = append(w.metadataIndexes, &record.MetadataIndex{
		Offset: offset,
		Length: length,
		Name:   m.Name,
	})
	w.stats.MetadataCount++
}

// span returns to-from, or 0 when to precedes from.
func span(from, to uint64) uint64 {
	if to < from {
		return 0
	}

	return to - from
}
