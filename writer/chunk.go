package writer

import (
	"fmt"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/pool"
	"github.com/arloliu/mcapkit/record"
)

// chunkBuilder stages the uncompressed records of the open chunk.
type chunkBuilder struct {
	buf      *pool.ByteBuffer
	indexes  map[uint16]*record.MessageIndex
	start    uint64
	end      uint64
	messages int
}

func newChunkBuilder() *chunkBuilder {
	return &chunkBuilder{
		buf:     pool.GetChunkBuffer(),
		indexes: make(map[uint16]*record.MessageIndex),
	}
}

func (cb *chunkBuilder) size() int {
	return cb.buf.Len()
}

func (cb *chunkBuilder) add(rec record.Record) {
	cb.buf.B = record.Append(cb.buf.B, rec)
}

func (cb *chunkBuilder) addMessage(m *record.Message) {
	offset := uint64(cb.buf.Len())
	cb.add(m)

	mi, ok := cb.indexes[m.ChannelID]
	if !ok {
		mi = &record.MessageIndex{ChannelID: m.ChannelID}
		cb.indexes[m.ChannelID] = mi
	}
	mi.Records = append(mi.Records, record.MessageIndexEntry{Timestamp: m.LogTime, Offset: offset})

	if cb.messages == 0 || m.LogTime < cb.start {
		cb.start = m.LogTime
	}
	if cb.messages == 0 || m.LogTime > cb.end {
		cb.end = m.LogTime
	}
	cb.messages++
}

func (cb *chunkBuilder) reset() {
	cb.buf.Reset()
	clear(cb.indexes)
	cb.start, cb.end, cb.messages = 0, 0, 0
}

func (cb *chunkBuilder) release() {
	pool.PutChunkBuffer(cb.buf)
	cb.buf = nil
}

// flushChunk writes the open chunk, if it holds any record.
func (w *Writer) flushChunk() error {
	if w.chunk == nil || w.chunk.size() == 0 {
		return w.out.err
	}

	err := w.emitBuilt(w.chunk, w.codec, w.cfg.compression)
	w.chunk.reset()

	return err
}

// emitBuilt compresses the staged records of cb and writes the chunk.
func (w *Writer) emitBuilt(cb *chunkBuilder, codec compress.Compressor, ct format.CompressionType) error {
	uncompressed := cb.buf.Bytes()
	compressed, err := codec.Compress(uncompressed)
	if err != nil {
		return fmt.Errorf("compress chunk: %w", err)
	}

	c := &record.Chunk{
		MessageStartTime: cb.start,
		MessageEndTime:   cb.end,
		UncompressedSize: uint64(len(uncompressed)),
		UncompressedCRC:  record.CRC32(uncompressed),
		Compression:      ct.WireName(),
		Records:          compressed,
	}

	raw := record.Encode(c)
	w.emitChunk(raw, c, record.SortedIndexes(cb.indexes))

	return w.out.err
}

// emitChunk writes a framed chunk followed by its non-empty message indexes
// and records the chunk index.
func (w *Writer) emitChunk(raw []byte, c *record.Chunk, indexes []*record.MessageIndex) {
	ci := &record.ChunkIndex{
		MessageStartTime:    c.MessageStartTime,
		MessageEndTime:      c.MessageEndTime,
		ChunkStartOffset:    w.out.n,
		ChunkLength:         uint64(len(raw)),
		MessageIndexOffsets: make(map[uint16]uint64, len(indexes)),
		Compression:         c.Compression,
		CompressedSize:      c.CompressedSize(),
		UncompressedSize:    c.UncompressedSize,
	}
	_, _ = w.out.Write(raw)

	indexStart := w.out.n
	for _, mi := range indexes {
		if len(mi.Records) == 0 {
			continue
		}
		ci.MessageIndexOffsets[mi.ChannelID] = w.out.n
		w.writeRecord(mi)
	}
	ci.MessageIndexLength = w.out.n - indexStart

	w.chunkIndexes = append(w.chunkIndexes, ci)
	w.stats.ChunkCount++
}

// WriteChunk closes the open chunk and writes exactly one chunk holding
// records, compressed with ct. Records may be schemas, channels and
// messages; definitions are registered and messages counted.
func (w *Writer) WriteChunk(records []record.Record, ct format.CompressionType) error {
	if err := w.begin(); err != nil {
		return err
	}
	if err := w.flushChunk(); err != nil {
		return err
	}

	codec, err := compress.GetCodec(ct)
	if err != nil {
		return err
	}

	cb := newChunkBuilder()
	defer cb.release()

	for _, rec := range records {
		switch r := rec.(type) {
		case *record.Schema:
			if _, err := w.defs.addSchema(r); err != nil {
				return err
			}
			cb.add(r)
		case *record.Channel:
			if _, err := w.defs.addChannel(r); err != nil {
				return err
			}
			cb.add(r)
		case *record.Message:
			if !w.defs.hasChannel(r.ChannelID) {
				return fmt.Errorf("%w: message on unknown channel %d", errs.ErrUnresolvedReference, r.ChannelID)
			}
			w.observeMessage(r.ChannelID, r.LogTime)
			cb.addMessage(r)
		default:
			return fmt.Errorf("%w: %s record inside a chunk", errs.ErrMalformedRecord, rec.Opcode())
		}
	}
	if cb.size() == 0 {
		return nil
	}

	return w.emitBuilt(cb, codec, ct)
}

// CopyChunk closes the open chunk and writes raw, an already framed chunk
// record, followed by indexes re-encoded as MessageIndex records.
//
// header describes raw; indexes must list the chunk's messages. Definitions
// carried inside raw are registered with DeclareSchema and DeclareChannel.
func (w *Writer) CopyChunk(raw []byte, header *record.Chunk, indexes []*record.MessageIndex) error {
	if err := w.begin(); err != nil {
		return err
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	if len(raw) < format.RecordPrefixSize || format.Opcode(raw[0]) != format.OpChunk {
		return fmt.Errorf("%w: raw bytes are not a chunk record", errs.ErrMalformedRecord)
	}

	for _, mi := range indexes {
		if len(mi.Records) > 0 && !w.defs.hasChannel(mi.ChannelID) {
			return fmt.Errorf("%w: copied chunk uses unknown channel %d", errs.ErrUnresolvedReference, mi.ChannelID)
		}
	}
	for _, mi := range indexes {
		for _, e := range mi.Records {
			w.observeMessage(mi.ChannelID, e.Timestamp)
		}
	}
	w.emitChunk(raw, header, indexes)

	return w.out.err
}
