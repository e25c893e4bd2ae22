package container

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"iter"
	"slices"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
)

// loadedChunk is the single cache slot: the most recently decoded chunk.
type loadedChunk struct {
	offset  uint64
	header  *record.Chunk
	data    []byte
	entries []Entry
}

// Chunk decodes the chunk record at offset and returns its header and
// uncompressed record stream. In strict mode the CRC is verified.
//
// The most recently decoded chunk is cached, so sequential access to the
// same chunk decompresses it once.
func (c *Container) Chunk(offset uint64) (*record.Chunk, []byte, error) {
	lc, err := c.load(offset)
	if err != nil {
		return nil, nil, err
	}

	return lc.header, lc.data, nil
}

// ChunkRecords returns the records inside the chunk at offset. Entry
// offsets are relative to the start of the uncompressed record stream.
func (c *Container) ChunkRecords(offset uint64) ([]Entry, error) {
	lc, err := c.load(offset)
	if err != nil {
		return nil, err
	}
	if lc.entries != nil {
		return lc.entries, nil
	}

	entries := []Entry{}
	err = record.ParseRecords(lc.data, func(off uint64, rec record.Record) error {
		n := format.RecordPrefixSize + binary.LittleEndian.Uint64(lc.data[off+1:])
		entries = append(entries, Entry{Offset: off, Length: n, Record: rec})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chunk at offset %d: %w", offset, err)
	}
	lc.entries = entries

	return entries, nil
}

func (c *Container) load(offset uint64) (*loadedChunk, error) {
	if c.cache != nil && c.cache.offset == offset {
		return c.cache, nil
	}

	rec, _, err := record.ReadAt(c.src, offset)
	if err != nil {
		return nil, errs.NewRecordError(offset, -1, format.OpChunk, err)
	}
	header, ok := rec.(*record.Chunk)
	if !ok {
		return nil, errs.NewRecordError(offset, -1, rec.Opcode(),
			fmt.Errorf("%w: expected Chunk", errs.ErrMalformedRecord))
	}

	data, err := header.Decompress(c.src)
	if err != nil {
		return nil, errs.NewRecordError(offset, -1, format.OpChunk, err)
	}
	if c.cfg.strict {
		if err := header.VerifyCRC(data); err != nil {
			c.logger.Debug("chunk crc check failed", "offset", offset, "error", err)
			return nil, errs.NewRecordError(offset, -1, format.OpChunk, err)
		}
	}

	c.cache = &loadedChunk{offset: offset, header: header, data: data}

	return c.cache, nil
}

// MessageIndexes reads the MessageIndex records of a chunk, in file order.
// Chunks without message indexes return an empty slice.
func (c *Container) MessageIndexes(ci *record.ChunkIndex) ([]*record.MessageIndex, error) {
	offsets := make([]uint64, 0, len(ci.MessageIndexOffsets))
	for _, off := range ci.MessageIndexOffsets {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)

	out := make([]*record.MessageIndex, 0, len(offsets))
	for _, off := range offsets {
		rec, err := c.readIndexed(off, 0, format.OpMessageIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.(*record.MessageIndex))
	}

	return out, nil
}

// ChunkMessages returns the messages of the chunk at offset in stream order.
func (c *Container) ChunkMessages(offset uint64) ([]*record.Message, error) {
	entries, err := c.ChunkRecords(offset)
	if err != nil {
		return nil, err
	}

	var out []*record.Message
	for _, e := range entries {
		if m, ok := e.Record.(*record.Message); ok {
			out = append(out, m)
		}
	}

	return out, nil
}

// MessagesByChannel returns every message of a channel sorted by log time.
// Messages with equal log times keep file order.
func (c *Container) MessagesByChannel(channelID uint16) ([]*record.Message, error) {
	if _, ok := c.channels[channelID]; !ok {
		return nil, fmt.Errorf("%w: channel %d", errs.ErrUnresolvedReference, channelID)
	}

	var out []*record.Message
	err := c.eachMessage(func(ci *record.ChunkIndex) bool {
		if len(ci.MessageIndexOffsets) == 0 {
			return true
		}
		_, ok := ci.MessageIndexOffsets[channelID]

		return ok
	}, func(m *record.Message) bool {
		if m.ChannelID == channelID {
			out = append(out, m)
		}

		return true
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b *record.Message) int { return cmp.Compare(a.LogTime, b.LogTime) })

	return out, nil
}

// Messages yields the messages with start <= LogTime <= end in file order.
// Chunks outside the range are skipped without decompression. Iteration
// stops at the first error, which is yielded with a nil message.
func (c *Container) Messages(start, end uint64) iter.Seq2[*record.Message, error] {
	return func(yield func(*record.Message, error) bool) {
		err := c.eachMessage(func(ci *record.ChunkIndex) bool {
			return ci.Overlaps(start, end)
		}, func(m *record.Message) bool {
			if m.LogTime < start || m.LogTime > end {
				return true
			}

			return yield(m, nil)
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// eachMessage visits top-level and chunked messages in file order.
// wantChunk selects the chunks to decode.
func (c *Container) eachMessage(wantChunk func(*record.ChunkIndex) bool, fn func(*record.Message) bool) error {
	entries, err := c.Records()
	if err != nil {
		return err
	}

	byOffset := make(map[uint64]*record.ChunkIndex, len(c.chunkIndexes))
	for _, ci := range c.chunkIndexes {
		byOffset[ci.ChunkStartOffset] = ci
	}

	for _, e := range entries {
		switch r := e.Record.(type) {
		case *record.Message:
			if !fn(r) {
				return nil
			}
		case *record.Chunk:
			if ci, ok := byOffset[e.Offset]; ok && !wantChunk(ci) {
				continue
			}
			msgs, err := c.ChunkMessages(e.Offset)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if !fn(m) {
					return nil
				}
			}
		}
	}

	return nil
}
