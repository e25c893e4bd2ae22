package container

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
)

// scanner accumulates indexes and statistics during the linear scan.
type scanner struct {
	c         *Container
	lastChunk *record.ChunkIndex
	stats     *record.Statistics
	seen      bool
}

// scan walks the data section from the header to DataEnd, or to the end of
// the file for truncated logs, and derives every index from the records.
func (c *Container) scan() error {
	s := &scanner{
		c:     c,
		stats: &record.Statistics{ChannelMessageCounts: make(map[uint16]uint64)},
	}

	entries, err := c.scanEntries(s.visit)
	if err != nil {
		return err
	}
	c.entries = entries

	s.stats.SchemaCount = uint16(len(c.schemas)) //nolint: gosec
	s.stats.ChannelCount = uint32(len(c.channels))
	s.stats.ChunkCount = uint32(len(c.chunkIndexes))
	s.stats.AttachmentCount = uint32(len(c.attachmentIndexes))
	s.stats.MetadataCount = uint32(len(c.metadataIndexes))
	c.stats = s.stats
	c.sortIndexes()

	return nil
}

// scanEntries lists the top-level records of the data section. visit, when
// not nil, sees each record as it is read.
//
// A scan that runs into the end of the file before DataEnd stops there in
// lenient mode and fails in strict mode.
func (c *Container) scanEntries(visit func(e Entry) error) ([]Entry, error) {
	var entries []Entry

	for index, pos := 0, uint64(format.MagicSize); ; index++ {
		if c.truncatedAt(pos) {
			c.truncated = true
			if c.cfg.strict {
				return nil, fmt.Errorf("%w: data section ends at %d without DataEnd", errs.ErrUnexpectedEndOfData, pos)
			}

			return entries, nil
		}

		rec, n, err := record.ReadAt(c.src, pos)
		if err != nil {
			return nil, errs.NewRecordError(pos, index, 0, err)
		}

		e := Entry{Offset: pos, Length: n, Record: rec}
		if visit != nil {
			if err := visit(e); err != nil {
				var re *errs.RecordError
				if errors.As(err, &re) {
					return nil, err
				}

				return nil, errs.NewRecordError(pos, index, rec.Opcode(), err)
			}
		}

		switch rec.Opcode() {
		case format.OpDataEnd:
			entries = append(entries, e)
			c.dataEndOffset = pos

			return entries, nil
		case format.OpFooter:
			// A footer before DataEnd ends a file written without one.
			return entries, nil
		}

		entries = append(entries, e)
		pos += n
	}
}

// truncatedAt reports whether the record framed at pos runs past the end
// of the file, which is how an interrupted recording ends.
func (c *Container) truncatedAt(pos uint64) bool {
	size := c.src.Size()
	if pos+format.RecordPrefixSize > size {
		return true
	}

	_, length, err := record.ReadPrefix(c.src, pos)
	if err != nil {
		return true
	}

	return length > size-pos-format.RecordPrefixSize
}

func (s *scanner) visit(e Entry) error {
	c := s.c

	if e.Record.Opcode() != format.OpMessageIndex {
		s.lastChunk = nil
	}

	switch r := e.Record.(type) {
	case *record.Header:
		if e.Offset != format.MagicSize {
			return fmt.Errorf("%w: second Header record", errs.ErrMalformedRecord)
		}
	case *record.Schema:
		c.schemas[r.ID] = r
	case *record.Channel:
		return c.defineChannel(r)
	case *record.Message:
		return s.message(r)
	case *record.Chunk:
		return s.chunk(e, r)
	case *record.MessageIndex:
		if s.lastChunk != nil {
			s.lastChunk.MessageIndexOffsets[r.ChannelID] = e.Offset
			s.lastChunk.MessageIndexLength += e.Length
		}
	case *record.Attachment:
		if c.cfg.strict {
			if err := r.VerifyCRC(); err != nil {
				c.logger.Debug("attachment crc check failed", "offset", e.Offset, "error", err)
				return err
			}
		}
		c.attachmentIndexes = append(c.attachmentIndexes, &record.AttachmentIndex{
			Offset:     e.Offset,
			Length:     e.Length,
			LogTime:    r.LogTime,
			CreateTime: r.CreateTime,
			DataSize:   uint64(len(r.Data)),
			Name:       r.Name,
			MediaType:  r.MediaType,
		})
	case *record.Metadata:
		c.metadataIndexes = append(c.metadataIndexes, &record.MetadataIndex{
			Offset: e.Offset,
			Length: e.Length,
			Name:   r.Name,
		})
	case *record.DataEnd:
		if c.cfg.strict {
			if err := c.checkDataCRC(e.Offset, r); err != nil {
				c.logger.Debug("data section crc check failed", "error", err)
				return err
			}
		}
	}

	return nil
}

func (s *scanner) message(m *record.Message) error {
	if _, ok := s.c.channels[m.ChannelID]; !ok {
		return fmt.Errorf("%w: message references channel %d", errs.ErrUnresolvedReference, m.ChannelID)
	}

	if !s.seen || m.LogTime < s.stats.MessageStartTime {
		s.stats.MessageStartTime = m.LogTime
	}
	if !s.seen || m.LogTime > s.stats.MessageEndTime {
		s.stats.MessageEndTime = m.LogTime
	}
	s.seen = true
	s.stats.MessageCount++
	s.stats.ChannelMessageCounts[m.ChannelID]++

	return nil
}

func (s *scanner) chunk(e Entry, chunk *record.Chunk) error {
	c := s.c

	data, err := chunk.Decompress(c.src)
	if err != nil {
		return err
	}
	if c.cfg.strict {
		if err := chunk.VerifyCRC(data); err != nil {
			c.logger.Debug("chunk crc check failed", "offset", e.Offset, "error", err)
			return err
		}
	}

	err = record.ParseRecords(data, func(_ uint64, rec record.Record) error {
		switch r := rec.(type) {
		case *record.Schema:
			c.schemas[r.ID] = r
		case *record.Channel:
			return c.defineChannel(r)
		case *record.Message:
			return s.message(r)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("chunk at offset %d: %w", e.Offset, err)
	}

	ci := &record.ChunkIndex{
		MessageStartTime:    chunk.MessageStartTime,
		MessageEndTime:      chunk.MessageEndTime,
		ChunkStartOffset:    e.Offset,
		ChunkLength:         e.Length,
		MessageIndexOffsets: make(map[uint16]uint64),
		Compression:         chunk.Compression,
		CompressedSize:      chunk.CompressedSize(),
		UncompressedSize:    chunk.UncompressedSize,
	}
	c.chunkIndexes = append(c.chunkIndexes, ci)
	s.lastChunk = ci

	return nil
}

func (c *Container) defineChannel(ch *record.Channel) error {
	if ch.SchemaID != 0 {
		if _, ok := c.schemas[ch.SchemaID]; !ok {
			return fmt.Errorf("%w: channel %d references schema %d", errs.ErrUnresolvedReference, ch.ID, ch.SchemaID)
		}
	}
	c.channels[ch.ID] = ch

	return nil
}

func (c *Container) checkDataCRC(dataEndOffset uint64, d *record.DataEnd) error {
	if d.DataSectionCRC == 0 {
		return nil
	}

	data, err := c.src.BytesAt(0, dataEndOffset)
	if err != nil {
		return err
	}
	if got := record.CRC32(data); got != d.DataSectionCRC {
		return fmt.Errorf("%w: data section crc 0x%08x, stored 0x%08x", errs.ErrCRCMismatch, got, d.DataSectionCRC)
	}

	return nil
}

func (c *Container) sortIndexes() {
	slices.SortStableFunc(c.chunkIndexes, func(a, b *record.ChunkIndex) int {
		return cmp.Compare(a.ChunkStartOffset, b.ChunkStartOffset)
	})
	slices.SortStableFunc(c.attachmentIndexes, func(a, b *record.AttachmentIndex) int {
		return cmp.Compare(a.Offset, b.Offset)
	})
	slices.SortStableFunc(c.metadataIndexes, func(a, b *record.MetadataIndex) int {
		return cmp.Compare(a.Offset, b.Offset)
	})
}

// Records returns the top-level records of the data section in file order,
// from the Header through DataEnd. Chunks are lazy *record.Chunk values.
//
// On the fast path the data section is scanned on first use, without
// decompressing chunks.
func (c *Container) Records() ([]Entry, error) {
	if c.entries != nil {
		return c.entries, nil
	}

	entries, err := c.scanEntries(nil)
	if err != nil {
		return nil, err
	}
	c.entries = entries

	return entries, nil
}

// DataEndOffset returns the offset of the DataEnd record, or 0 when it is not known.
func (c *Container) DataEndOffset() (uint64, error) {
	if _, err := c.Records(); err != nil {
		return 0, err
	}

	return c.dataEndOffset, nil
}
