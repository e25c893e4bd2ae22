package container

import (
	"errors"
	"fmt"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
)

// errNoSummary reports a well-formed file without a summary section.
// It triggers the linear scan without a warning.
var errNoSummary = errors.New("no summary section")

// readFooter locates and decodes the footer in front of the trailing magic.
func (c *Container) readFooter() (*record.Footer, uint64, error) {
	size := c.src.Size()
	tail := uint64(format.FooterRecordSize + format.MagicSize)
	if size < format.MagicSize+tail {
		return nil, 0, errNoSummary
	}

	footerOffset := size - tail
	magic, err := c.src.BytesAt(size-format.MagicSize, format.MagicSize)
	if err != nil {
		return nil, 0, err
	}
	if [format.MagicSize]byte(magic) != format.Magic {
		return nil, 0, fmt.Errorf("%w: trailing magic % x", errs.ErrInvalidMagic, magic)
	}

	rec, _, err := record.ReadAt(c.src, footerOffset)
	if err != nil {
		return nil, 0, errs.NewRecordError(footerOffset, -1, format.OpFooter, err)
	}
	footer, ok := rec.(*record.Footer)
	if !ok {
		return nil, 0, errs.NewRecordError(footerOffset, -1, rec.Opcode(),
			fmt.Errorf("%w: expected Footer before trailing magic", errs.ErrMalformedRecord))
	}

	return footer, footerOffset, nil
}

// readSummary builds the definitions and indexes from the summary section.
func (c *Container) readSummary() error {
	footer, footerOffset, err := c.readFooter()
	if err != nil {
		return err
	}
	c.footer = footer

	if footer.SummaryStart == 0 {
		return errNoSummary
	}
	if footer.SummaryStart < format.MagicSize || footer.SummaryStart > footerOffset {
		return fmt.Errorf("%w: summary start %d outside file", errs.ErrMalformedRecord, footer.SummaryStart)
	}
	if footer.SummaryOffsetStart != 0 &&
		(footer.SummaryOffsetStart < footer.SummaryStart || footer.SummaryOffsetStart > footerOffset) {
		return fmt.Errorf("%w: summary offset start %d outside summary", errs.ErrMalformedRecord, footer.SummaryOffsetStart)
	}

	if err := c.checkSummaryCRC(footerOffset); err != nil {
		return err
	}

	if footer.SummaryOffsetStart != 0 {
		err = c.readSummaryGroups(footer.SummaryOffsetStart, footerOffset, footer.SummaryStart)
	} else {
		err = c.readSummaryRange(footer.SummaryStart, footerOffset, 0)
	}
	if err != nil {
		return err
	}

	if c.stats == nil {
		return fmt.Errorf("%w: summary has no Statistics record", errs.ErrMalformedRecord)
	}
	c.sortIndexes()

	return c.checkIndexBounds(footer.SummaryStart)
}

func (c *Container) checkSummaryCRC(footerOffset uint64) error {
	if c.footer.SummaryCRC == 0 {
		return nil
	}

	end := footerOffset + format.RecordPrefixSize + 16
	data, err := c.src.BytesAt(c.footer.SummaryStart, end-c.footer.SummaryStart)
	if err != nil {
		return err
	}
	if got := record.CRC32(data); got != c.footer.SummaryCRC {
		return fmt.Errorf("%w: summary crc 0x%08x, stored 0x%08x", errs.ErrCRCMismatch, got, c.footer.SummaryCRC)
	}

	return nil
}

// readSummaryGroups follows the SummaryOffset records in [start, end) and
// reads every group they point at.
func (c *Container) readSummaryGroups(start, end, summaryStart uint64) error {
	var groups []*record.SummaryOffset
	err := c.walk(start, end, func(offset, _ uint64, rec record.Record) error {
		so, ok := rec.(*record.SummaryOffset)
		if !ok {
			return errs.NewRecordError(offset, -1, rec.Opcode(),
				fmt.Errorf("%w: expected SummaryOffset", errs.ErrMalformedRecord))
		}
		groups = append(groups, so)

		return nil
	})
	if err != nil {
		return err
	}

	for _, g := range groups {
		if g.GroupStart < summaryStart || g.GroupStart+g.GroupLength > start || g.GroupStart+g.GroupLength < g.GroupStart {
			return fmt.Errorf("%w: %s group [%d, +%d) outside summary",
				errs.ErrMalformedRecord, g.GroupOpcode, g.GroupStart, g.GroupLength)
		}
		if err := c.readSummaryRange(g.GroupStart, g.GroupStart+g.GroupLength, g.GroupOpcode); err != nil {
			return err
		}
	}

	return nil
}

// readSummaryRange decodes summary records in [start, end). When only is
// non-zero every record must carry that opcode.
func (c *Container) readSummaryRange(start, end uint64, only format.Opcode) error {
	return c.walk(start, end, func(offset, _ uint64, rec record.Record) error {
		if only != 0 && rec.Opcode() != only {
			return errs.NewRecordError(offset, -1, rec.Opcode(),
				fmt.Errorf("%w: record in %s group", errs.ErrMalformedRecord, only))
		}

		switch r := rec.(type) {
		case *record.Schema:
			c.schemas[r.ID] = r
		case *record.Channel:
			c.channels[r.ID] = r
		case *record.ChunkIndex:
			c.chunkIndexes = append(c.chunkIndexes, r)
		case *record.AttachmentIndex:
			c.attachmentIndexes = append(c.attachmentIndexes, r)
		case *record.MetadataIndex:
			c.metadataIndexes = append(c.metadataIndexes, r)
		case *record.Statistics:
			c.stats = r
		}

		return nil
	})
}

// checkIndexBounds rejects indexes that point outside the data section.
func (c *Container) checkIndexBounds(dataLimit uint64) error {
	for _, ci := range c.chunkIndexes {
		if ci.ChunkStartOffset < format.MagicSize || ci.ChunkLength < format.RecordPrefixSize ||
			ci.ChunkStartOffset+ci.ChunkLength > dataLimit || ci.ChunkStartOffset+ci.ChunkLength < ci.ChunkStartOffset {
			return fmt.Errorf("%w: chunk index [%d, +%d) outside data section",
				errs.ErrMalformedRecord, ci.ChunkStartOffset, ci.ChunkLength)
		}
		for ch, off := range ci.MessageIndexOffsets {
			if off >= dataLimit {
				return fmt.Errorf("%w: message index of channel %d at %d outside data section",
					errs.ErrMalformedRecord, ch, off)
			}
		}
	}
	for _, ai := range c.attachmentIndexes {
		if ai.Offset+ai.Length > dataLimit || ai.Offset+ai.Length < ai.Offset {
			return fmt.Errorf("%w: attachment index [%d, +%d) outside data section",
				errs.ErrMalformedRecord, ai.Offset, ai.Length)
		}
	}
	for _, mi := range c.metadataIndexes {
		if mi.Offset+mi.Length > dataLimit || mi.Offset+mi.Length < mi.Offset {
			return fmt.Errorf("%w: metadata index [%d, +%d) outside data section",
				errs.ErrMalformedRecord, mi.Offset, mi.Length)
		}
	}

	return nil
}

// walk decodes the top-level records framed in [start, end).
func (c *Container) walk(start, end uint64, fn func(offset, length uint64, rec record.Record) error) error {
	for index, pos := 0, start; pos < end; index++ {
		rec, n, err := record.ReadAt(c.src, pos)
		if err != nil {
			return errs.NewRecordError(pos, index, 0, err)
		}
		if pos+n > end {
			return errs.NewRecordError(pos, index, rec.Opcode(),
				fmt.Errorf("%w: record ends at %d past %d", errs.ErrMalformedRecord, pos+n, end))
		}
		if err := fn(pos, n, rec); err != nil {
			return err
		}
		pos += n
	}

	return nil
}
