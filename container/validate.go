package container

import (
	"errors"
	"fmt"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
)

// Validate checks every stored CRC regardless of the strict setting: the
// data section CRC, the summary CRC, each chunk CRC and each attachment
// CRC, and that every chunk index bounds a Chunk record. All failures are
// joined into the returned error.
func (c *Container) Validate() error {
	entries, err := c.Records()
	if err != nil {
		return err
	}

	var failures []error
	for _, e := range entries {
		switch r := e.Record.(type) {
		case *record.Chunk:
			data, err := r.Decompress(c.src)
			if err == nil {
				err = r.VerifyCRC(data)
			}
			if err != nil {
				failures = append(failures, errs.NewRecordError(e.Offset, -1, format.OpChunk, err))
			}
		case *record.Attachment:
			if err := r.VerifyCRC(); err != nil {
				failures = append(failures, errs.NewRecordError(e.Offset, -1, format.OpAttachment, err))
			}
		case *record.DataEnd:
			if err := c.checkDataCRC(e.Offset, r); err != nil {
				failures = append(failures, errs.NewRecordError(e.Offset, -1, format.OpDataEnd, err))
			}
		}
	}

	if c.footer != nil && c.footer.SummaryStart != 0 {
		footerOffset := c.src.Size() - format.FooterRecordSize - format.MagicSize
		if err := c.checkSummaryCRC(footerOffset); err != nil {
			failures = append(failures, errs.NewRecordError(footerOffset, -1, format.OpFooter, err))
		}
	}

	for _, ci := range c.chunkIndexes {
		op, _, err := record.ReadPrefix(c.src, ci.ChunkStartOffset)
		if err == nil && op != format.OpChunk {
			err = fmt.Errorf("%w: chunk index points at %s", errs.ErrMalformedRecord, op)
		}
		if err != nil {
			failures = append(failures, errs.NewRecordError(ci.ChunkStartOffset, -1, format.OpChunkIndex, err))
		}
	}

	return errors.Join(failures...)
}
