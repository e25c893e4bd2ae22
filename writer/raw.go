package writer

import (
	"fmt"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
)

// WriteRaw writes raw, the framed bytes of rec, verbatim at the top level
// and updates the indexes and statistics rec contributes to.
//
// rec may be a Header (first call only), Schema, Channel, Message,
// Attachment, Metadata or Unknown record. Chunks go through CopyChunk;
// index, summary and footer records are always regenerated and are
// rejected here.
func (w *Writer) WriteRaw(raw []byte, rec record.Record) error {
	if err := w.usable(); err != nil {
		return err
	}
	if len(raw) < format.RecordPrefixSize || format.Opcode(raw[0]) != rec.Opcode() {
		return fmt.Errorf("%w: raw bytes do not frame a %s record", errs.ErrMalformedRecord, rec.Opcode())
	}

	if rec.Opcode() == format.OpHeader {
		if w.started {
			return fmt.Errorf("%w: header already written", errs.ErrMalformedRecord)
		}
		w.start()
		_, _ = w.out.Write(raw)

		return w.out.err
	}

	if err := w.begin(); err != nil {
		return err
	}

	offset := w.out.n
	length := uint64(len(raw))

	switch r := rec.(type) {
	case *record.Schema:
		if _, err := w.defs.addSchema(r); err != nil {
			return err
		}
	case *record.Channel:
		if _, err := w.defs.addChannel(r); err != nil {
			return err
		}
	case *record.Message:
		if !w.defs.hasChannel(r.ChannelID) {
			return fmt.Errorf("%w: message on unknown channel %d", errs.ErrUnresolvedReference, r.ChannelID)
		}
		w.observeMessage(r.ChannelID, r.LogTime)
	case *record.Attachment:
		w.indexAttachment(r, offset, length)
	case *record.Metadata:
		w.indexMetadata(r, offset, length)
	case *record.Unknown:
	default:
		return fmt.Errorf("%w: %s records cannot be written raw", errs.ErrMalformedRecord, rec.Opcode())
	}

	_, _ = w.out.Write(raw)

	return w.out.err
}

// DeclareSchema registers a schema that is written by other means, such as
// inside a chunk copied with CopyChunk.
func (w *Writer) DeclareSchema(s *record.Schema) error {
	if err := w.usable(); err != nil {
		return err
	}
	_, err := w.defs.addSchema(s)

	return err
}

// DeclareChannel registers a channel that is written by other means.
func (w *Writer) DeclareChannel(c *record.Channel) error {
	if err := w.usable(); err != nil {
		return err
	}
	_, err := w.defs.addChannel(c)

	return err
}
