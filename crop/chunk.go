package crop

import (
	"fmt"

	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/record"
)

func (cr *cropper) chunk(e container.Entry, chunk *record.Chunk) error {
	var indexes []*record.MessageIndex
	if ci, ok := cr.chunks[e.Offset]; ok {
		var err error
		if indexes, err = cr.c.MessageIndexes(ci); err != nil {
			return err
		}
	}
	if len(indexes) == 0 {
		_, data, err := cr.c.Chunk(e.Offset)
		if err != nil {
			return err
		}
		if indexes, err = record.BuildMessageIndexes(data); err != nil {
			return err
		}
	}

	span := &record.ChunkIndex{MessageStartTime: chunk.MessageStartTime, MessageEndTime: chunk.MessageEndTime}
	switch {
	case span.Contains(cr.start, cr.end):
		return cr.copyChunk(e, chunk, indexes)
	case !span.Overlaps(cr.start, cr.end) || !hasMessages(indexes):
		cr.res.DroppedChunks++
		return nil
	default:
		return cr.rewriteChunk(e, chunk)
	}
}

// copyChunk copies a chunk whose messages are all in range.
func (cr *cropper) copyChunk(e container.Entry, chunk *record.Chunk, indexes []*record.MessageIndex) error {
	// The chunk's own definitions are only needed while some source
	// definition has not reached the output yet.
	if len(cr.schemas) < len(cr.c.Schemas()) || len(cr.channels) < len(cr.c.Channels()) || !cr.covers(indexes) {
		if err := cr.declareInner(e.Offset); err != nil {
			return err
		}
	}

	for _, mi := range indexes {
		if len(mi.Records) == 0 {
			continue
		}
		if err := cr.ensureChannel(mi.ChannelID); err != nil {
			return err
		}
		cr.res.Messages += uint64(len(mi.Records))
	}

	raw, err := cr.c.RawBytes(e)
	if err != nil {
		return err
	}
	if err := cr.w.CopyChunk(raw, chunk, indexes); err != nil {
		return err
	}
	cr.res.CopiedChunks++

	return nil
}

// covers reports whether every channel used by indexes is already in the output.
func (cr *cropper) covers(indexes []*record.MessageIndex) bool {
	for _, mi := range indexes {
		if len(mi.Records) > 0 && !cr.channels[mi.ChannelID] {
			return false
		}
	}

	return true
}

// declareInner registers the definitions carried inside a copied chunk.
// Definitions the chunk uses before defining, or whose schema lives
// elsewhere, are emitted at the top level ahead of the chunk.
func (cr *cropper) declareInner(offset uint64) error {
	entries, err := cr.c.ChunkRecords(offset)
	if err != nil {
		return err
	}

	inner := make(map[uint16]bool)
	for _, ie := range entries {
		if s, ok := ie.Record.(*record.Schema); ok {
			inner[s.ID] = true
		}
	}
	for _, ie := range entries {
		if ch, ok := ie.Record.(*record.Channel); ok && ch.SchemaID != 0 && !inner[ch.SchemaID] {
			if err := cr.ensureSchema(ch.SchemaID); err != nil {
				return err
			}
		}
	}

	for _, ie := range entries {
		switch r := ie.Record.(type) {
		case *record.Schema:
			if err := cr.w.DeclareSchema(r); err != nil {
				return err
			}
			cr.schemas[r.ID] = true
		case *record.Channel:
			if err := cr.w.DeclareChannel(r); err != nil {
				return err
			}
			cr.channels[r.ID] = true
		}
	}

	return nil
}

// rewriteChunk keeps the in-range messages of a straddling chunk, preceded
// by the definitions they need, in one new chunk.
func (cr *cropper) rewriteChunk(e container.Entry, chunk *record.Chunk) error {
	entries, err := cr.c.ChunkRecords(e.Offset)
	if err != nil {
		return err
	}

	var out []record.Record
	var kept uint64
	for _, ie := range entries {
		m, ok := ie.Record.(*record.Message)
		if !ok || !cr.inRange(m.LogTime) {
			continue
		}
		if out, err = cr.appendDefinitions(out, m.ChannelID); err != nil {
			return err
		}
		out = append(out, m)
		kept++
	}
	if kept == 0 {
		cr.res.DroppedChunks++
		return nil
	}

	ct := cr.cfg.compression
	if ct == 0 {
		var ok bool
		if ct, ok = chunk.CompressionType(); !ok {
			return fmt.Errorf("%w: %q", errs.ErrUnsupportedCompression, chunk.Compression)
		}
	}
	if err := cr.w.WriteChunk(out, ct); err != nil {
		return err
	}
	cr.res.Messages += kept
	cr.res.RewrittenChunks++

	return nil
}

// appendDefinitions appends the channel, and its schema, when the output
// does not have them yet.
func (cr *cropper) appendDefinitions(out []record.Record, channelID uint16) ([]record.Record, error) {
	if cr.channels[channelID] {
		return out, nil
	}

	ch, ok := cr.c.Channel(channelID)
	if !ok {
		return nil, fmt.Errorf("%w: channel %d", errs.ErrUnresolvedReference, channelID)
	}
	if ch.SchemaID != 0 && !cr.schemas[ch.SchemaID] {
		s, ok := cr.c.Schema(ch.SchemaID)
		if !ok {
			return nil, fmt.Errorf("%w: schema %d", errs.ErrUnresolvedReference, ch.SchemaID)
		}
		out = append(out, s)
		cr.schemas[s.ID] = true
	}
	out = append(out, ch)
	cr.channels[ch.ID] = true

	return out, nil
}

func hasMessages(indexes []*record.MessageIndex) bool {
	for _, mi := range indexes {
		if len(mi.Records) > 0 {
			return true
		}
	}

	return false
}
