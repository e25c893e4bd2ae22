package writer

import (
	"cmp"
	"encoding/binary"
	"maps"
	"slices"

	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
)

// writeSummary writes the summary section, the summary offsets and the
// footer. With nothing to summarise only an all-zero footer is written.
func (w *Writer) writeSummary() {
	if w.defs.empty() && len(w.chunkIndexes) == 0 && len(w.attachmentIndexes) == 0 &&
		len(w.metadataIndexes) == 0 && !w.hasMessages {
		w.writeRecord(&record.Footer{})
		return
	}

	summaryStart := w.out.n
	var buf []byte
	var offsets []*record.SummaryOffset

	group := func(op format.Opcode, recs []record.Record) {
		if len(recs) == 0 {
			return
		}
		start := len(buf)
		for _, r := range recs {
			buf = record.Append(buf, r)
		}
		offsets = append(offsets, &record.SummaryOffset{
			GroupOpcode: op,
			GroupStart:  summaryStart + uint64(start),
			GroupLength: uint64(len(buf) - start),
		})
	}

	schemaIDs := slices.Sorted(maps.Keys(w.defs.schemas))
	schemas := make([]record.Record, 0, len(schemaIDs))
	for _, id := range schemaIDs {
		schemas = append(schemas, w.defs.schemas[id])
	}
	group(format.OpSchema, schemas)

	channelIDs := slices.Sorted(maps.Keys(w.defs.channels))
	channels := make([]record.Record, 0, len(channelIDs))
	for _, id := range channelIDs {
		channels = append(channels, w.defs.channels[id])
	}
	group(format.OpChannel, channels)

	slices.SortStableFunc(w.chunkIndexes, func(a, b *record.ChunkIndex) int {
		return cmp.Compare(a.ChunkStartOffset, b.ChunkStartOffset)
	})
	group(format.OpChunkIndex, asRecords(w.chunkIndexes))
	group(format.OpAttachmentIndex, asRecords(w.attachmentIndexes))
	group(format.OpMetadataIndex, asRecords(w.metadataIndexes))

	stats := w.Statistics()
	group(format.OpStatistics, []record.Record{&stats})

	summaryOffsetStart := summaryStart + uint64(len(buf))
	for _, so := range offsets {
		buf = record.Append(buf, so)
	}

	buf = record.AppendPrefix(buf, format.OpFooter, format.FooterBodySize)
	buf = binary.LittleEndian.AppendUint64(buf, summaryStart)
	buf = binary.LittleEndian.AppendUint64(buf, summaryOffsetStart)
	buf = binary.LittleEndian.AppendUint32(buf, record.CRC32(buf))

	_, _ = w.out.Write(buf)
}

func asRecords[T record.Record](in []T) []record.Record {
	out := make([]record.Record, len(in))
	for i, r := range in {
		out[i] = r
	}

	return out
}
