// Package repack rewrites a container with new chunking and compression.
//
// Nothing is filtered: every schema, channel, message, attachment and
// metadata record of the source reaches the output, in source order, and
// the output's chunks, indexes, statistics and CRCs are all recomputed.
// Source chunks are decoded concurrently a window at a time.
package repack

import (
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/logging"
	"github.com/arloliu/mcapkit/internal/options"
	"github.com/arloliu/mcapkit/record"
	"github.com/arloliu/mcapkit/writer"
)

// Result counts what a repack rewrote.
type Result struct {
	Messages     uint64
	SourceChunks int
	OutputChunks int
	Attachments  int
	Metadata     int
}

// Repack writes the content of c to w as a new container.
//
// Parameters:
//   - c: source container
//   - w: destination of the new container
//   - opts: compression, chunking, concurrency and reporting options
//
// Returns:
//   - *Result: record counts of the rewrite
//   - error: the first decode, CRC or write failure
func Repack(c *container.Container, w io.Writer, opts ...Option) (*Result, error) {
	cfg := defaultConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	logger := logging.Default(cfg.logger).With("component", "repack")

	wr, err := writer.New(w,
		writer.WithCompression(cfg.compression),
		writer.WithChunkSize(cfg.chunkSize),
		writer.WithChunkDuration(cfg.chunkMin, cfg.chunkMax),
		writer.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}

	entries, err := c.Records()
	if err != nil {
		return nil, err
	}

	rp := &repacker{c: c, w: wr, cfg: cfg}
	for _, e := range entries {
		if e.Record.Opcode() == format.OpChunk {
			rp.total++
		}
	}

	for len(entries) > 0 {
		n := rp.windowLen(entries)
		if err := rp.window(entries[:n]); err != nil {
			return nil, err
		}
		entries = entries[n:]
	}

	if err := wr.Close(); err != nil {
		return nil, err
	}
	rp.res.SourceChunks = rp.total
	rp.res.OutputChunks = int(wr.Statistics().ChunkCount)

	logger.Info("repack finished",
		"compression", cfg.compression,
		"messages", rp.res.Messages,
		"source_chunks", rp.res.SourceChunks,
		"output_chunks", rp.res.OutputChunks)

	return &rp.res, nil
}

type repacker struct {
	c   *container.Container
	w   *writer.Writer
	cfg *config

	total int
	done  int
	res   Result
}

// windowLen returns how many leading entries hold at most concurrency chunks.
func (rp *repacker) windowLen(entries []container.Entry) int {
	chunks := 0
	for i, e := range entries {
		if e.Record.Opcode() != format.OpChunk {
			continue
		}
		if chunks == rp.cfg.concurrency {
			return i
		}
		chunks++
	}

	return len(entries)
}

// window decodes the chunks of entries concurrently, then feeds every entry
// to the writer in order.
func (rp *repacker) window(entries []container.Entry) error {
	decoded := make([][]record.Record, len(entries))

	var g errgroup.Group
	g.SetLimit(rp.cfg.concurrency)
	for i, e := range entries {
		if e.Record.Opcode() != format.OpChunk {
			continue
		}
		// Raw bytes are read here so the source is only touched by one goroutine.
		raw, err := rp.c.RawBytes(e)
		if err != nil {
			_ = g.Wait()
			return errs.NewRecordError(e.Offset, -1, format.OpChunk, err)
		}
		g.Go(func() error {
			recs, err := decodeChunk(raw, rp.cfg.verify)
			if err != nil {
				return errs.NewRecordError(e.Offset, -1, format.OpChunk, err)
			}
			decoded[i] = recs

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, e := range entries {
		if err := rp.feed(e, decoded[i]); err != nil {
			return errs.NewRecordError(e.Offset, -1, e.Record.Opcode(), err)
		}
	}

	return nil
}

func decodeChunk(raw []byte, verify bool) ([]record.Record, error) {
	rec, err := record.Parse(format.OpChunk, raw[format.RecordPrefixSize:])
	if err != nil {
		return nil, err
	}
	chunk := rec.(*record.Chunk)

	data, err := chunk.Decompress(nil)
	if err != nil {
		return nil, err
	}
	if verify {
		if err := chunk.VerifyCRC(data); err != nil {
			return nil, err
		}
	}

	return record.ReadAll(data)
}

func (rp *repacker) feed(e container.Entry, inner []record.Record) error {
	switch r := e.Record.(type) {
	case *record.Header:
		return rp.w.WriteHeader(r)
	case *record.Chunk:
		for _, rec := range inner {
			if err := rp.record(rec); err != nil {
				return err
			}
		}
		rp.done++
		if rp.cfg.progress != nil {
			rp.cfg.progress(rp.done, rp.total)
		}

		return nil
	case *record.Attachment:
		if rp.cfg.verify {
			if err := r.VerifyCRC(); err != nil {
				return err
			}
		}
		rp.res.Attachments++

		return rp.w.WriteAttachment(r)
	case *record.Metadata:
		rp.res.Metadata++
		return rp.w.WriteMetadata(r)
	case *record.Unknown:
		raw, err := rp.c.RawBytes(e)
		if err != nil {
			return err
		}

		return rp.w.WriteRaw(raw, r)
	case *record.Schema, *record.Channel, *record.Message:
		return rp.record(r)
	}

	// MessageIndex, DataEnd and summary records are regenerated by the writer.
	return nil
}

// record writes a definition or message, whether it came from the top level
// or from a chunk.
func (rp *repacker) record(rec record.Record) error {
	switch r := rec.(type) {
	case *record.Schema:
		return rp.w.WriteSchema(r)
	case *record.Channel:
		return rp.w.WriteChannel(r)
	case *record.Message:
		rp.res.Messages++
		return rp.w.WriteMessage(r)
	case *record.Unknown:
		return rp.w.WriteRaw(record.Encode(r), r)
	default:
		return fmt.Errorf("%w: %s record inside a chunk", errs.ErrMalformedRecord, rec.Opcode())
	}
}
