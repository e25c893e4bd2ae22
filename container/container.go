// Package container reads a complete container from a bytesource.Source.
//
// Open verifies the magic and header, then builds the definition tables and
// indexes either from the summary section (fast path) or, when the summary
// is missing or rejected, by scanning the data section and decompressing
// every chunk (slow path). Both paths expose the same view.
//
// A Container shares the cursor of its Source and is not safe for concurrent
// use. Open one Container per goroutine.
package container

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/logging"
	"github.com/arloliu/mcapkit/internal/options"
	"github.com/arloliu/mcapkit/record"
)

// Entry is a top-level record with its position in the file.
// Length is the framed size, opcode and length prefix included.
type Entry struct {
	Offset uint64
	Length uint64
	Record record.Record
}

// Container is an opened container.
type Container struct {
	src    bytesource.Source
	cfg    *config
	logger *slog.Logger

	header      *record.Header
	footer      *record.Footer
	usedSummary bool

	schemas           map[uint16]*record.Schema
	channels          map[uint16]*record.Channel
	chunkIndexes      []*record.ChunkIndex
	attachmentIndexes []*record.AttachmentIndex
	metadataIndexes   []*record.MetadataIndex
	stats             *record.Statistics

	entries       []Entry
	dataEndOffset uint64
	truncated     bool

	cache *loadedChunk
}

// Open reads the container in src. The Container takes ownership of src
// and closes it in Close; when Open fails the caller keeps ownership.
func Open(src bytesource.Source, opts ...Option) (*Container, error) {
	cfg := &config{useSummary: true}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	c := &Container{
		src:      src,
		cfg:      cfg,
		logger:   logging.Default(cfg.logger).With("component", "container"),
		schemas:  make(map[uint16]*record.Schema),
		channels: make(map[uint16]*record.Channel),
	}

	if err := c.readHeader(); err != nil {
		return nil, err
	}

	if cfg.useSummary {
		err := c.readSummary()
		if err == nil {
			c.usedSummary = true
			return c, nil
		}
		if cfg.strict && errors.Is(err, errs.ErrCRCMismatch) {
			c.logger.Debug("summary crc check failed", "error", err)
			return nil, err
		}
		if !errors.Is(err, errNoSummary) {
			c.logger.Warn("summary rejected, scanning data section", "error", err)
		}
		c.resetIndexes()
	} else if footer, _, err := c.readFooter(); err == nil {
		c.footer = footer
	}

	if err := c.scan(); err != nil {
		return nil, err
	}

	return c, nil
}

// OpenFile opens the container at path through a windowed file source.
// The file is closed by Close, or before returning when opening fails.
func OpenFile(path string, opts ...Option) (*Container, error) {
	cfg := &config{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	src, err := bytesource.OpenFile(path, cfg.sourceOptions...)
	if err != nil {
		return nil, err
	}

	c, err := Open(src, opts...)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return c, nil
}

func (c *Container) readHeader() error {
	minSize := uint64(2*format.MagicSize + format.RecordPrefixSize)
	if c.src.Size() < minSize {
		return fmt.Errorf("%w: %d bytes is too small for a container", errs.ErrInvalidMagic, c.src.Size())
	}

	magic, err := c.src.BytesAt(0, format.MagicSize)
	if err != nil {
		return err
	}
	if [format.MagicSize]byte(magic) != format.Magic {
		return fmt.Errorf("%w: leading magic % x", errs.ErrInvalidMagic, magic)
	}

	rec, _, err := record.ReadAt(c.src, format.MagicSize)
	if err != nil {
		return errs.NewRecordError(format.MagicSize, 0, format.OpHeader, err)
	}
	h, ok := rec.(*record.Header)
	if !ok {
		return errs.NewRecordError(format.MagicSize, 0, rec.Opcode(),
			fmt.Errorf("%w: first record is %s, want Header", errs.ErrMalformedRecord, rec.Opcode()))
	}
	c.header = h

	return nil
}

func (c *Container) resetIndexes() {
	clear(c.schemas)
	clear(c.channels)
	c.chunkIndexes = nil
	c.attachmentIndexes = nil
	c.metadataIndexes = nil
	c.stats = nil
}

// Source returns the underlying source.
func (c *Container) Source() bytesource.Source { return c.src }

// UsedSummary reports whether the indexes were built from the summary section.
func (c *Container) UsedSummary() bool { return c.usedSummary }

// Truncated reports whether the linear scan ended without finding DataEnd.
func (c *Container) Truncated() bool { return c.truncated }

// Header returns the Header record.
func (c *Container) Header() *record.Header { return c.header }

// Footer returns the Footer record, or nil when the file has none.
func (c *Container) Footer() *record.Footer { return c.footer }

// Statistics returns the container statistics, read from the summary or
// derived by the scan.
func (c *Container) Statistics() *record.Statistics { return c.stats }

// Schema returns the schema with the given id.
func (c *Container) Schema(id uint16) (*record.Schema, bool) {
	s, ok := c.schemas[id]
	return s, ok
}

// Channel returns the channel with the given id.
func (c *Container) Channel(id uint16) (*record.Channel, bool) {
	ch, ok := c.channels[id]
	return ch, ok
}

// Schemas returns every schema ordered by id.
func (c *Container) Schemas() []*record.Schema {
	return sortedByID(c.schemas, func(s *record.Schema) uint16 { return s.ID })
}

// Channels returns every channel ordered by id.
func (c *Container) Channels() []*record.Channel {
	return sortedByID(c.channels, func(ch *record.Channel) uint16 { return ch.ID })
}

// ChunkIndexes returns the chunk indexes in file order.
func (c *Container) ChunkIndexes() []*record.ChunkIndex { return c.chunkIndexes }

// AttachmentIndexes returns the attachment indexes in file order.
func (c *Container) AttachmentIndexes() []*record.AttachmentIndex { return c.attachmentIndexes }

// MetadataIndexes returns the metadata indexes in file order.
func (c *Container) MetadataIndexes() []*record.MetadataIndex { return c.metadataIndexes }

// Resolve returns the channel of m and its schema. The schema is nil for
// channels without one.
func (c *Container) Resolve(m *record.Message) (*record.Channel, *record.Schema, error) {
	ch, ok := c.channels[m.ChannelID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: message references channel %d", errs.ErrUnresolvedReference, m.ChannelID)
	}
	if ch.SchemaID == 0 {
		return ch, nil, nil
	}

	s, ok := c.schemas[ch.SchemaID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: channel %d references schema %d", errs.ErrUnresolvedReference, ch.ID, ch.SchemaID)
	}

	return ch, s, nil
}

// Attachment reads the attachment located by idx. In strict mode its CRC is verified.
func (c *Container) Attachment(idx *record.AttachmentIndex) (*record.Attachment, error) {
	rec, err := c.readIndexed(idx.Offset, idx.Length, format.OpAttachment)
	if err != nil {
		return nil, err
	}
	a := rec.(*record.Attachment)
	if c.cfg.strict {
		if err := a.VerifyCRC(); err != nil {
			return nil, errs.NewRecordError(idx.Offset, -1, format.OpAttachment, err)
		}
	}

	return a, nil
}

// Metadata reads the metadata record located by idx.
func (c *Container) Metadata(idx *record.MetadataIndex) (*record.Metadata, error) {
	rec, err := c.readIndexed(idx.Offset, idx.Length, format.OpMetadata)
	if err != nil {
		return nil, err
	}

	return rec.(*record.Metadata), nil
}

// RawBytes returns the framed bytes of a top-level record.
func (c *Container) RawBytes(e Entry) ([]byte, error) {
	return c.src.BytesAt(e.Offset, e.Length)
}

// Close releases the source.
func (c *Container) Close() error {
	c.cache = nil
	return c.src.Close()
}

func (c *Container) readIndexed(offset, length uint64, want format.Opcode) (record.Record, error) {
	rec, n, err := record.ReadAt(c.src, offset)
	if err != nil {
		return nil, errs.NewRecordError(offset, -1, want, err)
	}
	if rec.Opcode() != want || (length != 0 && n != length) {
		return nil, errs.NewRecordError(offset, -1, want,
			fmt.Errorf("%w: index points at %s record of %d bytes", errs.ErrMalformedRecord, rec.Opcode(), n))
	}

	return rec, nil
}

func sortedByID[T any](m map[uint16]T, id func(T) uint16) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(id(a), id(b)) })

	return out
}
