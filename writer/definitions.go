package writer

import (
	"fmt"

	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/internal/hash"
	"github.com/arloliu/mcapkit/record"
)

// definitions tracks every schema and channel written, keyed by id, with a
// content hash of the encoded body for redefinition checks.
type definitions struct {
	schemas       map[uint16]*record.Schema
	schemaHashes  map[uint16]uint64
	channels      map[uint16]*record.Channel
	channelHashes map[uint16]uint64
}

func newDefinitions() definitions {
	return definitions{
		schemas:       make(map[uint16]*record.Schema),
		schemaHashes:  make(map[uint16]uint64),
		channels:      make(map[uint16]*record.Channel),
		channelHashes: make(map[uint16]uint64),
	}
}

// addSchema registers s and reports whether it was new.
func (d *definitions) addSchema(s *record.Schema) (bool, error) {
	if s.ID == 0 {
		return false, fmt.Errorf("%w: schema id 0 is reserved", errs.ErrMalformedRecord)
	}

	h := hash.Sum64(s.AppendBody(nil))
	if prev, ok := d.schemaHashes[s.ID]; ok {
		if prev != h {
			return false, fmt.Errorf("%w: schema %d redefined with different content", errs.ErrMalformedRecord, s.ID)
		}

		return false, nil
	}

	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	d.schemas[s.ID] = &cp
	d.schemaHashes[s.ID] = h

	return true, nil
}

// addChannel registers c and reports whether it was new. A non-zero schema
// id must be registered first.
func (d *definitions) addChannel(c *record.Channel) (bool, error) {
	if c.SchemaID != 0 {
		if _, ok := d.schemas[c.SchemaID]; !ok {
			return false, fmt.Errorf("%w: channel %d references unknown schema %d",
				errs.ErrUnresolvedReference, c.ID, c.SchemaID)
		}
	}

	h := hash.Sum64(c.AppendBody(nil))
	if prev, ok := d.channelHashes[c.ID]; ok {
		if prev != h {
			return false, fmt.Errorf("%w: channel %d redefined with different content", errs.ErrMalformedRecord, c.ID)
		}

		return false, nil
	}

	cp := *c
	cp.Metadata = make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	d.channels[c.ID] = &cp
	d.channelHashes[c.ID] = h

	return true, nil
}

func (d *definitions) hasChannel(id uint16) bool {
	_, ok := d.channels[id]
	return ok
}

func (d *definitions) empty() bool {
	return len(d.schemas) == 0 && len(d.channels) == 0
}
