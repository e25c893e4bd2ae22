// Package messages provides time-indexed random access to the messages of
// a container.
//
// A Manager builds a timeline of message log times, quantized to a step,
// and locates messages by time through the chunk indexes. It decodes
// chunks on demand and keeps the most recently decoded one.
package messages

import (
	"cmp"
	"math"
	"slices"
	"sort"

	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/internal/options"
	"github.com/arloliu/mcapkit/record"
)

type config struct {
	policy RoundingPolicy
}

// Option configures a Manager.
type Option = options.Option[*config]

// WithRounding sets the policy used to quantize log times. The default is
// RoundHalfUp.
func WithRounding(policy RoundingPolicy) Option {
	return options.NoError(func(c *config) {
		c.policy = policy
	})
}

// segment is a run of messages decoded as a unit: a chunk, or the
// top-level messages of the data section.
type segment struct {
	start  uint64
	end    uint64
	offset uint64
	chunk  bool
}

// Manager gives time-indexed access to the messages of one container.
// It is not safe for concurrent use.
type Manager struct {
	c      *container.Container
	step   int64
	policy RoundingPolicy

	segments []segment
	// reach[i] is the largest end time of segments[0..i].
	reach    []uint64
	timeline []int64
	topLevel []*record.Message

	cacheOffset uint64
	cacheChunk  bool
	cache       []*record.Message
}

// NewManager indexes the message log times of c, quantized to step.
//
// Log times come from the MessageIndex records of each chunk, or from the
// decoded chunk when a chunk has none. A step <= 0 keeps raw log times.
func NewManager(c *container.Container, step int64, opts ...Option) (*Manager, error) {
	cfg := &config{policy: RoundHalfUp}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	m := &Manager{c: c, step: step, policy: cfg.policy}

	var indexed uint64
	var stamps []int64
	for _, ci := range c.ChunkIndexes() {
		m.segments = append(m.segments, segment{
			start:  ci.MessageStartTime,
			end:    ci.MessageEndTime,
			offset: ci.ChunkStartOffset,
			chunk:  true,
		})

		indexes, err := c.MessageIndexes(ci)
		if err != nil {
			return nil, err
		}
		if len(indexes) == 0 {
			msgs, err := c.ChunkMessages(ci.ChunkStartOffset)
			if err != nil {
				return nil, err
			}
			for _, msg := range msgs {
				stamps = append(stamps, m.round(msg.LogTime))
			}
			indexed += uint64(len(msgs))

			continue
		}
		for _, mi := range indexes {
			for _, e := range mi.Records {
				stamps = append(stamps, m.round(e.Timestamp))
			}
			indexed += uint64(len(mi.Records))
		}
	}

	// Unchunked files, or files mixing both, carry top-level messages.
	if stats := c.Statistics(); stats == nil || stats.MessageCount > indexed {
		if err := m.loadTopLevel(); err != nil {
			return nil, err
		}
		for _, msg := range m.topLevel {
			stamps = append(stamps, m.round(msg.LogTime))
		}
	}

	slices.SortStableFunc(m.segments, func(a, b segment) int { return cmp.Compare(a.start, b.start) })
	m.reach = make([]uint64, len(m.segments))
	for i, s := range m.segments {
		m.reach[i] = s.end
		if i > 0 {
			m.reach[i] = max(m.reach[i-1], s.end)
		}
	}

	slices.Sort(stamps)
	m.timeline = slices.Compact(stamps)

	return m, nil
}

func (m *Manager) loadTopLevel() error {
	entries, err := m.c.Records()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if msg, ok := e.Record.(*record.Message); ok {
			m.topLevel = append(m.topLevel, msg)
		}
	}
	if len(m.topLevel) == 0 {
		return nil
	}

	slices.SortStableFunc(m.topLevel, byLogTime)
	m.segments = append(m.segments, segment{
		start: m.topLevel[0].LogTime,
		end:   m.topLevel[len(m.topLevel)-1].LogTime,
	})

	return nil
}

// Step returns the quantization step.
func (m *Manager) Step() int64 { return m.step }

// Policy returns the rounding policy.
func (m *Manager) Policy() RoundingPolicy { return m.policy }

func (m *Manager) round(logTime uint64) int64 {
	return m.policy.Round(toInt64(logTime), m.step)
}

// load returns the messages of s sorted by log time. The result is shared
// with the cache and must not be modified.
func (m *Manager) load(s segment) ([]*record.Message, error) {
	if !s.chunk {
		return m.topLevel, nil
	}
	if m.cache != nil && m.cacheChunk && m.cacheOffset == s.offset {
		return m.cache, nil
	}

	msgs, err := m.c.ChunkMessages(s.offset)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(msgs, byLogTime)
	m.cache, m.cacheOffset, m.cacheChunk = msgs, s.offset, true

	return msgs, nil
}

// firstReaching returns the index of the first segment, in start order, that
// may hold a message at or after ts. Every earlier segment ends before ts.
func (m *Manager) firstReaching(ts uint64) int {
	return sort.Search(len(m.reach), func(i int) bool { return m.reach[i] >= ts })
}

func byLogTime(a, b *record.Message) int {
	return cmp.Compare(a.LogTime, b.LogTime)
}

func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}

func toUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}

	return uint64(v)
}
