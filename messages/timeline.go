package messages

import (
	"slices"

	"github.com/arloliu/mcapkit/record"
)

// Len returns the number of distinct quantized timestamps.
func (m *Manager) Len() int { return len(m.timeline) }

// TimestampAt returns the i-th quantized timestamp, or -1 when i is out of range.
func (m *Manager) TimestampAt(i int) int64 {
	if i < 0 || i >= len(m.timeline) {
		return -1
	}

	return m.timeline[i]
}

// IndexOf returns the position of ts in the timeline, or the position at
// which it would be inserted.
func (m *Manager) IndexOf(ts int64) int {
	i, _ := slices.BinarySearch(m.timeline, ts)
	return i
}

// First returns the earliest quantized timestamp, or -1 when there are no messages.
func (m *Manager) First() int64 { return m.TimestampAt(0) }

// Last returns the latest quantized timestamp, or -1 when there are no messages.
func (m *Manager) Last() int64 { return m.TimestampAt(len(m.timeline) - 1) }

// Next returns the first quantized timestamp after ts, or -1 past the end.
func (m *Manager) Next(ts int64) int64 {
	i, found := slices.BinarySearch(m.timeline, ts)
	if found {
		i++
	}

	return m.TimestampAt(i)
}

// Previous returns the last quantized timestamp before ts, or -1 before the start.
func (m *Manager) Previous(ts int64) int64 {
	return m.TimestampAt(m.IndexOf(ts) - 1)
}

// MessagesAt returns the messages whose quantized log time equals ts, sorted
// by log time, restricted to channels when any are given.
//
// When ts sits on a chunk boundary the matching messages of both
// neighbouring chunks are returned.
func (m *Manager) MessagesAt(ts int64, channels ...uint16) ([]*record.Message, error) {
	lo, hi := toUint64(ts), toUint64(ts)
	if m.step > 0 {
		lo = toUint64(ts - m.step)
		hi = toUint64(ts + m.step)
	}

	var out []*record.Message
	for i := m.firstReaching(lo); i < len(m.segments) && m.segments[i].start <= hi; i++ {
		msgs, err := m.load(m.segments[i])
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if msg.LogTime < lo || msg.LogTime > hi || m.round(msg.LogTime) != ts {
				continue
			}
			if len(channels) > 0 && !slices.Contains(channels, msg.ChannelID) {
				continue
			}
			out = append(out, msg)
		}
	}
	slices.SortStableFunc(out, byLogTime)

	return out, nil
}
