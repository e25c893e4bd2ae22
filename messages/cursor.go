package messages

import (
	"slices"

	"github.com/arloliu/mcapkit/record"
)

// Cursor iterates messages forward by log time from a seek position,
// across chunk boundaries.
//
//	cur, err := m.Seek(ts)
//	for cur.Next() {
//		msg := cur.Message()
//	}
//	err = cur.Err()
type Cursor struct {
	m        *Manager
	from     uint64
	channels map[uint16]struct{}

	// next is the next segment to load; pending holds loaded messages not
	// yet returned, sorted by log time.
	next    int
	pending []*record.Message
	msg     *record.Message
	err     error
}

// Seek returns a cursor positioned at the first message whose log time is
// at or after ts, restricted to channels when any are given.
//
// The chunk covering ts is located by binary search over the chunk time
// ranges and decoded immediately. A ts past every message yields a cursor
// that is already exhausted.
func (m *Manager) Seek(ts int64, channels ...uint16) (*Cursor, error) {
	cur := &Cursor{m: m, from: toUint64(ts)}
	if len(channels) > 0 {
		cur.channels = make(map[uint16]struct{}, len(channels))
		for _, id := range channels {
			cur.channels[id] = struct{}{}
		}
	}

	cur.next = m.firstReaching(cur.from)
	if cur.next < len(m.segments) {
		if err := cur.fill(); err != nil {
			return nil, err
		}
	}

	return cur, nil
}

// Next advances to the next message and reports whether there is one.
func (cur *Cursor) Next() bool {
	if cur.err != nil {
		return false
	}

	for {
		// A later segment starting at or before the head may hold an
		// earlier message, so it is merged in first.
		if len(cur.pending) > 0 {
			if cur.next < len(cur.m.segments) && cur.m.segments[cur.next].start <= cur.pending[0].LogTime {
				if cur.err = cur.fill(); cur.err != nil {
					return false
				}

				continue
			}
			cur.msg = cur.pending[0]
			cur.pending = cur.pending[1:]

			return true
		}

		if cur.next >= len(cur.m.segments) {
			cur.msg = nil
			return false
		}
		if cur.err = cur.fill(); cur.err != nil {
			return false
		}
	}
}

// Message returns the message Next advanced to.
func (cur *Cursor) Message() *record.Message { return cur.msg }

// Err returns the error that stopped iteration, if any.
func (cur *Cursor) Err() error { return cur.err }

func (cur *Cursor) fill() error {
	s := cur.m.segments[cur.next]
	cur.next++

	msgs, err := cur.m.load(s)
	if err != nil {
		return err
	}

	merge := len(cur.pending) > 0
	for _, msg := range msgs {
		if msg.LogTime >= cur.from && cur.wants(msg.ChannelID) {
			cur.pending = append(cur.pending, msg)
		}
	}
	if merge {
		slices.SortStableFunc(cur.pending, byLogTime)
	}

	return nil
}

func (cur *Cursor) wants(channelID uint16) bool {
	if cur.channels == nil {
		return true
	}
	_, ok := cur.channels[channelID]

	return ok
}
