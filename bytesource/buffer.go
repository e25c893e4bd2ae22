package bytesource

// Buffer is a Source over a byte slice already in memory, such as a file read
// in full, a memory map or a payload delivered over the network.
//
// BytesAt returns sub-slices of the wrapped data without copying.
type Buffer struct {
	cursor
}

var _ Source = (*Buffer)(nil)

// NewBuffer wraps data. The caller must not modify data while the Buffer is in use.
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{}
	b.cursor = cursor{f: sliceFetcher(data), size: uint64(len(data))}

	return b
}

// Bytes returns the wrapped data.
func (b *Buffer) Bytes() []byte {
	return []byte(b.f.(sliceFetcher))
}

type sliceFetcher []byte

func (s sliceFetcher) view(offset, length uint64) ([]byte, error) {
	return s[offset : offset+length : offset+length], nil
}

func (s sliceFetcher) owned() bool { return true }
