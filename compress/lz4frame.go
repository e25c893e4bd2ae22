package compress

import (
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"

	"github.com/arloliu/mcapkit/errs"
)

const (
	lz4FrameMagic         uint32 = 0x184D2204
	lz4SkippableMagic     uint32 = 0x184D2A50
	lz4SkippableMagicMask uint32 = 0xFFFFFFF0

	lz4Version               byte = 0x40
	lz4FlagBlockIndependence byte = 0x20
	lz4FlagBlockChecksum     byte = 0x10
	lz4FlagContentSize       byte = 0x08
	lz4FlagContentChecksum   byte = 0x04
	lz4FlagReserved          byte = 0x02
	lz4FlagDictID            byte = 0x01

	lz4StoredBlockBit uint32 = 0x80000000
	lz4MinMatch              = 4
)

// DecodeLZ4Frame decodes one or more concatenated LZ4 frames.
//
// Skippable frames are ignored. Header, block and content checksums are
// verified whenever the frame descriptor declares them, as is the optional
// content size. Frames that need an external dictionary are rejected.
//
// Parameters:
//   - src: The complete compressed byte range
//   - sizeHint: Expected output length, used to preallocate (0 if unknown)
//
// Returns:
//   - []byte: The decoded bytes of every frame, in order
//   - error: errs.ErrCorruptFrame wrapped with the byte offset of the failure
func DecodeLZ4Frame(src []byte, sizeHint int) ([]byte, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	dst := make([]byte, 0, sizeHint)

	frames := 0
	pos := 0
	for pos < len(src) {
		if len(src)-pos < 4 {
			return nil, corruptf(pos, "truncated frame magic")
		}

		magic := binary.LittleEndian.Uint32(src[pos:])
		if magic&lz4SkippableMagicMask == lz4SkippableMagic {
			if len(src)-pos < 8 {
				return nil, corruptf(pos, "truncated skippable frame")
			}
			size := int(binary.LittleEndian.Uint32(src[pos+4:]))
			if size > len(src)-pos-8 {
				return nil, corruptf(pos, "skippable frame overruns input")
			}
			pos += 8 + size

			continue
		}
		if magic != lz4FrameMagic {
			return nil, corruptf(pos, "bad magic 0x%08X", magic)
		}

		var (
			n   int
			err error
		)
		dst, n, err = decodeFrame(dst, src[pos:], pos)
		if err != nil {
			return nil, err
		}
		pos += n
		frames++
	}

	if frames == 0 {
		return nil, corruptf(0, "no lz4 frame in input")
	}

	return dst, nil
}

// decodeFrame decodes the frame at the start of src, appending to dst.
// base is the offset of src within the caller's input, for error reporting.
func decodeFrame(dst, src []byte, base int) ([]byte, int, error) {
	p := 4
	if len(src) < p+3 {
		return nil, 0, corruptf(base, "truncated frame descriptor")
	}

	flg, bd := src[p], src[p+1]
	if flg&0xC0 != lz4Version {
		return nil, 0, corruptf(base+p, "unsupported frame version %d", flg>>6)
	}
	if flg&lz4FlagReserved != 0 || bd&0x8F != 0 {
		return nil, 0, corruptf(base+p, "reserved descriptor bits set")
	}
	if flg&lz4FlagDictID != 0 {
		return nil, 0, corruptf(base+p, "frames with a dictionary are not supported")
	}

	blockSizeID := (bd >> 4) & 0x7
	if blockSizeID < 4 {
		return nil, 0, corruptf(base+p+1, "invalid block size id %d", blockSizeID)
	}
	maxBlockSize := 1 << (2*uint(blockSizeID) + 8)

	descStart := p
	p += 2

	var contentSize uint64
	hasContentSize := flg&lz4FlagContentSize != 0
	if hasContentSize {
		if len(src) < p+8+1 {
			return nil, 0, corruptf(base+p, "truncated content size")
		}
		contentSize = binary.LittleEndian.Uint64(src[p:])
		p += 8
	}

	if len(src) < p+1 {
		return nil, 0, corruptf(base+p, "truncated header checksum")
	}
	if want := byte(xxhash.Checksum32S(src[descStart:p], 0) >> 8); src[p] != want {
		return nil, 0, corruptf(base+p, "header checksum 0x%02X, expected 0x%02X", src[p], want)
	}
	p++

	frameStart := len(dst)
	independent := flg&lz4FlagBlockIndependence != 0
	blockChecksum := flg&lz4FlagBlockChecksum != 0

	for {
		if len(src) < p+4 {
			return nil, 0, corruptf(base+p, "truncated block size")
		}
		word := binary.LittleEndian.Uint32(src[p:])
		p += 4
		if word == 0 {
			break
		}

		stored := word&lz4StoredBlockBit != 0
		size := int(word &^ lz4StoredBlockBit)
		if size > maxBlockSize {
			return nil, 0, corruptf(base+p-4, "block size %d exceeds maximum %d", size, maxBlockSize)
		}
		if len(src)-p < size {
			return nil, 0, corruptf(base+p, "block overruns input")
		}
		block := src[p : p+size]
		p += size

		if blockChecksum {
			if len(src) < p+4 {
				return nil, 0, corruptf(base+p, "truncated block checksum")
			}
			if got, want := binary.LittleEndian.Uint32(src[p:]), xxhash.Checksum32S(block, 0); got != want {
				return nil, 0, corruptf(base+p, "block checksum 0x%08X, expected 0x%08X", got, want)
			}
			p += 4
		}

		if stored {
			dst = append(dst, block...)
			continue
		}

		historyStart := frameStart
		if independent {
			historyStart = len(dst)
		}
		blockStart := len(dst)

		var err error
		dst, err = decodeBlock(dst, block, historyStart)
		if err != nil {
			return nil, 0, fmt.Errorf("%w (block at offset %d)", err, base+p-size)
		}
		if len(dst)-blockStart > maxBlockSize {
			return nil, 0, corruptf(base+p-size, "decoded block exceeds maximum size %d", maxBlockSize)
		}
	}

	if flg&lz4FlagContentChecksum != 0 {
		if len(src) < p+4 {
			return nil, 0, corruptf(base+p, "truncated content checksum")
		}
		if got, want := binary.LittleEndian.Uint32(src[p:]), xxhash.Checksum32S(dst[frameStart:], 0); got != want {
			return nil, 0, corruptf(base+p, "content checksum 0x%08X, expected 0x%08X", got, want)
		}
		p += 4
	}

	if hasContentSize && uint64(len(dst)-frameStart) != contentSize {
		return nil, 0, corruptf(base, "content size %d, frame declared %d", len(dst)-frameStart, contentSize)
	}

	return dst, p, nil
}

// DecodeLZ4Block decodes one LZ4 block and appends the result to dst.
//
// Back-references may reach into bytes already in dst, which lets callers
// decode linked blocks by passing the previous output.
func DecodeLZ4Block(dst, src []byte) ([]byte, error) {
	return decodeBlock(dst, src, 0)
}

// decodeBlock appends the decoded form of src to dst. Matches may not reach
// before dst[historyStart].
func decodeBlock(dst, src []byte, historyStart int) ([]byte, error) {
	if len(src) == 0 {
		return nil, corruptf(0, "empty compressed block")
	}

	i := 0
	for {
		token := src[i]
		i++

		litLen := int(token >> 4)
		if litLen == 0xF {
			n, next, err := readLength(src, i)
			if err != nil {
				return nil, err
			}
			litLen += n
			i = next
		}
		if litLen > len(src)-i {
			return nil, corruptf(i, "literal run of %d overruns block", litLen)
		}
		dst = append(dst, src[i:i+litLen]...)
		i += litLen

		// The last sequence carries literals only.
		if i == len(src) {
			return dst, nil
		}

		if len(src)-i < 2 {
			return nil, corruptf(i, "truncated match offset")
		}
		offset := int(src[i]) | int(src[i+1])<<8
		i += 2
		if offset == 0 || offset > len(dst)-historyStart {
			return nil, corruptf(i-2, "match offset %d outside window", offset)
		}

		matchLen := int(token & 0xF)
		if matchLen == 0xF {
			n, next, err := readLength(src, i)
			if err != nil {
				return nil, err
			}
			matchLen += n
			i = next
		}
		matchLen += lz4MinMatch

		start := len(dst) - offset
		if offset >= matchLen {
			dst = append(dst, dst[start:start+matchLen]...)
		} else {
			// Overlapping copy repeats the last offset bytes.
			for k := range matchLen {
				dst = append(dst, dst[start+k])
			}
		}

		// Well-formed encoders always finish with literals, but a block
		// that ends on a match still decodes unambiguously.
		if i >= len(src) {
			return dst, nil
		}
	}
}

// readLength reads a 0xFF-extended length continuation starting at src[i].
func readLength(src []byte, i int) (int, int, error) {
	n := 0
	for {
		if i >= len(src) {
			return 0, 0, corruptf(i, "truncated length extension")
		}
		b := src[i]
		i++
		n += int(b)
		if b != 0xFF {
			return n, i, nil
		}
	}
}

func corruptf(offset int, format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", errs.ErrCorruptFrame, fmt.Sprintf(format, args...), offset)
}
