package bytesource

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
)

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data)

	return data
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

// openAll returns every Source implementation over the same bytes.
func openAll(t *testing.T, data []byte) map[string]Source {
	t.Helper()
	path := writeTemp(t, data)

	win, err := NewReaderAt(bytes.NewReader(data), uint64(len(data)), WithWindowSize(1024))
	require.NoError(t, err)
	file, err := OpenFile(path, WithWindowSize(1024))
	require.NoError(t, err)
	mm, err := OpenMmap(path)
	require.NoError(t, err)

	sources := map[string]Source{
		"buffer": NewBuffer(data),
		"window": win,
		"file":   file,
		"mmap":   mm,
	}
	t.Cleanup(func() {
		for _, s := range sources {
			_ = s.Close()
		}
	})

	return sources
}

func TestSource_TypedReads(t *testing.T) {
	var data []byte
	data = append(data, 0xAB)
	data = binary.LittleEndian.AppendUint16(data, 0x1234)
	data = binary.LittleEndian.AppendUint32(data, 0xDEADBEEF)
	data = binary.LittleEndian.AppendUint64(data, 0x0102030405060708)
	data = binary.LittleEndian.AppendUint32(data, 5)
	data = append(data, "hello"...)

	for name, src := range openAll(t, data) {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, uint64(len(data)), src.Size())

			u8, err := src.ReadUint8()
			require.NoError(t, err)
			require.Equal(t, uint8(0xAB), u8)

			u16, err := src.ReadUint16()
			require.NoError(t, err)
			require.Equal(t, uint16(0x1234), u16)

			u32, err := src.ReadUint32()
			require.NoError(t, err)
			require.Equal(t, uint32(0xDEADBEEF), u32)

			u64, err := src.ReadUint64()
			require.NoError(t, err)
			require.Equal(t, uint64(0x0102030405060708), u64)

			s, err := src.ReadString()
			require.NoError(t, err)
			require.Equal(t, "hello", s)
			require.Equal(t, src.Size(), src.Position())

			_, err = src.ReadUint8()
			require.ErrorIs(t, err, errs.ErrUnexpectedEndOfData)
		})
	}
}

func TestSource_BytesAtKeepsCursor(t *testing.T) {
	data := randomBytes(t, 4096, 1)

	for name, src := range openAll(t, data) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, src.SetPosition(100))

			b, err := src.BytesAt(3000, 500)
			require.NoError(t, err)
			require.Equal(t, data[3000:3500], b)
			require.Equal(t, uint64(100), src.Position())

			empty, err := src.BytesAt(4096, 0)
			require.NoError(t, err)
			require.Empty(t, empty)

			_, err = src.BytesAt(4000, 97)
			require.ErrorIs(t, err, errs.ErrUnexpectedEndOfData)

			require.ErrorIs(t, src.SetPosition(4097), errs.ErrUnexpectedEndOfData)
			require.NoError(t, src.SetPosition(4096))
		})
	}
}

func TestSource_ShortStringRestoresCursor(t *testing.T) {
	data := binary.LittleEndian.AppendUint32(nil, 100)
	data = append(data, "short"...)

	for name, src := range openAll(t, data) {
		t.Run(name, func(t *testing.T) {
			_, err := src.ReadString()
			require.ErrorIs(t, err, errs.ErrUnexpectedEndOfData)
			require.Equal(t, uint64(0), src.Position())
		})
	}
}

func TestSource_DecompressedAt(t *testing.T) {
	records := bytes.Repeat([]byte("chunk records "), 300)

	for _, ct := range []format.CompressionType{format.CompressionNone, format.CompressionLZ4, format.CompressionZstd} {
		codec, err := compress.GetCodec(ct)
		require.NoError(t, err)
		compressed, err := codec.Compress(records)
		require.NoError(t, err)

		data := append(randomBytes(t, 37, 2), compressed...)
		data = append(data, randomBytes(t, 11, 3)...)

		for name, src := range openAll(t, data) {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				out, err := src.DecompressedAt(37, uint64(len(compressed)), uint64(len(records)), ct)
				require.NoError(t, err)
				require.Equal(t, records, out)

				// Decoded bytes must survive later reads that move the window.
				_, err = src.BytesAt(0, 37)
				require.NoError(t, err)
				require.Equal(t, records, out)
			})
		}
	}

	src := NewBuffer([]byte{1, 2, 3})
	_, err := src.DecompressedAt(0, 3, 3, format.CompressionType(99))
	require.ErrorIs(t, err, errs.ErrUnsupportedCompression)
}

func TestWindow_RandomAccess(t *testing.T) {
	const size = 100_000
	data := randomBytes(t, size, 42)
	ref := NewBuffer(data)

	win, err := NewReaderAt(bytes.NewReader(data), size, WithWindowSize(1024))
	require.NoError(t, err)
	defer win.Close()

	rng := rand.New(rand.NewSource(43))
	for i := range 20_000 {
		switch rng.Intn(6) {
		case 0:
			pos := uint64(rng.Intn(size - 16))
			require.NoError(t, win.SetPosition(pos))
			require.NoError(t, ref.SetPosition(pos))
		case 1:
			off := uint64(rng.Intn(size - 3000))
			n := uint64(rng.Intn(3000))
			got, err := win.BytesAt(off, n)
			require.NoError(t, err)
			want, _ := ref.BytesAt(off, n)
			require.Equal(t, want, got, "op %d", i)
		case 2:
			if ref.Position()+8 > size {
				continue
			}
			got, err := win.ReadUint64()
			require.NoError(t, err)
			want, _ := ref.ReadUint64()
			require.Equal(t, want, got, "op %d", i)
		case 3:
			if ref.Position()+4 > size {
				continue
			}
			got, err := win.ReadUint32()
			require.NoError(t, err)
			want, _ := ref.ReadUint32()
			require.Equal(t, want, got, "op %d", i)
		case 4:
			if ref.Position()+2 > size {
				continue
			}
			got, err := win.ReadUint16()
			require.NoError(t, err)
			want, _ := ref.ReadUint16()
			require.Equal(t, want, got, "op %d", i)
		case 5:
			if ref.Position()+1 > size {
				continue
			}
			got, err := win.ReadUint8()
			require.NoError(t, err)
			want, _ := ref.ReadUint8()
			require.Equal(t, want, got, "op %d", i)
		}
		require.Equal(t, ref.Position(), win.Position())
	}
}

func TestWindow_JumpsInsideWindowDoNotRefill(t *testing.T) {
	data := randomBytes(t, 10_000, 5)
	win, err := NewReaderAt(bytes.NewReader(data), uint64(len(data)), WithWindowSize(1024))
	require.NoError(t, err)

	require.NoError(t, win.SetPosition(2000))
	_, err = win.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, 1, win.Refills())

	// Forward and backward inside [2000, 3024).
	require.NoError(t, win.SetPosition(2900))
	_, err = win.ReadUint32()
	require.NoError(t, err)
	require.NoError(t, win.SetPosition(2004))
	_, err = win.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, 1, win.Refills())

	// Leaving the window refills once.
	_, err = win.BytesAt(5000, 10)
	require.NoError(t, err)
	require.Equal(t, 2, win.Refills())

	// Large reads bypass the window.
	got, err := win.BytesAt(0, 4096)
	require.NoError(t, err)
	require.Equal(t, data[:4096], got)
	require.Equal(t, 2, win.Refills())
}

func TestWindow_Options(t *testing.T) {
	_, err := NewReaderAt(bytes.NewReader(nil), 0, WithWindowSize(0))
	require.ErrorIs(t, err, errs.ErrInvalidOption)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestSource_Close(t *testing.T) {
	data := randomBytes(t, 64, 9)

	for name, src := range openAll(t, data) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, src.Close())
			require.NoError(t, src.Close())

			_, err := src.ReadUint8()
			require.ErrorIs(t, err, errs.ErrClosed)
		})
	}
}

func TestOpenMmap_EmptyFile(t *testing.T) {
	src, err := OpenMmap(writeTemp(t, nil))
	require.NoError(t, err)
	require.Equal(t, uint64(0), src.Size())
	require.NoError(t, src.Close())
}
