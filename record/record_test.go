package record

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
)

func TestAppend_Framing(t *testing.T) {
	buf := Encode(&DataEnd{DataSectionCRC: 0xAABBCCDD})
	require.Equal(t, []byte{0x0F, 4, 0, 0, 0, 0, 0, 0, 0, 0xDD, 0xCC, 0xBB, 0xAA}, buf)

	buf = Encode(&Header{Profile: "ros2", Library: "x"})
	require.Equal(t, byte(format.OpHeader), buf[0])
	require.Equal(t, uint64(4+4+4+1), binary.LittleEndian.Uint64(buf[1:9]))
	require.Equal(t, "ros2", string(buf[13:17]))

	// Append keeps existing content.
	prefix := []byte{1, 2, 3}
	buf = Append(prefix, &Footer{})
	require.Equal(t, []byte{1, 2, 3}, buf[:3])
	require.Len(t, buf, 3+format.FooterRecordSize)
}

func TestAppendBody_MapsAreSorted(t *testing.T) {
	a := &Channel{ID: 1, Topic: "/t", Metadata: map[string]string{"z": "1", "a": "2", "m": "3"}}
	b := &Channel{ID: 1, Topic: "/t", Metadata: map[string]string{"m": "3", "z": "1", "a": "2"}}
	for range 10 {
		require.Equal(t, Encode(a), Encode(b))
	}

	body := a.AppendBody(nil)
	// id, schema id, topic, encoding, then the map byte length.
	mapStart := 2 + 2 + 4 + 2 + 4
	require.Equal(t, uint32(3*(4+1+4+1)), binary.LittleEndian.Uint32(body[mapStart:]))
	require.Equal(t, "a", string(body[mapStart+8:mapStart+9]))

	stats := &Statistics{ChannelMessageCounts: map[uint16]uint64{9: 1, 2: 5}}
	body = stats.AppendBody(nil)
	mapStart = 8 + 2 + 4*4 + 8 + 8
	require.Equal(t, uint32(20), binary.LittleEndian.Uint32(body[mapStart:]))
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(body[mapStart+4:]))
	require.Equal(t, uint16(9), binary.LittleEndian.Uint16(body[mapStart+14:]))
}

func TestParse_AllVariants(t *testing.T) {
	records := []Record{
		&Header{Profile: "ros1", Library: "mcapkit"},
		&Footer{SummaryStart: 100, SummaryOffsetStart: 200, SummaryCRC: 7},
		&Schema{ID: 1, Name: "pkg/Msg", Encoding: "omgidl", Data: []byte("struct Msg { long a; };")},
		&Channel{ID: 2, SchemaID: 1, Topic: "/a", MessageEncoding: "cdr", Metadata: map[string]string{"k": "v"}},
		&Message{ChannelID: 2, Sequence: 9, LogTime: 10, PublishTime: 11, Data: []byte{1, 2, 3}},
		&Chunk{MessageStartTime: 1, MessageEndTime: 2, UncompressedSize: 3, UncompressedCRC: 4, Compression: "zstd", Records: []byte{5, 6, 7}},
		&MessageIndex{ChannelID: 2, Records: []MessageIndexEntry{{Timestamp: 10, Offset: 0}, {Timestamp: 12, Offset: 40}}},
		&ChunkIndex{
			MessageStartTime: 1, MessageEndTime: 2, ChunkStartOffset: 30, ChunkLength: 80,
			MessageIndexOffsets: map[uint16]uint64{2: 110, 3: 140}, MessageIndexLength: 60,
			Compression: "lz4", CompressedSize: 20, UncompressedSize: 33,
		},
		&Attachment{LogTime: 5, CreateTime: 6, Name: "calib.yaml", MediaType: "text/yaml", Data: []byte("k: v"), CRC: 1},
		&AttachmentIndex{Offset: 1, Length: 2, LogTime: 3, CreateTime: 4, DataSize: 5, Name: "n", MediaType: "m"},
		&Statistics{
			MessageCount: 10, SchemaCount: 1, ChannelCount: 2, AttachmentCount: 3, MetadataCount: 4, ChunkCount: 5,
			MessageStartTime: 6, MessageEndTime: 7, ChannelMessageCounts: map[uint16]uint64{1: 4, 2: 6},
		},
		&Metadata{Name: "device", Metadata: map[string]string{"serial": "42"}},
		&MetadataIndex{Offset: 9, Length: 10, Name: "device"},
		&SummaryOffset{GroupOpcode: format.OpChannel, GroupStart: 11, GroupLength: 12},
		&DataEnd{DataSectionCRC: 13},
	}

	for _, want := range records {
		t.Run(want.Opcode().String(), func(t *testing.T) {
			encoded := Encode(want)
			got, err := Parse(want.Opcode(), encoded[format.RecordPrefixSize:])
			require.NoError(t, err)

			if c, ok := got.(*Chunk); ok {
				require.Equal(t, uint64(len(c.Records)), c.RecordsLength)
				c.RecordsLength = 0
			}
			require.Equal(t, want, got)
		})
	}
}

func TestParse_EmptyCollections(t *testing.T) {
	got, err := Parse(format.OpChannel, (&Channel{ID: 1, Topic: "/x"}).AppendBody(nil))
	require.NoError(t, err)
	require.Empty(t, got.(*Channel).Metadata)

	got, err = Parse(format.OpSchema, (&Schema{ID: 1}).AppendBody(nil))
	require.NoError(t, err)
	require.NotNil(t, got.(*Schema).Data)
	require.Empty(t, got.(*Schema).Data)

	got, err = Parse(format.OpMessage, (&Message{ChannelID: 1}).AppendBody(nil))
	require.NoError(t, err)
	require.Empty(t, got.(*Message).Data)
}

func TestParse_Unknown(t *testing.T) {
	got, err := Parse(0x80, []byte{1, 2, 3})
	require.NoError(t, err)

	u, ok := got.(*Unknown)
	require.True(t, ok)
	require.Equal(t, format.Opcode(0x80), u.Opcode())
	require.Equal(t, uint64(3), u.Length)
	require.Equal(t, []byte{1, 2, 3}, u.Body)

	// Unknown records re-encode to the same bytes.
	require.Equal(t, []byte{0x80, 3, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3}, Encode(u))
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		op   format.Opcode
		body []byte
	}{
		{name: "short footer", op: format.OpFooter, body: make([]byte, 19)},
		{name: "short message", op: format.OpMessage, body: make([]byte, 21)},
		{name: "string past end", op: format.OpHeader, body: []byte{10, 0, 0, 0, 'a'}},
		{name: "bytes past end", op: format.OpSchema, body: []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 9, 0, 0, 0}},
		{name: "truncated map entry", op: format.OpMetadata, body: []byte{0, 0, 0, 0, 6, 0, 0, 0, 1, 0, 0, 0, 'k', 0}},
		{name: "map past end", op: format.OpMetadata, body: []byte{0, 0, 0, 0, 6, 0, 0, 0}},
		{name: "partial index entry", op: format.OpMessageIndex, body: append([]byte{1, 0, 8, 0, 0, 0}, make([]byte, 8)...)},
		{name: "empty data end", op: format.OpDataEnd, body: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.op, tt.body)
			require.ErrorIs(t, err, errs.ErrMalformedRecord)
		})
	}
}

func TestReadAt(t *testing.T) {
	var file []byte
	file = Append(file, &Header{Profile: "p"})
	chunkOffset := uint64(len(file))
	chunk := &Chunk{MessageStartTime: 5, MessageEndTime: 6, UncompressedSize: 4, Compression: "", Records: []byte{1, 2, 3, 4}}
	file = Append(file, chunk)
	unknownOffset := uint64(len(file))
	file = Append(file, &Unknown{Op: 0x7F, Body: []byte{9, 9}})

	src := bytesource.NewBuffer(file)

	rec, n, err := ReadAt(src, 0)
	require.NoError(t, err)
	require.Equal(t, &Header{Profile: "p"}, rec)
	require.Equal(t, chunkOffset, n)

	rec, n, err = ReadAt(src, chunkOffset)
	require.NoError(t, err)
	c := rec.(*Chunk)
	require.False(t, c.Loaded())
	require.Nil(t, c.Records)
	require.Equal(t, uint64(4), c.RecordsLength)
	require.Equal(t, unknownOffset-4, c.RecordsOffset)
	require.Equal(t, unknownOffset-chunkOffset, n)

	data, err := c.Decompress(src)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)

	require.NoError(t, c.Load(src))
	require.Equal(t, []byte{1, 2, 3, 4}, c.Records)

	rec, _, err = ReadAt(src, unknownOffset)
	require.NoError(t, err)
	require.Equal(t, unknownOffset, rec.(*Unknown).Offset)

	t.Run("length past end", func(t *testing.T) {
		bad := AppendPrefix(nil, format.OpHeader, 1000)
		_, _, err := ReadAt(bytesource.NewBuffer(bad), 0)
		require.ErrorIs(t, err, errs.ErrMalformedRecord)
	})

	t.Run("truncated prefix", func(t *testing.T) {
		_, _, err := ReadAt(bytesource.NewBuffer([]byte{1, 2}), 0)
		require.ErrorIs(t, err, errs.ErrUnexpectedEndOfData)
	})
}

func TestParseChunkHeader_Inconsistent(t *testing.T) {
	body := (&Chunk{Compression: "lz4", Records: []byte{1, 2, 3}}).AppendBody(nil)
	src := bytesource.NewBuffer(append(body, 0))

	_, err := ParseChunkHeader(src, 0, uint64(len(body)+1))
	require.ErrorIs(t, err, errs.ErrMalformedRecord)

	_, err = ParseChunkHeader(src, 0, 20)
	require.ErrorIs(t, err, errs.ErrMalformedRecord)

	c, err := ParseChunkHeader(src, 0, uint64(len(body)))
	require.NoError(t, err)
	require.Equal(t, "lz4", c.Compression)
}

func TestChunk_Decompress(t *testing.T) {
	stream := Append(nil, &Message{ChannelID: 1, LogTime: 3, Data: []byte("payload")})

	for _, ct := range []format.CompressionType{format.CompressionNone, format.CompressionLZ4, format.CompressionZstd} {
		t.Run(ct.String(), func(t *testing.T) {
			codec, err := compress.GetCodec(ct)
			require.NoError(t, err)
			compressed, err := codec.Compress(stream)
			require.NoError(t, err)

			c := &Chunk{Compression: ct.WireName(), UncompressedSize: uint64(len(stream)), Records: compressed}
			got, err := c.Decompress(nil)
			require.NoError(t, err)
			require.Equal(t, stream, got)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		c := &Chunk{Compression: "bz2", Records: []byte{1}}
		_, err := c.Decompress(nil)
		require.ErrorIs(t, err, errs.ErrUnsupportedCompression)
	})

	t.Run("lazy without source", func(t *testing.T) {
		c := &Chunk{RecordsLength: 4}
		_, err := c.Decompress(nil)
		require.ErrorIs(t, err, errs.ErrMalformedRecord)
	})
}

func TestParseRecords(t *testing.T) {
	var stream []byte
	stream = Append(stream, &Schema{ID: 1, Name: "s", Encoding: "e"})
	stream = Append(stream, &Channel{ID: 1, SchemaID: 1, Topic: "/a"})
	off1 := uint64(len(stream))
	stream = Append(stream, &Message{ChannelID: 1, LogTime: 20})
	off2 := uint64(len(stream))
	stream = Append(stream, &Message{ChannelID: 1, LogTime: 10})

	var offsets []uint64
	var ops []format.Opcode
	err := ParseRecords(stream, func(offset uint64, rec Record) error {
		offsets = append(offsets, offset)
		ops = append(ops, rec.Opcode())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []format.Opcode{format.OpSchema, format.OpChannel, format.OpMessage, format.OpMessage}, ops)
	require.Equal(t, off1, offsets[2])
	require.Equal(t, off2, offsets[3])

	all, err := ReadAll(stream)
	require.NoError(t, err)
	require.Len(t, all, 4)

	t.Run("trailing bytes", func(t *testing.T) {
		err := ParseRecords(append(stream[:len(stream):len(stream)], 1, 2), func(uint64, Record) error { return nil })
		require.ErrorIs(t, err, errs.ErrMalformedRecord)

		var re *errs.RecordError
		require.ErrorAs(t, err, &re)
		require.Equal(t, uint64(len(stream)), re.Offset)
		require.Equal(t, 4, re.Index)
	})

	t.Run("body past end", func(t *testing.T) {
		bad := AppendPrefix(nil, format.OpMessage, 100)
		err := ParseRecords(bad, func(uint64, Record) error { return nil })
		require.ErrorIs(t, err, errs.ErrMalformedRecord)
	})

	t.Run("callback error", func(t *testing.T) {
		stop := errs.ErrClosed
		err := ParseRecords(stream, func(uint64, Record) error { return stop })
		require.Equal(t, stop, err)
	})

	t.Run("empty", func(t *testing.T) {
		all, err := ReadAll(nil)
		require.NoError(t, err)
		require.Empty(t, all)
	})
}

func TestBuildMessageIndexes(t *testing.T) {
	var stream []byte
	want := map[uint16][]MessageIndexEntry{}
	stream = Append(stream, &Channel{ID: 3, Topic: "/c"})
	for i, ch := range []uint16{3, 1, 3, 1, 2} {
		want[ch] = append(want[ch], MessageIndexEntry{Timestamp: uint64(100 - i), Offset: uint64(len(stream))})
		stream = Append(stream, &Message{ChannelID: ch, LogTime: uint64(100 - i)})
	}

	indexes, err := BuildMessageIndexes(stream)
	require.NoError(t, err)
	require.Len(t, indexes, 3)
	for i, id := range []uint16{1, 2, 3} {
		require.Equal(t, id, indexes[i].ChannelID)
		require.Equal(t, want[id], indexes[i].Records)
	}
	require.Equal(t, 2, indexes[2].Count())
}

func TestCRC(t *testing.T) {
	require.Equal(t, uint32(0xCBF43926), CRC32([]byte("123456789")))

	h := NewCRC32()
	_, _ = h.Write([]byte("1234"))
	_, _ = h.Write([]byte("56789"))
	require.Equal(t, uint32(0xCBF43926), h.Sum32())

	t.Run("chunk", func(t *testing.T) {
		data := []byte("records")
		c := &Chunk{UncompressedCRC: CRC32(data)}
		require.NoError(t, c.VerifyCRC(data))
		require.ErrorIs(t, c.VerifyCRC([]byte("other")), errs.ErrCRCMismatch)

		c.UncompressedCRC = 0
		require.NoError(t, c.VerifyCRC([]byte("other")))
	})

	t.Run("attachment", func(t *testing.T) {
		a := &Attachment{LogTime: 1, Name: "a", MediaType: "b", Data: []byte("c")}
		a.CRC = a.ComputeCRC()
		require.NotZero(t, a.CRC)
		require.NoError(t, a.VerifyCRC())

		body := a.AppendBody(nil)
		require.Equal(t, CRC32(body[:len(body)-4]), a.CRC)

		a.Data = []byte("d")
		require.ErrorIs(t, a.VerifyCRC(), errs.ErrCRCMismatch)
	})
}

func TestChunkIndex_Ranges(t *testing.T) {
	ci := &ChunkIndex{MessageStartTime: 10, MessageEndTime: 20}
	require.True(t, ci.Contains(10, 20))
	require.True(t, ci.Contains(0, 100))
	require.False(t, ci.Contains(11, 20))
	require.True(t, ci.Overlaps(20, 30))
	require.True(t, ci.Overlaps(0, 10))
	require.False(t, ci.Overlaps(21, 30))
	require.False(t, ci.Overlaps(0, 9))
}
