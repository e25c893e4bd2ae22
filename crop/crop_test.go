package crop

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
	"github.com/arloliu/mcapkit/writer"
)

type fixture struct {
	attachments bool
	metadata    bool
}

func buildSource(t *testing.T, fx fixture, opts ...writer.Option) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := writer.New(&buf, append([]writer.Option{writer.WithChunkSize(300)}, opts...)...)
	require.NoError(t, err)

	require.NoError(t, w.WriteHeader(&record.Header{Profile: "crop", Library: "crop_test"}))
	require.NoError(t, w.WriteSchema(&record.Schema{ID: 1, Name: "Pose", Encoding: "omgidl", Data: []byte("struct Pose { double x; double y; };")}))
	require.NoError(t, w.WriteSchema(&record.Schema{ID: 2, Name: "Log", Encoding: "omgidl", Data: []byte("struct Log { string text; };")}))
	require.NoError(t, w.WriteChannel(&record.Channel{ID: 1, SchemaID: 1, Topic: "/pose", MessageEncoding: "cdr"}))
	require.NoError(t, w.WriteChannel(&record.Channel{ID: 2, SchemaID: 2, Topic: "/log", MessageEncoding: "cdr", Metadata: map[string]string{"qos": "reliable"}}))
	require.NoError(t, w.WriteChannel(&record.Channel{ID: 3, Topic: "/raw", MessageEncoding: "bytes"}))

	for i := range 60 {
		require.NoError(t, w.WriteMessage(&record.Message{
			ChannelID: uint16(1 + i%3),
			Sequence:  uint32(i),
			LogTime:   uint64(1000 + i*10),
			Data:      bytes.Repeat([]byte{byte(i)}, 20),
		}))
		if fx.attachments && i%20 == 0 {
			require.NoError(t, w.WriteAttachment(&record.Attachment{
				LogTime: uint64(1000 + i*10), CreateTime: 1, Name: "snap", MediaType: "image/png", Data: []byte{byte(i)},
			}))
		}
	}
	if fx.metadata {
		require.NoError(t, w.WriteMetadata(&record.Metadata{Name: "session", Metadata: map[string]string{"vehicle": "v1"}}))
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func openBytes(t *testing.T, data []byte, opts ...container.Option) *container.Container {
	t.Helper()

	c, err := container.Open(bytesource.NewBuffer(data), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func crop(t *testing.T, src []byte, start, end uint64, opts ...Option) ([]byte, *Result) {
	t.Helper()

	var out bytes.Buffer
	res, err := Crop(openBytes(t, src), &out, start, end, opts...)
	require.NoError(t, err)

	return out.Bytes(), res
}

func allMessages(t *testing.T, c *container.Container) []*record.Message {
	t.Helper()

	var msgs []*record.Message
	for m, err := range c.Messages(0, math.MaxUint64) {
		require.NoError(t, err)
		msgs = append(msgs, m)
	}

	return msgs
}

func TestCrop_RoundTripIdentity(t *testing.T) {
	tests := []struct {
		name string
		opts []writer.Option
	}{
		{name: "zstd", opts: []writer.Option{writer.WithCompression(format.CompressionZstd)}},
		{name: "lz4", opts: []writer.Option{writer.WithCompression(format.CompressionLZ4)}},
		{name: "none", opts: []writer.Option{writer.WithCompression(format.CompressionNone)}},
		{name: "single chunk", opts: []writer.Option{writer.WithChunkSize(writer.DefaultChunkSize)}},
		{name: "unchunked", opts: []writer.Option{writer.WithChunked(false)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := buildSource(t, fixture{attachments: true, metadata: true}, tt.opts...)

			out, res := crop(t, src, 0, math.MaxUint64)
			require.Equal(t, src, out)
			require.Equal(t, uint64(60), res.Messages)
			require.Zero(t, res.RewrittenChunks)
			require.Zero(t, res.DroppedChunks)
			require.Equal(t, 3, res.Attachments)
			require.Equal(t, 1, res.Metadata)
		})
	}
}

func TestCrop_ForeignLayoutKeepsRecords(t *testing.T) {
	// A summary-less file with a zero data CRC, as other writers may produce.
	src := append([]byte{}, format.Magic[:]...)
	for _, rec := range []record.Record{
		&record.Header{Profile: "other"},
		&record.Channel{ID: 1, Topic: "/t", MessageEncoding: "bytes"},
		&record.Message{ChannelID: 1, LogTime: 5, Data: []byte("a")},
		&record.Message{ChannelID: 1, LogTime: 9, Data: []byte("b")},
		&record.DataEnd{},
		&record.Footer{},
	} {
		src = record.Append(src, rec)
	}
	src = append(src, format.Magic[:]...)

	out, res := crop(t, src, 0, math.MaxUint64)
	require.NotEqual(t, src, out)
	require.Equal(t, uint64(2), res.Messages)

	c := openBytes(t, out)
	require.True(t, c.UsedSummary())
	require.Equal(t, allMessages(t, openBytes(t, src)), allMessages(t, c))
}

func TestCrop_RoundTripWithoutSummary(t *testing.T) {
	src := buildSource(t, fixture{metadata: true})

	var out bytes.Buffer
	_, err := Crop(openBytes(t, src, container.WithSummary(false)), &out, 0, math.MaxUint64)
	require.NoError(t, err)
	require.Equal(t, src, out.Bytes())
}

func TestCrop_TimeFilter(t *testing.T) {
	src := buildSource(t, fixture{attachments: true})
	srcMsgs := allMessages(t, openBytes(t, src))

	ranges := [][2]uint64{
		{1000, 1590},
		{1105, 1237},
		{1300, math.MaxUint64},
		{0, 1000},
		{1590, 1590},
		{1234, 1236},
	}

	for _, r := range ranges {
		start, end := r[0], r[1]
		out, res := crop(t, src, start, end)

		for _, strictOpts := range [][]container.Option{
			{container.WithStrict(true)},
			{container.WithStrict(true), container.WithSummary(false)},
		} {
			c := openBytes(t, out, strictOpts...)
			require.NoError(t, c.Validate())

			got := allMessages(t, c)
			var want []*record.Message
			for _, m := range srcMsgs {
				if start <= m.LogTime && m.LogTime <= end {
					want = append(want, m)
				}
			}
			require.Equal(t, want, got, "range [%d, %d]", start, end)
			require.Equal(t, uint64(len(want)), res.Messages)
			require.Equal(t, uint64(len(want)), c.Statistics().MessageCount)

			for _, m := range got {
				_, _, err := c.Resolve(m)
				require.NoError(t, err)
			}

			for _, ai := range c.AttachmentIndexes() {
				require.True(t, start <= ai.LogTime && ai.LogTime <= end)
			}
		}
	}
}

func TestCrop_PartialChunkIsRewritten(t *testing.T) {
	src := buildSource(t, fixture{}, writer.WithCompression(format.CompressionZstd))
	sc := openBytes(t, src)
	first := sc.ChunkIndexes()[1]
	mid := (first.MessageStartTime + first.MessageEndTime) / 2

	out, res := crop(t, src, mid, math.MaxUint64, WithCompression(format.CompressionLZ4))
	require.Equal(t, 1, res.RewrittenChunks)
	require.Equal(t, 1, res.DroppedChunks)

	c := openBytes(t, out, container.WithStrict(true))
	cis := c.ChunkIndexes()
	require.Equal(t, "lz4", cis[0].Compression)
	require.Equal(t, "zstd", cis[1].Compression)
	require.GreaterOrEqual(t, cis[0].MessageStartTime, mid)

	// The rewritten chunk carries the definitions its messages need.
	entries, err := c.ChunkRecords(cis[0].ChunkStartOffset)
	require.NoError(t, err)
	require.Contains(t, []format.Opcode{format.OpSchema, format.OpChannel}, entries[0].Record.Opcode())

	header, data, err := c.Chunk(cis[0].ChunkStartOffset)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), header.UncompressedSize)
	require.NoError(t, header.VerifyCRC(data))
}

func TestCrop_KeepsSourceCompression(t *testing.T) {
	src := buildSource(t, fixture{}, writer.WithCompression(format.CompressionNone))
	out, res := crop(t, src, 1105, 1485)
	require.Positive(t, res.RewrittenChunks)

	for _, ci := range openBytes(t, out).ChunkIndexes() {
		require.Equal(t, "", ci.Compression)
	}
}

func TestCrop_DefinitionsFromDroppedChunk(t *testing.T) {
	src := buildSource(t, fixture{})
	sc := openBytes(t, src)
	second := sc.ChunkIndexes()[2]

	// Every definition lives in the first chunk, which is dropped here.
	out, res := crop(t, src, second.MessageStartTime, math.MaxUint64)
	require.Positive(t, res.CopiedChunks)
	require.Positive(t, res.DroppedChunks)

	c := openBytes(t, out, container.WithSummary(false), container.WithStrict(true))
	require.Len(t, c.Channels(), 3)
	require.Len(t, c.Schemas(), 2)

	entries, err := c.Records()
	require.NoError(t, err)
	require.Contains(t, []format.Opcode{format.OpSchema, format.OpChannel}, entries[1].Record.Opcode())
	for _, e := range entries {
		if e.Record.Opcode() == format.OpChunk {
			break
		}
		require.NotEqual(t, format.OpMessage, e.Record.Opcode())
	}
}

func TestCrop_EmptyRange(t *testing.T) {
	t.Run("no metadata", func(t *testing.T) {
		out, res := crop(t, buildSource(t, fixture{attachments: true}), 5000, 6000)
		require.Zero(t, res.Messages)

		c := openBytes(t, out, container.WithStrict(true))
		entries, err := c.Records()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, format.OpHeader, entries[0].Record.Opcode())
		require.Equal(t, format.OpDataEnd, entries[1].Record.Opcode())
		require.Equal(t, &record.Footer{}, c.Footer())
		require.Equal(t, &record.Header{Profile: "crop", Library: "crop_test"}, c.Header())
	})

	t.Run("metadata is kept", func(t *testing.T) {
		out, res := crop(t, buildSource(t, fixture{metadata: true}), 5000, 6000)
		require.Equal(t, 1, res.Metadata)

		c := openBytes(t, out)
		require.True(t, c.UsedSummary())
		require.Len(t, c.MetadataIndexes(), 1)
		require.Zero(t, c.Statistics().MessageCount)
	})
}

func TestCrop_UnresolvedReference(t *testing.T) {
	// A summary without the channel definition: the fast path accepts the
	// file, but cropping cannot resolve the message.
	data := append([]byte(nil), format.Magic[:]...)
	data = record.Append(data, &record.Header{})
	data = record.Append(data, &record.Message{ChannelID: 7, LogTime: 10})
	data = record.Append(data, &record.DataEnd{})
	summaryStart := uint64(len(data))
	data = record.Append(data, &record.Statistics{MessageCount: 1, ChannelMessageCounts: map[uint16]uint64{}})
	data = record.Append(data, &record.Footer{SummaryStart: summaryStart})
	data = append(data, format.Magic[:]...)

	c := openBytes(t, data)
	require.True(t, c.UsedSummary())

	var out bytes.Buffer
	_, err := Crop(c, &out, 0, math.MaxUint64)
	require.ErrorIs(t, err, errs.ErrUnresolvedReference)

	var re *errs.RecordError
	require.ErrorAs(t, err, &re)
	require.Equal(t, format.OpMessage, re.Opcode)
}

func TestCrop_Options(t *testing.T) {
	src := buildSource(t, fixture{})
	var out bytes.Buffer

	_, err := Crop(openBytes(t, src), &out, 10, 5)
	require.ErrorIs(t, err, errs.ErrInvalidOption)

	_, err = Crop(openBytes(t, src), &out, 0, 1, WithCompression(format.CompressionType(42)))
	require.ErrorIs(t, err, errs.ErrUnsupportedCompression)
	require.ErrorContains(t, err, "invalid crop compression")
}
