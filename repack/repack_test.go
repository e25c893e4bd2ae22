package repack

import (
	"bytes"
	"cmp"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
	"github.com/arloliu/mcapkit/writer"
)

// buildSource writes count messages on three channels, step nanoseconds
// apart, plus two attachments and a metadata record.
func buildSource(t *testing.T, count int, step uint64, opts ...writer.Option) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := writer.New(&buf, opts...)
	require.NoError(t, err)

	require.NoError(t, w.WriteHeader(&record.Header{Profile: "ros2", Library: "repack_test"}))
	require.NoError(t, w.WriteSchema(&record.Schema{ID: 1, Name: "Imu", Encoding: "omgidl", Data: []byte("struct Imu { double ax; };")}))
	require.NoError(t, w.WriteChannel(&record.Channel{ID: 1, SchemaID: 1, Topic: "/imu", MessageEncoding: "cdr"}))
	require.NoError(t, w.WriteChannel(&record.Channel{ID: 2, SchemaID: 1, Topic: "/imu2", MessageEncoding: "cdr"}))
	require.NoError(t, w.WriteChannel(&record.Channel{ID: 3, Topic: "/blob", MessageEncoding: "bytes", Metadata: map[string]string{"k": "v"}}))

	for i := range count {
		require.NoError(t, w.WriteMessage(&record.Message{
			ChannelID:   uint16(1 + i%3),
			Sequence:    uint32(i),
			LogTime:     uint64(i) * step,
			PublishTime: uint64(i)*step + 1,
			Data:        bytes.Repeat([]byte{byte(i), byte(i >> 8)}, 16),
		}))
		if i == count/2 {
			require.NoError(t, w.WriteAttachment(&record.Attachment{LogTime: uint64(i) * step, Name: "a.bin", MediaType: "application/octet-stream", Data: []byte("payload")}))
		}
	}
	require.NoError(t, w.WriteAttachment(&record.Attachment{Name: "b.txt", MediaType: "text/plain", Data: []byte("tail")}))
	require.NoError(t, w.WriteMetadata(&record.Metadata{Name: "run", Metadata: map[string]string{"id": "42"}}))
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

func repack(t *testing.T, src []byte, opts ...Option) ([]byte, *Result) {
	t.Helper()

	var out bytes.Buffer
	res, err := Repack(openBytes(t, src), &out, opts...)
	require.NoError(t, err)

	return out.Bytes(), res
}

type content struct {
	logTime uint64
	data    []byte
}

func channelContent(t *testing.T, c *container.Container) map[uint16][]content {
	t.Helper()

	out := make(map[uint16][]content)
	for m, err := range c.Messages(0, math.MaxUint64) {
		require.NoError(t, err)
		out[m.ChannelID] = append(out[m.ChannelID], content{logTime: m.LogTime, data: m.Data})
	}
	for _, msgs := range out {
		slices.SortStableFunc(msgs, func(a, b content) int { return cmp.Compare(a.logTime, b.logTime) })
	}

	return out
}

func attachments(t *testing.T, c *container.Container) []*record.Attachment {
	t.Helper()

	var out []*record.Attachment
	for _, idx := range c.AttachmentIndexes() {
		a, err := c.Attachment(idx)
		require.NoError(t, err)
		a.CRC = 0
		out = append(out, a)
	}

	return out
}

func metadata(t *testing.T, c *container.Container) []*record.Metadata {
	t.Helper()

	var out []*record.Metadata
	for _, idx := range c.MetadataIndexes() {
		m, err := c.Metadata(idx)
		require.NoError(t, err)
		out = append(out, m)
	}

	return out
}

func TestRepack_ContentEquivalence(t *testing.T) {
	sources := map[string][]writer.Option{
		"small chunks": {writer.WithChunkSize(200), writer.WithCompression(format.CompressionNone)},
		"zstd":         {writer.WithChunkSize(1024)},
		"unchunked":    {writer.WithChunked(false)},
	}
	targets := []format.CompressionType{format.CompressionNone, format.CompressionLZ4, format.CompressionZstd}

	for name, srcOpts := range sources {
		src := buildSource(t, 90, 1000, srcOpts...)
		sc := openBytes(t, src)

		for _, ct := range targets {
			t.Run(name+"/"+ct.String(), func(t *testing.T) {
				out, res := repack(t, src, WithCompression(ct), WithChunkSize(512), WithChunkDuration(0, 0))
				require.Equal(t, uint64(90), res.Messages)
				require.Equal(t, 2, res.Attachments)
				require.Equal(t, 1, res.Metadata)

				oc := openBytes(t, out, container.WithStrict(true))
				require.NoError(t, oc.Validate())

				require.Equal(t, channelContent(t, sc), channelContent(t, oc))
				require.Equal(t, sc.Schemas(), oc.Schemas())
				require.Equal(t, sc.Channels(), oc.Channels())
				require.Equal(t, attachments(t, sc), attachments(t, oc))
				require.Equal(t, metadata(t, sc), metadata(t, oc))
				require.Equal(t, sc.Header(), oc.Header())
				require.Equal(t, sc.Statistics().MessageCount, oc.Statistics().MessageCount)
				require.Equal(t, sc.Statistics().ChannelMessageCounts, oc.Statistics().ChannelMessageCounts)

				require.Positive(t, res.OutputChunks)
				for _, ci := range oc.ChunkIndexes() {
					require.Equal(t, ct.WireName(), ci.Compression)
				}
			})
		}
	}
}

func TestRepack_CRCs(t *testing.T) {
	out, _ := repack(t, buildSource(t, 30, 1000), WithChunkSize(256), WithChunkDuration(0, 0))
	c := openBytes(t, out, container.WithStrict(true), container.WithSummary(false))
	require.NoError(t, c.Validate())
	require.NotZero(t, c.Footer().SummaryCRC)

	entries, err := c.Records()
	require.NoError(t, err)
	last := entries[len(entries)-1].Record
	require.Equal(t, format.OpDataEnd, last.Opcode())
	require.NotZero(t, last.(*record.DataEnd).DataSectionCRC)

	for _, ci := range c.ChunkIndexes() {
		header, data, err := c.Chunk(ci.ChunkStartOffset)
		require.NoError(t, err)
		require.NotZero(t, header.UncompressedCRC)
		require.Equal(t, record.CRC32(data), header.UncompressedCRC)
	}
}

func TestRepack_ChunkDuration(t *testing.T) {
	// 100ms between messages.
	src := buildSource(t, 40, uint64(100*time.Millisecond), writer.WithChunkSize(64))

	t.Run("default bounds", func(t *testing.T) {
		out, _ := repack(t, src, WithChunkSize(64))
		cis := openBytes(t, out).ChunkIndexes()
		require.Greater(t, len(cis), 1)
		for _, ci := range cis {
			span := ci.MessageEndTime - ci.MessageStartTime
			require.LessOrEqual(t, span, uint64(DefaultChunkMax))
		}
		// Every closed chunk but the last spans at least the minimum.
		for _, ci := range cis[:len(cis)-1] {
			require.GreaterOrEqual(t, ci.MessageEndTime-ci.MessageStartTime, uint64(DefaultChunkMin))
		}
	})

	t.Run("max only", func(t *testing.T) {
		out, _ := repack(t, src, WithChunkSize(1<<20), WithChunkDuration(0, time.Second))
		cis := openBytes(t, out).ChunkIndexes()
		require.Len(t, cis, 4)
		for _, ci := range cis {
			require.LessOrEqual(t, ci.MessageEndTime-ci.MessageStartTime, uint64(time.Second))
		}
	})
}

func TestRepack_ConcurrencyIsDeterministic(t *testing.T) {
	src := buildSource(t, 200, 1000, writer.WithChunkSize(128))

	base, _ := repack(t, src, WithConcurrency(1), WithChunkDuration(0, 0))
	for _, n := range []int{2, 3, 16} {
		out, _ := repack(t, src, WithConcurrency(n), WithChunkDuration(0, 0))
		require.Equal(t, base, out, "concurrency %d", n)
	}
}

func TestRepack_Progress(t *testing.T) {
	src := buildSource(t, 60, 1000, writer.WithChunkSize(128))
	total := len(openBytes(t, src).ChunkIndexes())

	var calls [][2]int
	_, res := repack(t, src, WithConcurrency(2), WithProgress(func(done, total int) {
		calls = append(calls, [2]int{done, total})
	}))

	require.Equal(t, total, res.SourceChunks)
	require.Len(t, calls, total)
	for i, c := range calls {
		require.Equal(t, [2]int{i + 1, total}, c)
	}
}

func TestRepack_CorruptChunk(t *testing.T) {
	src := buildSource(t, 30, 1000, writer.WithCompression(format.CompressionNone), writer.WithChunkSize(256))
	ci := openBytes(t, src).ChunkIndexes()[0]

	// The last byte of the chunk is message payload.
	bad := bytes.Clone(src)
	bad[ci.ChunkStartOffset+ci.ChunkLength-1] ^= 0xFF

	var out bytes.Buffer
	_, err := Repack(openBytes(t, bad), &out)
	require.ErrorIs(t, err, errs.ErrCRCMismatch)

	var re *errs.RecordError
	require.ErrorAs(t, err, &re)
	require.Equal(t, ci.ChunkStartOffset, re.Offset)

	out.Reset()
	_, err = Repack(openBytes(t, bad), &out, WithVerifyCRC(false))
	require.NoError(t, err)
}

func TestRepack_Options(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want error
	}{
		{name: "concurrency", opt: WithConcurrency(0), want: errs.ErrInvalidOption},
		{name: "chunk size", opt: WithChunkSize(-1), want: errs.ErrInvalidOption},
		{name: "duration order", opt: WithChunkDuration(time.Second, time.Millisecond), want: errs.ErrInvalidOption},
		{name: "negative duration", opt: WithChunkDuration(-1, 0), want: errs.ErrInvalidOption},
		{name: "compression", opt: WithCompression(format.CompressionType(9)), want: errs.ErrUnsupportedCompression},
	}

	src := buildSource(t, 3, 1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := Repack(openBytes(t, src), &out, tt.opt)
			require.ErrorIs(t, err, tt.want)
			require.Zero(t, out.Len())
		})
	}
}

func TestRepack_UnknownInsideChunk(t *testing.T) {
	channel := &record.Channel{ID: 1, Topic: "/ext", MessageEncoding: "bytes"}
	inner := record.Append(nil, channel)
	inner = record.Append(inner, &record.Message{ChannelID: 1, LogTime: 10, Data: []byte("a")})
	inner = record.Append(inner, &record.Unknown{Op: 0x80, Body: []byte("ext")})
	inner = record.Append(inner, &record.Message{ChannelID: 1, LogTime: 20, Data: []byte("b")})

	chunk := &record.Chunk{
		MessageStartTime: 10,
		MessageEndTime:   20,
		UncompressedSize: uint64(len(inner)),
		UncompressedCRC:  record.CRC32(inner),
		Records:          inner,
	}
	indexes, err := record.BuildMessageIndexes(inner)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := writer.New(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&record.Header{Profile: "x"}))
	require.NoError(t, w.DeclareChannel(channel))
	require.NoError(t, w.CopyChunk(record.Encode(chunk), chunk, indexes))
	require.NoError(t, w.Close())

	out, res := repack(t, buf.Bytes(), WithCompression(format.CompressionLZ4))
	require.Equal(t, uint64(2), res.Messages)

	c := openBytes(t, out)
	entries, err := c.Records()
	require.NoError(t, err)

	var unknown []*record.Unknown
	for _, e := range entries {
		switch r := e.Record.(type) {
		case *record.Unknown:
			unknown = append(unknown, r)
		case *record.Chunk:
			recs, err := c.ChunkRecords(e.Offset)
			require.NoError(t, err)
			for _, inner := range recs {
				require.Less(t, uint8(inner.Record.Opcode()), uint8(0x80), "chunk kept a %s record", inner.Record.Opcode())
			}
		}
	}
	require.Len(t, unknown, 1)
	require.Equal(t, format.Opcode(0x80), unknown[0].Op)
	require.Equal(t, []byte("ext"), unknown[0].Body)

	require.Equal(t, map[uint16][]content{
		1: {{logTime: 10, data: []byte("a")}, {logTime: 20, data: []byte("b")}},
	}, channelContent(t, c))
}
