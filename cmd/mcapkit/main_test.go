package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/container"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/record"
	"github.com/arloliu/mcapkit/writer"
)

func writeFixture(t *testing.T, dir string) string {
	t.Helper()

	var buf bytes.Buffer
	w, err := writer.New(&buf, writer.WithCompression(format.CompressionLZ4), writer.WithChunkSize(256))
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&record.Header{Profile: "ros2", Library: "cli_test"}))
	require.NoError(t, w.WriteSchema(&record.Schema{
		ID: 1, Name: "geo/msg/Point", Encoding: "omgidl",
		Data: []byte("module geo { module msg { struct Point { double x; double y; }; }; };"),
	}))
	require.NoError(t, w.WriteSchema(&record.Schema{ID: 2, Name: "raw", Encoding: "jsonschema", Data: []byte("{}")}))
	require.NoError(t, w.WriteChannel(&record.Channel{ID: 1, SchemaID: 1, Topic: "/point", MessageEncoding: "cdr"}))
	for i := range 30 {
		require.NoError(t, w.WriteMessage(&record.Message{ChannelID: 1, LogTime: uint64(i * 1_000), Data: make([]byte, 20)}))
	}
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "in.mcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()

	return out.String(), err
}

func openOutput(t *testing.T, path string) *container.Container {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	c, err := container.Open(bytesource.NewBuffer(data), container.WithStrict(true))
	require.NoError(t, err)

	return c
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := writeFixture(t, dir)

	out, err := run(t, "info", "--validate", in)
	require.NoError(t, err)
	require.Contains(t, out, "profile:\tros2")
	require.Contains(t, out, "index:\t\tsummary")
	require.Contains(t, out, "messages:\t30")
	require.Contains(t, out, "/point")
	require.Contains(t, out, "geo/msg/Point")
	require.Contains(t, out, "valid")

	_, err = run(t, "info", filepath.Join(dir, "missing.mcap"))
	require.Error(t, err)
}

func TestCrop(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := writeFixture(t, dir)
	outPath := filepath.Join(dir, "out.mcap")

	out, err := run(t, "crop", "--start", "5000", "--end", "9000", "--compression", "zstd", in, outPath)
	require.NoError(t, err)
	require.Contains(t, out, "messages: 5")

	c := openOutput(t, outPath)
	require.Equal(t, uint64(5), c.Statistics().MessageCount)

	_, err = run(t, "crop", "--compression", "brotli", in, outPath)
	require.Error(t, err)
}

func TestCropFullRangeIsIdentity(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := writeFixture(t, dir)
	outPath := filepath.Join(dir, "out.mcap")

	_, err := run(t, "crop", in, outPath)
	require.NoError(t, err)

	want, err := os.ReadFile(in)
	require.NoError(t, err)
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRepack(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := writeFixture(t, dir)
	outPath := filepath.Join(dir, "out.mcap")

	out, err := run(t, "repack", "--compression", "none", "--chunk-size", "4096", "--concurrency", "2", in, outPath)
	require.NoError(t, err)
	require.Contains(t, out, "messages: 30")

	c := openOutput(t, outPath)
	require.Equal(t, uint64(30), c.Statistics().MessageCount)
	for _, ci := range c.ChunkIndexes() {
		require.Empty(t, ci.Compression)
	}

	_, err = run(t, "repack", "--concurrency", "0", in, outPath)
	require.Error(t, err)
	_, statErr := os.Stat(outPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestSchema(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := writeFixture(t, dir)

	out, err := run(t, "schema", in)
	require.NoError(t, err)
	require.Contains(t, out, "schema 1 geo/msg/Point: root geo::msg::Point")
	require.Contains(t, out, "schema 2 raw: jsonschema encoding, skipped")
	require.Regexp(t, `x\s+double\s+primitive\s+-1`, out)

	out, err = run(t, "schema", "--id", "2", in)
	require.NoError(t, err)
	require.NotContains(t, out, "geo::msg::Point")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := writeFixture(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcapkit.yaml"), []byte("writer:\n  compression: lz4\n"), 0o600))
	outPath := filepath.Join(dir, "out.mcap")

	_, err := run(t, "repack", in, outPath)
	require.NoError(t, err)

	c := openOutput(t, outPath)
	require.NotEmpty(t, c.ChunkIndexes())
	for _, ci := range c.ChunkIndexes() {
		require.Equal(t, "lz4", ci.Compression)
	}

	_, err = run(t, "--config", filepath.Join(dir, "nope.yaml"), "info", in)
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "version")
	require.NoError(t, err)
	require.Equal(t, "dev\n", out)
}
