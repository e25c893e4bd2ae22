package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/mcapkit/internal/config"
	"github.com/arloliu/mcapkit/repack"
)

func (a *app) repackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repack <input> <output>",
		Short: "Re-chunk and recompress a container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.repackOptions(cmd)
			if err != nil {
				return err
			}

			c, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			f, commit, err := create(args[1])
			if err != nil {
				return err
			}
			res, err := repack.Repack(c, f, opts...)
			if err := commit(err); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "messages: %d, chunks: %d -> %d\n",
				res.Messages, res.SourceChunks, res.OutputChunks)

			return nil
		},
	}
	cmd.Flags().String("compression", "", "output codec: zstd, lz4 or none (default: writer.compression)")
	cmd.Flags().Int("chunk-size", 0, "uncompressed chunk size threshold in bytes (default: writer.chunk_size)")
	cmd.Flags().Duration("chunk-min", 0, "minimum chunk log time span (default: repack.chunk_min)")
	cmd.Flags().Duration("chunk-max", 0, "maximum chunk log time span (default: repack.chunk_max)")
	cmd.Flags().Int("concurrency", 0, "chunks decoded in parallel (default: repack.concurrency)")
	cmd.Flags().Bool("no-verify", false, "skip CRC verification of source chunks")

	return cmd
}

// repackOptions merges the configuration with the flags set on cmd.
func (a *app) repackOptions(cmd *cobra.Command) ([]repack.Option, error) {
	cfg := *a.cfg
	flags := cmd.Flags()
	if flags.Changed("compression") {
		cfg.Writer.Compression, _ = flags.GetString("compression")
	}
	if flags.Changed("chunk-size") {
		cfg.Writer.ChunkSize, _ = flags.GetInt("chunk-size")
	}
	if flags.Changed("chunk-min") {
		cfg.Repack.ChunkMin, _ = flags.GetDuration("chunk-min")
	}
	if flags.Changed("chunk-max") {
		cfg.Repack.ChunkMax, _ = flags.GetDuration("chunk-max")
	}
	if flags.Changed("concurrency") {
		cfg.Repack.Concurrency, _ = flags.GetInt("concurrency")
	}
	noVerify, _ := flags.GetBool("no-verify")

	ct, err := config.ParseCompression(cfg.Writer.Compression)
	if err != nil {
		return nil, err
	}

	return []repack.Option{
		repack.WithCompression(ct),
		repack.WithChunkSize(cfg.Writer.ChunkSize),
		repack.WithChunkDuration(cfg.Repack.ChunkMin, cfg.Repack.ChunkMax),
		repack.WithConcurrency(cfg.Repack.Concurrency),
		repack.WithVerifyCRC(!noVerify),
		repack.WithLogger(a.logger),
		repack.WithProgress(func(done, total int) {
			a.logger.Debug("repack progress", "chunks", done, "total", total)
		}),
	}, nil
}
