package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/arloliu/mcapkit/crop"
	"github.com/arloliu/mcapkit/internal/config"
)

func (a *app) cropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crop <input> <output>",
		Short: "Extract a log time range into a new container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetUint64("start")
			end, _ := cmd.Flags().GetUint64("end")
			compression, _ := cmd.Flags().GetString("compression")

			opts := []crop.Option{crop.WithLogger(a.logger)}
			if compression != "" {
				ct, err := config.ParseCompression(compression)
				if err != nil {
					return err
				}
				opts = append(opts, crop.WithCompression(ct))
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
			res, err := crop.Crop(c, f, start, end, opts...)
			if err := commit(err); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "messages: %d, chunks copied: %d, rewritten: %d, dropped: %d\n",
				res.Messages, res.CopiedChunks, res.RewrittenChunks, res.DroppedChunks)

			return nil
		},
	}
	cmd.Flags().Uint64("start", 0, "first log time to keep, in nanoseconds")
	cmd.Flags().Uint64("end", math.MaxUint64, "last log time to keep, in nanoseconds")
	cmd.Flags().String("compression", "", "codec of rewritten chunks: zstd, lz4 or none (default: keep the source codec)")

	return cmd
}
