package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/mcapkit/container"
)

func (a *app) infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <input>",
		Short: "Summarise a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validate, _ := cmd.Flags().GetBool("validate")

			c, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			if err := printInfo(cmd.OutOrStdout(), c); err != nil {
				return err
			}
			if validate {
				if err := c.Validate(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "valid")
			}

			return nil
		},
	}
	cmd.Flags().Bool("validate", false, "check records, references and CRCs")

	return cmd
}

func printInfo(out io.Writer, c *container.Container) error {
	if h := c.Header(); h != nil {
		fmt.Fprintf(out, "profile:\t%s\nlibrary:\t%s\n", h.Profile, h.Library)
	}
	source := "scan"
	if c.UsedSummary() {
		source = "summary"
	}
	fmt.Fprintf(out, "index:\t\t%s\n", source)

	stats := c.Statistics()
	start := time.Unix(0, int64(stats.MessageStartTime)).UTC() //nolint: gosec
	end := time.Unix(0, int64(stats.MessageEndTime)).UTC()     //nolint: gosec
	fmt.Fprintf(out, "messages:\t%d\n", stats.MessageCount)
	fmt.Fprintf(out, "start:\t\t%s (%d)\n", start.Format(time.RFC3339Nano), stats.MessageStartTime)
	fmt.Fprintf(out, "end:\t\t%s (%d)\n", end.Format(time.RFC3339Nano), stats.MessageEndTime)
	fmt.Fprintf(out, "chunks:\t\t%d\n", stats.ChunkCount)
	fmt.Fprintf(out, "attachments:\t%d\n", stats.AttachmentCount)
	fmt.Fprintf(out, "metadata:\t%d\n", stats.MetadataCount)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nID\tTOPIC\tSCHEMA\tENCODING\tMESSAGES")
	for _, ch := range c.Channels() {
		name := "-"
		if s, ok := c.Schema(ch.SchemaID); ok {
			name = s.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", ch.ID, ch.Topic, name, ch.MessageEncoding, stats.ChannelMessageCounts[ch.ID])
	}

	return tw.Flush()
}
