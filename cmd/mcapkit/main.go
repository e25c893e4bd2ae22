// Command mcapkit inspects, crops and repacks log containers.
//
// Logging:
//   - The base logger is a text handler on stderr, at the configured level
//   - It is passed to every package through its WithLogger option
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arloliu/mcapkit/internal/config"
	"github.com/arloliu/mcapkit/internal/logging"
)

var version = "dev"

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "mcapkit",
		Short:        "Inspect, crop and repack log containers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			level, err := cfg.LogLevel()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.NewText(cmd.ErrOrStderr(), level)

			return nil
		},
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./mcapkit.yaml when present)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(a.infoCmd(), a.cropCmd(), a.repackCmd(), a.schemaCmd(), versionCmd)

	return rootCmd
}
