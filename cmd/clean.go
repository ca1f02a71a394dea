package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/msssg/internal/build"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the output bundle and the build caches",
	Long: `Remove the output directory and the cache directory. The next build
starts without URI history, so no redirects or deletions are produced for
URIs served before the clean.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		if err := build.Clean(cfg); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "🧹 Removed %s and %s\n", cfg.Build.Output, cfg.Build.CacheDir)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
