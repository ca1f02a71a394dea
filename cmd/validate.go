package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/msssg/internal/build"
	"github.com/conneroisu/msssg/internal/config"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and manifest without building",
	Long: `Load the configuration and the manifest, check that every manifest path
exists and that every configured image format has an encoder. Nothing is
written.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	return executeValidate(cfg, logger, cmd.OutOrStdout())
}

func executeValidate(cfg *config.Config, logger logging.Logger, out io.Writer) error {
	m, err := build.NewBuilder(cfg, logger).Validate()
	if err != nil {
		fmt.Fprintln(out, "❌ Validation failed")
		return err
	}

	counts := m.Counts()
	fmt.Fprintf(out, "✅ %s is valid: %d entries (%d resources, %d permalinks, %d redirects)\n",
		cfg.Build.Manifest,
		len(m.Entries),
		counts[manifest.ActionResource],
		counts[manifest.ActionPermalink],
		counts[manifest.ActionRedirect])

	return nil
}
