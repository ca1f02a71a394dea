package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/msssg/internal/build"
	"github.com/conneroisu/msssg/internal/buildcache"
	"github.com/conneroisu/msssg/internal/config"
	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the site bundle",
	Long: `Build the site bundle described by the manifest.

The output directory is removed and recreated. Render and history caches in
the cache directory are reused across builds unless --clean-cache is given.

Examples:
  msssg build                     # Build with .msssg.yml
  msssg build --clean-cache       # Re-render every image
  msssg build --report report.html`,
	RunE: runBuild,
}

var buildCleanCache bool

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildCleanCache, "clean-cache", false, "Remove the build caches before building")
	buildCmd.Flags().String("report", "", "Write an HTML build report to this path")
	buildCmd.Flags().IntP("workers", "w", 0, "Number of parallel render workers (default: number of CPUs)")

	bindFlags(buildCmd.Flags(), map[string]string{
		"report":  "build.report",
		"workers": "build.workers",
	})
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeBuild(ctx, cfg, logger, cmd.OutOrStdout(), buildCleanCache)
}

// executeBuild runs one build and prints its outcome to out.
func executeBuild(ctx context.Context, cfg *config.Config, logger logging.Logger, out io.Writer, cleanCache bool) error {
	if cleanCache {
		if err := buildcache.Clean(cfg.Build.CacheDir); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "🔨 Building site...")

	result, err := build.NewBuilder(cfg, logger).Run(ctx)
	printResult(out, result, err)

	return err
}

func printResult(out io.Writer, result *build.Result, err error) {
	switch {
	case err == nil:
		fmt.Fprintf(out, "✅ Build completed in %s\n", result.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "   Entries:    %d\n", result.Entries)
		fmt.Fprintf(out, "   Assets:     %d (%d files, %d renders)\n", result.Assets, result.Files, result.Renders)
		fmt.Fprintf(out, "   Variants:   %d rendered, %d reused\n", result.Rendered, result.Reused)
		fmt.Fprintf(out, "   Cache:      %d hits, %d misses\n", result.CacheHits, result.CacheMisses)
		fmt.Fprintf(out, "   Resources:  %d (%d deduplicated)\n", result.Store.Resources, result.Store.Deduplicated)
		fmt.Fprintf(out, "   History:    %d redirects, %d deletions\n", result.Redirects, result.Deletions)
	case errors.IsCancellation(err):
		fmt.Fprintln(out, "🛑 Build cancelled")
	default:
		fmt.Fprintln(out, "❌ Build failed")
	}
}
