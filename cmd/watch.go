package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/msssg/internal/build"
	"github.com/conneroisu/msssg/internal/config"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/watcher"
	"github.com/conneroisu/msssg/internal/websocket"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Build, then rebuild whenever a source file changes",
	Long: `Build the site, then watch the configured paths and rebuild after each
burst of changes. With --notify-addr, every finished build is announced as a
JSON message to WebSocket clients connected to ` + websocket.Path + `.

Examples:
  msssg watch
  msssg watch --notify-addr 127.0.0.1:35729`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("notify-addr", "", "Address for the build notification WebSocket server")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a rebuild (default 300ms)")

	bindFlags(watchCmd.Flags(), map[string]string{
		"notify-addr": "watch.notify_addr",
		"debounce":    "watch.debounce",
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeWatch(ctx, cfg, logger, cmd.OutOrStdout())
}

// executeWatch builds once and then rebuilds on change until ctx is done.
// Build failures are reported and do not end the watch.
func executeWatch(ctx context.Context, cfg *config.Config, logger logging.Logger, out io.Writer) error {
	builder := build.NewBuilder(cfg, logger)

	var notifier *websocket.Manager
	if cfg.Watch.NotifyAddr != "" {
		notifier = websocket.NewManager(nil, logger)
		addr, err := notifier.Serve(ctx, cfg.Watch.NotifyAddr)
		if err != nil {
			return err
		}
		builder.AddCallback(func(result *build.Result) {
			notifier.Broadcast(notification(result))
		})
		fmt.Fprintf(out, "📡 Notifying clients at ws://%s%s\n", addr, websocket.Path)
	}

	fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return err
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.ExcludeFilter(cfg.Build.Output, cfg.Build.CacheDir))

	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		fmt.Fprintf(out, "📁 %d file(s) changed\n", len(events))
		if notifier != nil {
			changed := make([]string, len(events))
			for i, e := range events {
				changed[i] = e.Path
			}
			notifier.Broadcast(websocket.Message{Type: websocket.MessageBuildStarted, Changed: changed})
		}

		result, err := builder.Run(ctx)
		printResult(out, result, err)
		if err != nil {
			fmt.Fprintln(out, "  ", err)
		}

		return nil
	})

	for _, path := range cfg.Watch.Paths {
		if err := fw.AddRecursive(path); err != nil {
			return err
		}
		fmt.Fprintf(out, "   - Watching: %s\n", path)
	}

	result, err := builder.Run(ctx)
	printResult(out, result, err)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		fmt.Fprintln(out, "  ", err)
	}

	fw.Start(ctx)
	fmt.Fprintln(out, "👀 Watching for changes... (Press Ctrl+C to stop)")

	<-ctx.Done()
	fmt.Fprintln(out, "🛑 Stopping watch")

	return nil
}

func notification(result *build.Result) websocket.Message {
	msg := websocket.Message{
		Type:       websocket.MessageBuildSucceeded,
		DurationMS: result.Duration.Milliseconds(),
		Assets:     result.Assets,
		Rendered:   result.Rendered,
		Redirects:  result.Redirects,
		Deletions:  result.Deletions,
	}
	if result.Error != nil {
		msg.Type = websocket.MessageBuildFailed
		msg.Error = result.Error.Error()
	}

	return msg
}
