// Package cli implements the musicsearch command-line interface.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"musicdiscovery/searchcore/internal/app"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// RuntimeFactory assembles the search stack for one command invocation.
type RuntimeFactory func(ctx context.Context, cfg app.Config, logger *slog.Logger) (*app.Runtime, error)

type options struct {
	logLevel string
	factory  RuntimeFactory
	config   func() app.Config
}

// NewRootCommand builds the command tree. A nil factory uses app.BuildRuntime.
func NewRootCommand(factory RuntimeFactory) *cobra.Command {
	opts := &options{factory: factory, config: app.LoadConfig}
	if opts.factory == nil {
		opts.factory = app.BuildRuntime
	}

	root := &cobra.Command{
		Use:           "musicsearch",
		Short:         "Search music torrent indexes and rank results by audio quality",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr (debug, info, warn, error)")

	root.AddCommand(newSearchCommand(opts))
	root.AddCommand(newProvidersCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the CLI against os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(nil)
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("Error:", err)
		return 1
	}
	return 0
}

func (o *options) logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(o.logLevel)}))
}

func (o *options) runtime(cmd *cobra.Command) (*app.Runtime, error) {
	logger := o.logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return o.factory(cmd.Context(), o.config(), logger)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
