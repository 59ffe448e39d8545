// Command bootz builds and serves applications split into a client bundle
// and a server bundle.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bootz-dev/bootz/internal/errors"
	"github.com/bootz-dev/bootz/internal/logging"
	"github.com/bootz-dev/bootz/internal/telemetry"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	verbose bool
	json    bool
	noColor bool
	trace   bool

	stopTracing func(context.Context) error
}

// logger builds the command logger. With --trace, finished spans are
// logged too.
func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	logger := logging.New(w, logging.Options{Verbose: g.verbose || g.trace, JSON: g.json})
	if g.trace && g.stopTracing == nil {
		g.stopTracing = telemetry.InstallSpanLogger(logging.Component(logger, "trace"))
	}
	return logger
}

func (g *globalFlags) close(ctx context.Context) {
	if g.stopTracing != nil {
		_ = g.stopTracing(context.WithoutCancel(ctx))
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		errors.Fprint(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "bootz",
		Short: "Build and develop client/server applications",
		Long: `bootz compiles an application made of a client bundle and a server
bundle. "bootz build" produces a production build; "bootz dev" watches
both targets, hot reloads the server and live reloads the browser.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if g.noColor {
				errors.DisableColors()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log debug output")
	root.PersistentFlags().BoolVar(&g.json, "log-json", false, "Log as JSON")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored error output")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "Log timing spans of builds and reloads (implies --verbose)")

	root.AddCommand(
		buildCmd(g, stderr),
		devCmd(g, stderr),
		versionCmd(),
	)
	return root
}
