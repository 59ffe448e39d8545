package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/toolchain"
)

// errBuildFailed is returned by build --strict when a target failed to
// compile.
var errBuildFailed = stderrors.New("build finished with compile errors")

func buildCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	var (
		configFile string
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build for production",
		Long: `Build the client and then the server for production.

The output directory is emptied first. Compile errors are reported but do
not change the exit status unless --strict is set.

Examples:
  bootz build
  bootz build -o build
  bootz build -w ./app -c bootz.config.yaml --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := g.logger(stderr)
			defer g.close(cmd.Context())
			opts, err := resolveOptions(cmd, configFile, logger)
			if err != nil {
				return err
			}

			report, err := toolchain.New(toolchain.Deps{Logger: logger}).Build(cmd.Context(), opts)
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), opts, report)
			if strict && report.Failed() {
				return errBuildFailed
			}
			return nil
		},
	}

	addProjectFlags(cmd, &configFile)
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when a target fails to compile")
	return cmd
}

func printReport(w io.Writer, opts *config.BuildOptions, report *toolchain.Report) {
	rel := func(p string) string {
		if r, err := filepath.Rel(opts.WorkingDirectory, p); err == nil {
			return r
		}
		return p
	}
	mark := func(failed bool) string {
		if failed {
			return "\033[31m✗\033[0m"
		}
		return "\033[32m✓\033[0m"
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s client  %s\n", mark(report.Client.HasErrors()), report.Client.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "%s server  %s\n", mark(report.Server.HasErrors()), report.Server.Duration().Round(time.Millisecond))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Output: %s/\n", rel(opts.OutputDirectory))
	fmt.Fprintf(w, "    ├── %s\n", rel(opts.ServerArtifact()))
	fmt.Fprintf(w, "    ├── %s/\n", rel(opts.StaticDir()))
	fmt.Fprintf(w, "    └── %s\n", rel(filepath.Join(opts.OutputDirectory, config.ManifestFile)))
	fmt.Fprintln(w)
}
