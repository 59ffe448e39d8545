package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/telemetry"
	"github.com/bootz-dev/bootz/internal/toolchain"
)

func devCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Compile the client and server in watch mode and serve the application.

The listener starts once both targets compiled without errors. Server
changes are hot reloaded; client changes reload connected browsers.

Examples:
  bootz dev
  bootz dev --port 8080 --inspect
  HOST=0.0.0.0 bootz dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := g.logger(stderr)
			defer g.close(cmd.Context())
			opts, err := resolveOptions(cmd, configFile, logger)
			if err != nil {
				return err
			}

			tc := toolchain.New(toolchain.Deps{
				Logger:  logger,
				Metrics: telemetry.NewMetrics(nil),
			})
			return tc.StartDevServer(cmd.Context(), opts)
		},
	}

	addProjectFlags(cmd, &configFile)
	cmd.Flags().IntP("port", "p", config.DefaultPort, "Port to listen on")
	cmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	cmd.Flags().BoolP("inspect", "i", false, "Start the server runtime with --inspect")
	return cmd
}
