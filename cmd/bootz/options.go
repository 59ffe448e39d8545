package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bootz-dev/bootz/internal/config"
)

// addProjectFlags registers the flags shared by build and dev. Their names
// match config.FlagKeys.
func addProjectFlags(cmd *cobra.Command, configFile *string) {
	cmd.Flags().StringP("output", "o", config.DefaultOutput, "Output directory")
	cmd.Flags().StringP("working-dir", "w", "", "Working directory (default current directory)")
	cmd.Flags().StringVarP(configFile, "config", "c", config.ConfigFileName, "Configuration file")
}

// resolveOptions merges flags, configuration file, environment and
// defaults into validated build options.
func resolveOptions(cmd *cobra.Command, configFile string, logger *slog.Logger) (*config.BuildOptions, error) {
	opts, err := config.NewLoader(logger).Load(config.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}
	return opts.Resolve()
}
