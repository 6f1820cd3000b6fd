package main

import (
	"fmt"
	"os"

	"codeberg.org/mutker/thermalctl/internal/config"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("thermalctl failed")
		} else {
			logger.Error().Err(err).Msg("thermalctl failed")
		}
	}

	if closeErr := logger.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", closeErr)
	}

	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "thermalctl",
		Short:         "Closed-loop fan controller driven by a temperature curve",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Console-only until a command knows whether it needs the log file.
			level, _ := cmd.Flags().GetString("log-level")
			parsed, err := logger.ParseLevel(level)
			if err != nil {
				return err
			}
			return logger.Init(logger.Options{Level: parsed, Service: logger.IsService(), Console: cmd.ErrOrStderr()})
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default "+config.DefaultConfigFile+", or $THERMALCTL_CONFIG)")
	flags.String("log-level", "info", "log level: debug, info, warning or error")
	flags.String("curve-file", "", "fan curve file")

	root.AddCommand(
		newRunCommand(),
		newCurveCommand(),
		newVersionCommand(),
	)

	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cmd.Flags(), config.WithConfigFile(path))
	if err != nil {
		return nil, err
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.SetLogLevel(level)
	logger.Debug().Interface("config", cfg).Msg("Config loaded")

	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "thermalctl %s\n", version)
		},
	}
}
