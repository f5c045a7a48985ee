// Package cli wires PiDeck's components behind cobra commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pideck/internal/config"
	"pideck/internal/logging"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile string
}

// NewRootCmd returns the pideck command tree. Running it without a
// subcommand serves the dashboard.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "pideck",
		Short:         "Raspberry Pi admin dashboard",
		Long:          `PiDeck serves live system metrics, history, alerts and log viewing for a single Raspberry Pi.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before the environment")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSnapshotCmd(opts),
		newLogsCmd(opts),
	)

	return rootCmd
}

// Execute runs the command tree with a context cancelled on SIGINT or
// SIGTERM.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logErrorCmd(*cmd, err)
		return 1
	}
	return 0
}

// setup loads the configuration and builds the application logger.
func setup(opts *rootOptions) (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	return cfg, logger, closer, nil
}
