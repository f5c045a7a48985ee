package cli

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Long:  `Start the poll scheduler, the history writer and the HTTP API.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, closer, err := setup(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("pideck starting",
		"addr", cfg.ListenAddr,
		"history", cfg.HistoryBackend,
		"poll_interval", cfg.PollInterval,
		"auth", app.Auth.Enabled(),
	)
	return app.Run(cmd.Context())
}
