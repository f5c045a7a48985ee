package cli

import (
	"pideck/internal/cmdexec"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print one system snapshot",
		Long: `Collect a single system snapshot and print it as JSON.

Disk and network rates need two counter reads, so this takes at least the
bootstrap delay (PIDECK_BOOTSTRAP_DELAY).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := setup(opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			monitor := newMonitor(cfg, newHostSource(cfg, cmdexec.New(), logger), nil, nil, logger)
			logJSONCmd(*cmd, monitor.GetSnapshot(cmd.Context()))
			return nil
		},
	}
}
