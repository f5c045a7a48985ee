package cli

import (
	"fmt"

	"pideck/internal/cmdexec"
	"pideck/internal/services"

	"github.com/spf13/cobra"
)

func newLogsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [list|tail]",
		Short: "Inspect viewable logs",
		Long:  `List the log catalog or print the tail of a log, as the dashboard would.`,
	}

	var sortBy string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List viewable logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := setup(opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			sources, err := cfg.LogSources()
			if err != nil {
				return err
			}

			order := services.OrderModTime
			if sortBy == string(services.OrderName) {
				order = services.OrderName
			}
			logJSONCmd(*cmd, newCatalog(cfg, sources, logger).List(order))
			return nil
		},
	}
	listCmd.Flags().StringVar(&sortBy, "sort", string(services.OrderModTime), "sort order: mtime or name")

	var (
		lines int
		grep  string
		raw   bool
	)
	tailCmd := &cobra.Command{
		Use:   "tail <id>",
		Short: "Print the last lines of a log",
		Long: `Print the last lines of a log.

Examples:
  # Last 100 lines of syslog
  pideck logs tail syslog -n 100

  # Error lines only, as plain text
  pideck logs tail nginx_error --grep '/error|crit/' --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)
				return nil
			}

			cfg, logger, closer, err := setup(opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			sources, err := cfg.LogSources()
			if err != nil {
				return err
			}
			tailer := newTailer(cfg, newCatalog(cfg, sources, logger), cmdexec.New(), logger)

			res, err := tailer.Tail(cmd.Context(), services.TailRequest{ID: args[0], Lines: lines, Grep: grep})
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), res.Content)
				return nil
			}
			logJSONCmd(*cmd, res)
			return nil
		},
	}
	tailCmd.Flags().IntVarP(&lines, "lines", "n", services.DefaultTailLines, "number of lines")
	tailCmd.Flags().StringVar(&grep, "grep", "", "filter pattern, regular expression or /regex/")
	tailCmd.Flags().BoolVar(&raw, "raw", false, "print the content only")

	cmd.AddCommand(listCmd, tailCmd)

	return cmd
}
