package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd builds the `treewatch stop` command, which signals a running
// daemon to shut down gracefully.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := stopDaemon(pidFilePath(cfg.DatabasePath())); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Shutdown signal sent.")

			return nil
		},
	}
}
