package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treewatch/internal/view"
)

// newQueryCmd builds the `treewatch query` client command.
func newQueryCmd() *cobra.Command {
	var (
		flagCursor string
		flagPrefix string
		flagLong   bool
	)

	cmd := &cobra.Command{
		Use:   "query <directory>",
		Short: "Query the daemon's view of a watched directory",
		Long: "Asks the running daemon for the current view of a watched root.\n" +
			"Without --cursor the full view is printed; with a named cursor only\n" +
			"the changes since that cursor's last query are shown.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			client := newDaemonClient(cfg.Server.Listen)

			req := map[string]string{
				"root":        filepath.Clean(root),
				"cursor":      flagCursor,
				"path_prefix": flagPrefix,
			}

			if flagJSON {
				var raw json.RawMessage
				if err := client.post("/query", req, &raw); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), string(raw))

				return nil
			}

			var result view.QueryResult
			if err := client.post("/query", req, &result); err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if result.Fresh {
				fmt.Fprintf(out, "Full view at tick %d (%d files)\n", result.Tick, len(result.Files))
			} else {
				fmt.Fprintf(out, "Changes through tick %d (%d entries)\n", result.Tick, len(result.Changes))
			}

			if len(result.Changes) > 0 {
				rows := make([][]string, 0, len(result.Changes))
				for _, ch := range result.Changes {
					rows = append(rows, []string{
						strconv.FormatUint(ch.Tick, 10),
						string(ch.Kind),
						ch.Path,
						formatTime(time.Unix(0, ch.At)),
					})
				}

				printTable(out, []string{"TICK", "CHANGE", "PATH", "WHEN"}, rows)
			}

			if len(result.Files) == 0 {
				return nil
			}

			if !flagLong {
				for _, rec := range result.Files {
					fmt.Fprintln(out, rec.Path)
				}

				return nil
			}

			rows := make([][]string, 0, len(result.Files))
			for _, rec := range result.Files {
				rows = append(rows, []string{
					rec.Path,
					string(rec.Kind),
					formatSize(rec.Size),
					formatTime(time.Unix(0, rec.Mtime)),
					strconv.FormatUint(rec.ObservedTick, 10),
				})
			}

			printTable(out, []string{"PATH", "KIND", "SIZE", "MODIFIED", "TICK"}, rows)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagCursor, "cursor", "", "named cursor for incremental results")
	cmd.Flags().StringVar(&flagPrefix, "prefix", "", "restrict results to paths under this prefix")
	cmd.Flags().BoolVarP(&flagLong, "long", "l", false, "show kind, size, mtime, and tick per file")

	return cmd
}
