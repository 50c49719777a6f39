package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// statusReply mirrors the daemon's /status response.
type statusReply struct {
	Roots []struct {
		Root           string   `json:"root"`
		Tick           uint64   `json:"tick"`
		RecrawlState   string   `json:"recrawl_state"`
		RecrawlReasons []string `json:"recrawl_reasons"`
		RecrawlCount   uint64   `json:"recrawl_count"`
		Cursors        int      `json:"cursors"`
		Subscriptions  []string `json:"subscriptions"`
		Poisoned       string   `json:"poisoned"`
	} `json:"roots"`
}

// newStatusCmd builds the `treewatch status` client command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's watched roots and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newDaemonClient(cfg.Server.Listen)

			if flagJSON {
				var raw json.RawMessage
				if err := client.get("/status", nil, &raw); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), string(raw))

				return nil
			}

			var reply statusReply
			if err := client.get("/status", nil, &reply); err != nil {
				return err
			}

			if len(reply.Roots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No roots watched.")

				return nil
			}

			rows := make([][]string, 0, len(reply.Roots))

			for _, r := range reply.Roots {
				state := r.RecrawlState
				if r.Poisoned != "" {
					state = "poisoned: " + r.Poisoned
				} else if len(r.RecrawlReasons) > 0 {
					state += " (" + strings.Join(r.RecrawlReasons, ", ") + ")"
				}

				rows = append(rows, []string{
					r.Root,
					strconv.FormatUint(r.Tick, 10),
					state,
					strconv.FormatUint(r.RecrawlCount, 10),
					strconv.Itoa(r.Cursors),
					strconv.Itoa(len(r.Subscriptions)),
				})
			}

			printTable(cmd.OutOrStdout(),
				[]string{"ROOT", "TICK", "STATE", "CRAWLS", "CURSORS", "SUBS"},
				rows,
			)

			return nil
		},
	}
}
