package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treewatch/internal/cursordb"
	"github.com/tonimelisma/treewatch/internal/registry"
	"github.com/tonimelisma/treewatch/internal/server"
)

// newWatchCmd builds the `treewatch watch` daemon command.
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [directory...]",
		Short: "Run the daemon, watching configured and listed directories",
		Long: "Starts the treewatch daemon: watches every configured root plus any\n" +
			"directories given on the command line, and serves queries on the\n" +
			"configured listen address until interrupted.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args)
		},
	}

	return cmd
}

// runWatch wires the daemon together: PID file, cursor database, registry,
// control server. Blocks until the shutdown context fires, then tears the
// stack down in reverse order.
func runWatch(parent context.Context, extraRoots []string) error {
	logger, closeLogger, err := buildLogger()
	if err != nil {
		return err
	}
	defer closeLogger()

	ctx := shutdownContext(parent, logger)

	cleanupPID, err := writePIDFile(pidFilePath(cfg.DatabasePath()))
	if err != nil {
		return err
	}
	defer cleanupPID()

	store, err := cursordb.Open(ctx, cfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("opening cursor database: %w", err)
	}
	defer store.Close()

	reg := registry.New(registry.Settings{
		CookieTimeout:      cfg.CookieTimeout(),
		SweepInterval:      cfg.SweepInterval(),
		TombstoneRetention: cfg.TombstoneRetention(),
		JournalMaxEntries:  cfg.Journal.MaxEntries,
		JournalMaxAge:      cfg.JournalMaxAge(),
		ContentCacheSize:   cfg.Cache.ContentEntries,
		SymlinkCacheSize:   cfg.Cache.SymlinkEntries,
	}, store, logger)
	defer reg.CloseAll()

	roots := make([]string, 0, len(cfg.Roots)+len(extraRoots))
	for _, rc := range cfg.Roots {
		roots = append(roots, rc.Path)
	}

	roots = append(roots, extraRoots...)

	for _, root := range roots {
		if _, err := reg.Watch(ctx, root); err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}

		logger.Info("watching root", slog.String("root", root))
	}

	srv := server.New(cfg.Server.Listen, reg, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	logger.Info("daemon ready",
		slog.String("listen", srv.Addr()),
		slog.Int("roots", len(roots)),
	)

	<-ctx.Done()

	if err := srv.Stop(); err != nil {
		logger.Warn("server shutdown", slog.Any("error", err))
	}

	logger.Info("daemon stopped")

	return nil
}
