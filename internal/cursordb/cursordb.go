// Package cursordb persists named cursor positions in an embedded
// SQLite database, so consumers keep their incremental place across
// daemon restarts. The view engine itself is purely in-memory; this is
// the only durable state the daemon carries.
package cursordb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// SQLiteStore is the durable cursor store. Safe for concurrent use.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	stmts cursorStatements
}

type cursorStatements struct {
	save, del, load *sql.Stmt
}

// Open opens (creating if needed) the cursor database at dbPath,
// applies migrations, and prepares the repeated statements. Use
// ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening cursor database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cursordb: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cursordb: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("cursordb: %s: %w", pragma, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose
// v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("cursordb: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("cursordb: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("cursordb: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// prepareStatements readies the statements used on every query path.
func (s *SQLiteStore) prepareStatements(ctx context.Context) error {
	var err error

	if s.stmts.save, err = s.db.PrepareContext(ctx,
		`INSERT INTO cursors (root, name, tick, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (root, name) DO UPDATE SET
		   tick = MAX(tick, excluded.tick),
		   updated_at = excluded.updated_at`); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	if s.stmts.del, err = s.db.PrepareContext(ctx,
		`DELETE FROM cursors WHERE root = ? AND name = ?`); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if s.stmts.load, err = s.db.PrepareContext(ctx,
		`SELECT name, tick FROM cursors WHERE root = ?`); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	return nil
}

// SaveCursor upserts a cursor position. The MAX in the upsert keeps the
// on-disk cursor monotone even under racing writers.
func (s *SQLiteStore) SaveCursor(ctx context.Context, root, name string, tick uint64) error {
	if _, err := s.stmts.save.ExecContext(ctx, root, name, int64(tick), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("cursordb: saving cursor %s for %s: %w", name, root, err)
	}

	return nil
}

// DeleteCursor removes a cursor. Deleting an unknown cursor is a no-op.
func (s *SQLiteStore) DeleteCursor(ctx context.Context, root, name string) error {
	if _, err := s.stmts.del.ExecContext(ctx, root, name); err != nil {
		return fmt.Errorf("cursordb: deleting cursor %s for %s: %w", name, root, err)
	}

	return nil
}

// LoadCursors returns all persisted cursors for root.
func (s *SQLiteStore) LoadCursors(ctx context.Context, root string) (map[string]uint64, error) {
	rows, err := s.stmts.load.QueryContext(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("cursordb: loading cursors for %s: %w", root, err)
	}
	defer rows.Close()

	cursors := make(map[string]uint64)

	for rows.Next() {
		var name string
		var tick int64

		if err := rows.Scan(&name, &tick); err != nil {
			return nil, fmt.Errorf("cursordb: scanning cursor row: %w", err)
		}

		cursors[name] = uint64(tick)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cursordb: iterating cursor rows: %w", err)
	}

	return cursors, nil
}

// Close releases the prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmts.save, s.stmts.del, s.stmts.load} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cursordb: closing database: %w", err)
	}

	return nil
}
