// Package walker performs full-subtree crawls of a watched root,
// producing the fresh per-path state used to seed the view engine at
// watch start and to complete recrawls.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/treewatch/internal/notify"
)

// Walker crawls directory trees. Stateless — the root is a parameter of
// Walk, allowing reuse across recrawl generations.
type Walker struct {
	logger *slog.Logger
}

// New creates a Walker.
func New(logger *slog.Logger) *Walker {
	return &Walker{logger: logger}
}

// Walk crawls root and returns the observed state of every entry below
// it, keyed by normalized relative path. Entries that vanish between
// readdir and lstat are skipped. Symlinks are recorded but never
// followed.
func (w *Walker) Walk(ctx context.Context, root string) (map[string]*notify.Info, error) {
	w.logger.Debug("walker starting crawl", slog.String("root", root))

	fresh := make(map[string]*notify.Info)

	walkFn := func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable entries are logged and skipped; the walk must
			// survive partial permission failures.
			w.logger.Warn("walk error", slog.String("path", fsPath), slog.String("error", walkErr.Error()))
			return skipEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fsPath == root {
			return nil
		}

		rel, err := filepath.Rel(root, fsPath)
		if err != nil {
			return fmt.Errorf("walker: computing relative path for %s: %w", fsPath, err)
		}

		path := notify.NormalizePath(rel)

		info, statErr := notify.InfoFor(fsPath)
		if statErr != nil {
			w.logger.Warn("lstat failed during crawl",
				slog.String("path", path), slog.String("error", statErr.Error()))

			return nil
		}

		if info == nil {
			// Vanished between readdir and lstat.
			return nil
		}

		fresh[path] = info

		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("walker: crawl canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("walker: walking %s: %w", root, err)
	}

	w.logger.Debug("walker completed crawl",
		slog.String("root", root), slog.Int("entries", len(fresh)))

	return fresh, nil
}

// skipEntry returns filepath.SkipDir for directories (to skip the
// subtree) or nil for files (to continue with the next entry).
func skipEntry(d os.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
