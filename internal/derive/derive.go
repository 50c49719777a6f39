// Package derive computes expensive per-file data (content hashes,
// symlink targets) behind LRU caches keyed by observed file state.
// Computation always runs outside the view engine's locks so a slow
// hash never blocks change observation.
package derive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/tonimelisma/treewatch/internal/lrucache"
)

// Caches bundles the derived-data caches owned by one engine.
type Caches struct {
	root    string
	content *lrucache.Cache[string]
	symlink *lrucache.Cache[string]
	logger  *slog.Logger
}

// NewCaches creates the derived-data caches for a watched root.
func NewCaches(root string, contentSize, symlinkSize int, logger *slog.Logger) *Caches {
	return &Caches{
		root:    root,
		content: lrucache.New[string](contentSize),
		symlink: lrucache.New[string](symlinkSize),
		logger:  logger,
	}
}

// ContentHash returns the hex BLAKE3 digest of the file identified by
// key, computing and caching it on first access. key.Path is relative
// to the watched root.
func (c *Caches) ContentHash(ctx context.Context, key lrucache.Key) (string, error) {
	return c.content.GetOrCompute(ctx, key, func(context.Context) (string, error) {
		return hashFile(filepath.Join(c.root, filepath.FromSlash(key.Path)))
	})
}

// SymlinkTarget returns the link target of the symlink identified by
// key, computing and caching it on first access.
func (c *Caches) SymlinkTarget(ctx context.Context, key lrucache.Key) (string, error) {
	return c.symlink.GetOrCompute(ctx, key, func(context.Context) (string, error) {
		target, err := os.Readlink(filepath.Join(c.root, filepath.FromSlash(key.Path)))
		if err != nil {
			return "", fmt.Errorf("derive: readlink %s: %w", key.Path, err)
		}

		return target, nil
	})
}

// StoreSymlinkTarget caches a symlink target learned as a byproduct of a
// crawl, avoiding a readlink on first query.
func (c *Caches) StoreSymlinkTarget(key lrucache.Key, target string) {
	c.symlink.Store(key, target)
}

// InvalidatePath erases every cached generation for path from both
// caches. Called from the tree store's mutation path before the
// mutation completes, so a reader can never hit a superseded value.
func (c *Caches) InvalidatePath(path string) {
	erased := c.content.ErasePath(path) + c.symlink.ErasePath(path)
	if erased > 0 {
		c.logger.Debug("derived-data cache invalidated",
			slog.String("path", path), slog.Int("erased", erased))
	}
}

// Clear empties both caches.
func (c *Caches) Clear() {
	c.content.Clear()
	c.symlink.Clear()
}

// ContentHashStats returns the content-hash cache counters.
func (c *Caches) ContentHashStats() lrucache.Stats {
	return c.content.Stats()
}

// SymlinkTargetStats returns the symlink-target cache counters.
func (c *Caches) SymlinkTargetStats() lrucache.Stats {
	return c.symlink.Stats()
}

// hashFile computes the hex BLAKE3 digest of a file using streaming I/O
// (constant memory).
func hashFile(fsPath string) (string, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return "", fmt.Errorf("derive: opening %s for hashing: %w", fsPath, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("derive: hashing %s: %w", fsPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
