package derive

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/treewatch/internal/lrucache"
)

func newTestCaches(t *testing.T) (*Caches, string) {
	t.Helper()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewCaches(root, 16, 16, logger), root
}

func writeFile(t *testing.T, root, rel, content string) lrucache.Key {
	t.Helper()

	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

	fi, err := os.Lstat(full)
	require.NoError(t, err)

	return lrucache.Key{Path: rel, Size: fi.Size(), Mtime: fi.ModTime().UnixNano()}
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	caches, root := newTestCaches(t)
	ctx := context.Background()

	keyA := writeFile(t, root, "a.txt", "hello")
	keyB := writeFile(t, root, "b.txt", "world")

	hashA, err := caches.ContentHash(ctx, keyA)
	require.NoError(t, err)
	assert.Len(t, hashA, 64)

	hashB, err := caches.ContentHash(ctx, keyB)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)

	// Second access is served from cache.
	again, err := caches.ContentHash(ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, hashA, again)

	stats := caches.ContentHashStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Loads)
}

func TestContentHashSameContentSamePath(t *testing.T) {
	t.Parallel()

	caches, root := newTestCaches(t)
	ctx := context.Background()

	key := writeFile(t, root, "nested/dir/file.txt", "content")

	first, err := caches.ContentHash(ctx, key)
	require.NoError(t, err)

	// Identical content written elsewhere hashes identically.
	other := writeFile(t, root, "copy.txt", "content")

	second, err := caches.ContentHash(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestContentHashMissingFile(t *testing.T) {
	t.Parallel()

	caches, _ := newTestCaches(t)

	_, err := caches.ContentHash(context.Background(), lrucache.Key{Path: "ghost.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// The failure was not cached.
	assert.Equal(t, 0, caches.ContentHashStats().Size)
}

func TestSymlinkTarget(t *testing.T) {
	t.Parallel()

	caches, root := newTestCaches(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "target.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink("target.txt", filepath.Join(root, "link")))

	key := lrucache.Key{Path: "link"}

	target, err := caches.SymlinkTarget(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)

	target, err = caches.SymlinkTarget(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)

	stats := caches.SymlinkTargetStats()
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestStoreSymlinkTargetSkipsReadlink(t *testing.T) {
	t.Parallel()

	caches, _ := newTestCaches(t)

	// No link exists on disk; the crawl-provided value answers anyway.
	key := lrucache.Key{Path: "phantom-link"}
	caches.StoreSymlinkTarget(key, "elsewhere")

	target, err := caches.SymlinkTarget(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", target)

	stats := caches.SymlinkTargetStats()
	assert.Equal(t, uint64(1), stats.Stores)
	assert.Equal(t, uint64(0), stats.Loads)
}

func TestInvalidatePath(t *testing.T) {
	t.Parallel()

	caches, root := newTestCaches(t)
	ctx := context.Background()

	key := writeFile(t, root, "a.txt", "v1")

	_, err := caches.ContentHash(ctx, key)
	require.NoError(t, err)

	caches.InvalidatePath("a.txt")

	assert.Equal(t, 0, caches.ContentHashStats().Size)
	assert.Equal(t, uint64(1), caches.ContentHashStats().Erases)
}

func TestClear(t *testing.T) {
	t.Parallel()

	caches, root := newTestCaches(t)
	ctx := context.Background()

	key := writeFile(t, root, "a.txt", "v1")

	_, err := caches.ContentHash(ctx, key)
	require.NoError(t, err)

	caches.Clear()

	assert.Equal(t, 0, caches.ContentHashStats().Size)
	assert.Equal(t, uint64(1), caches.ContentHashStats().Clears)
	assert.Equal(t, uint64(1), caches.SymlinkTargetStats().Clears)
}
