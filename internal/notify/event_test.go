package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b/c.txt", NormalizePath(filepath.Join("a", "b", "c.txt")))

	// Decomposed (NFD) input normalizes to composed (NFC) form.
	nfd := "caf" + "é"
	nfc := "café"
	assert.Equal(t, nfc, NormalizePath(nfd))

	// Already-composed input is unchanged.
	assert.Equal(t, nfc, NormalizePath(nfc))
}

func TestInfoFor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("12345"), 0o644))

	info, err := InfoFor(file)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, KindRegular, info.Kind)
	assert.Equal(t, int64(5), info.Size)
	assert.NotZero(t, info.Mtime)
	assert.Empty(t, info.SymlinkTarget)

	dirInfo, err := InfoFor(dir)
	require.NoError(t, err)
	require.NotNil(t, dirInfo)
	assert.Equal(t, KindDir, dirInfo.Kind)
}

func TestInfoForVanished(t *testing.T) {
	t.Parallel()

	info, err := InfoFor(filepath.Join(t.TempDir(), "ghost"))
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestInfoForSymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Symlink("target", filepath.Join(dir, "link")))

	info, err := InfoFor(filepath.Join(dir, "link"))
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, KindSymlink, info.Kind)
	assert.Equal(t, "target", info.SymlinkTarget)
}

func TestOpString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "remove", OpRemove.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Op(99).String())
}
