package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[server]
listen = "127.0.0.1:9000"

[journal]
max_entries = 5000
max_age = "30m"

[cookie]
timeout = "5s"

[ageout]
sweep_interval = "2m"
tombstone_retention = "1h"

[cache]
content_entries = 64
symlink_entries = 32

[logging]
log_level = "debug"
log_format = "json"

[database]
path = "/var/lib/treewatch/cursors.db"

[[root]]
path = "/srv/project"

[[root]]
path = "/srv/other"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, 5000, cfg.Journal.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.JournalMaxAge())
	assert.Equal(t, 5*time.Second, cfg.CookieTimeout())
	assert.Equal(t, 2*time.Minute, cfg.SweepInterval())
	assert.Equal(t, time.Hour, cfg.TombstoneRetention())
	assert.Equal(t, 64, cfg.Cache.ContentEntries)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "/var/lib/treewatch/cursors.db", cfg.DatabasePath())

	require.Len(t, cfg.Roots, 2)
	assert.Equal(t, "/srv/project", cfg.Roots[0].Path)
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[cookie]
timeout = "3s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.CookieTimeout())
	assert.Equal(t, defaultListen, cfg.Server.Listen)
	assert.Equal(t, defaultJournalMaxEntries, cfg.Journal.MaxEntries)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Server.Listen)
	assert.Empty(t, cfg.Roots)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[cookie]
timeeout = "3s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), `"cookie.timeout"`)
}

func TestLoadRejectsUnknownKeyNoSuggestion(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
completely_wrong_section_name_here = true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoadMalformedToml(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `[server` + "\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestDatabasePathDefault(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Contains(t, cfg.DatabasePath(), appDirName)
}
