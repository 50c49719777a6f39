package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// appDirName is the subdirectory used under the user config and data
// directories.
const appDirName = "treewatch"

// Load reads and parses a TOML config file, validates it, and returns
// the resulting Config. Unknown keys are fatal with "did you mean?"
// suggestions — a silently ignored typo in a config file leads to
// hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns a Config populated with all default values. This supports the
// zero-config first-run experience.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// DefaultConfigPath returns the default config file location under the
// user config directory.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}

	return filepath.Join(base, appDirName, "config.toml")
}

// DefaultDatabasePath returns the default cursor database location
// under the user data directory.
func DefaultDatabasePath() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}

	return filepath.Join(base, appDirName, "cursors.db")
}

// DatabasePath resolves the configured cursor database path, falling
// back to the default location.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}

	return DefaultDatabasePath()
}
