// Package config implements TOML configuration loading and validation
// for treewatch. Values resolve defaults -> config file -> CLI flags;
// unknown keys in the config file are fatal with "did you mean?"
// suggestions rather than silently ignored.
package config

// Config is the top-level configuration structure parsed from a TOML
// file. Duration-typed options are strings ("15s", "1h") validated by
// Validate and read through the typed accessors.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Journal  JournalConfig  `toml:"journal"`
	Cookie   CookieConfig   `toml:"cookie"`
	Ageout   AgeoutConfig   `toml:"ageout"`
	Cache    CacheConfig    `toml:"cache"`
	Logging  LoggingConfig  `toml:"logging"`
	Database DatabaseConfig `toml:"database"`
	Roots    []RootConfig   `toml:"root"`
}

// ServerConfig controls the control-surface listener.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// JournalConfig bounds change-journal retention. Cursor needs extend
// retention up to these floors; a consumer stalled past them must fall
// back to a full snapshot.
type JournalConfig struct {
	MaxEntries int    `toml:"max_entries"`
	MaxAge     string `toml:"max_age"`
}

// CookieConfig controls the synchronization cookie protocol.
type CookieConfig struct {
	Timeout string `toml:"timeout"`
}

// AgeoutConfig controls the tombstone sweep.
type AgeoutConfig struct {
	SweepInterval      string `toml:"sweep_interval"`
	TombstoneRetention string `toml:"tombstone_retention"`
}

// CacheConfig bounds the derived-data caches, in entries per root.
type CacheConfig struct {
	ContentEntries int `toml:"content_entries"`
	SymlinkEntries int `toml:"symlink_entries"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// DatabaseConfig locates the cursor database. An empty path means the
// default location under the user data directory.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// RootConfig declares a directory to watch at daemon startup. Roots may
// also be added at runtime through the control surface.
type RootConfig struct {
	Path string `toml:"path"`
}
