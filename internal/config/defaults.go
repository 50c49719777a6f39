package config

import "time"

// Default values, chosen to work without any config file.
const (
	defaultListen             = "127.0.0.1:7377"
	defaultJournalMaxEntries  = 100_000
	defaultJournalMaxAge      = "1h"
	defaultCookieTimeout      = "15s"
	defaultSweepInterval      = "1m"
	defaultTombstoneRetention = "10m"
	defaultContentEntries     = 1024
	defaultSymlinkEntries     = 1024
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
)

// DefaultConfig returns a Config populated with all default values. It
// is the starting point for TOML decoding, so unset fields retain their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Listen: defaultListen},
		Journal: JournalConfig{
			MaxEntries: defaultJournalMaxEntries,
			MaxAge:     defaultJournalMaxAge,
		},
		Cookie: CookieConfig{Timeout: defaultCookieTimeout},
		Ageout: AgeoutConfig{
			SweepInterval:      defaultSweepInterval,
			TombstoneRetention: defaultTombstoneRetention,
		},
		Cache: CacheConfig{
			ContentEntries: defaultContentEntries,
			SymlinkEntries: defaultSymlinkEntries,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

// Typed accessors for the duration-string options. Call only after
// Validate has accepted the config.

// CookieTimeout returns the parsed cookie sync bound.
func (c *Config) CookieTimeout() time.Duration {
	return mustDuration(c.Cookie.Timeout)
}

// JournalMaxAge returns the parsed journal age floor.
func (c *Config) JournalMaxAge() time.Duration {
	return mustDuration(c.Journal.MaxAge)
}

// SweepInterval returns the parsed ageout sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return mustDuration(c.Ageout.SweepInterval)
}

// TombstoneRetention returns the parsed tombstone retention.
func (c *Config) TombstoneRetention() time.Duration {
	return mustDuration(c.Ageout.TombstoneRetention)
}

// mustDuration parses a duration string already vetted by Validate.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
