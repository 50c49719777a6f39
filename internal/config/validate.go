package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minCookieTimeout  = 100 * time.Millisecond
	minSweepInterval  = time.Second
	minJournalEntries = 100
)

// validLogLevels and validLogFormats enumerate the accepted logging
// options.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks all configuration values and returns all errors
// found. It accumulates every error rather than stopping at the first,
// so users see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateCookie(&cfg.Cookie)...)
	errs = append(errs, validateAgeout(&cfg.Ageout)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateRoots(cfg.Roots)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	if s.Listen == "" {
		return []error{errors.New("server.listen must not be empty")}
	}

	return nil
}

func validateJournal(j *JournalConfig) []error {
	var errs []error

	if j.MaxEntries != 0 && j.MaxEntries < minJournalEntries {
		errs = append(errs, fmt.Errorf(
			"journal.max_entries must be 0 (unbounded) or at least %d, got %d",
			minJournalEntries, j.MaxEntries))
	}

	if _, err := parseOptionalDuration(j.MaxAge); err != nil {
		errs = append(errs, fmt.Errorf("journal.max_age: %w", err))
	}

	return errs
}

func validateCookie(c *CookieConfig) []error {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return []error{fmt.Errorf("cookie.timeout: %w", err)}
	}

	if d < minCookieTimeout {
		return []error{fmt.Errorf("cookie.timeout must be at least %s, got %s", minCookieTimeout, d)}
	}

	return nil
}

func validateAgeout(a *AgeoutConfig) []error {
	var errs []error

	if d, err := time.ParseDuration(a.SweepInterval); err != nil {
		errs = append(errs, fmt.Errorf("ageout.sweep_interval: %w", err))
	} else if d != 0 && d < minSweepInterval {
		errs = append(errs, fmt.Errorf(
			"ageout.sweep_interval must be 0 (disabled) or at least %s, got %s", minSweepInterval, d))
	}

	if d, err := time.ParseDuration(a.TombstoneRetention); err != nil {
		errs = append(errs, fmt.Errorf("ageout.tombstone_retention: %w", err))
	} else if d < 0 {
		errs = append(errs, errors.New("ageout.tombstone_retention must not be negative"))
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	var errs []error

	if c.ContentEntries < 0 {
		errs = append(errs, errors.New("cache.content_entries must not be negative"))
	}

	if c.SymlinkEntries < 0 {
		errs = append(errs, errors.New("cache.symlink_entries must not be negative"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf(
			"logging.log_level must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf(
			"logging.log_format must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateRoots(roots []RootConfig) []error {
	var errs []error

	seen := make(map[string]bool)

	for i, root := range roots {
		if root.Path == "" {
			errs = append(errs, fmt.Errorf("root[%d].path must not be empty", i))
			continue
		}

		if !filepath.IsAbs(root.Path) {
			errs = append(errs, fmt.Errorf("root[%d].path must be absolute, got %q", i, root.Path))
			continue
		}

		clean := filepath.Clean(root.Path)
		if seen[clean] {
			errs = append(errs, fmt.Errorf("root %q is declared more than once", clean))
		}

		seen[clean] = true
	}

	return errs
}

// parseOptionalDuration parses a duration where the empty string and
// "0" mean disabled.
func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	return time.ParseDuration(s)
}
