package view

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// cookiePrefix marks the synthetic files written into the watched root
// to fence the notification stream. Events for these paths are observed
// by the synchronizer and hidden from query and subscription results.
const cookiePrefix = ".treewatch-cookie-"

// PlantFunc writes an empty cookie file. The default implementation
// touches the file on disk; tests substitute one that also injects the
// matching event into a fake backend.
type PlantFunc func(dir, name string) error

// CookieJar implements the cookie synchronization protocol: a uniquely
// named marker is written into the watched root, and its own creation
// event round-tripping through the ingestion path proves everything
// before that instant has been observed. Raw notification streams can
// coalesce, drop, or reorder — the cookie is the only reliable fence.
type CookieJar struct {
	dir      string
	plant    PlantFunc
	escalate func(reason string)
	logger   *slog.Logger

	mu    sync.Mutex
	waits map[string]chan uint64
}

// NewCookieJar creates a jar planting cookies in dir. escalate is
// invoked on timeout to schedule a recrawl (the scheduler coalesces, so
// concurrent failing syncs cause exactly one recrawl). plant may be nil
// for the default on-disk behavior.
func NewCookieJar(dir string, plant PlantFunc, escalate func(reason string), logger *slog.Logger) *CookieJar {
	if plant == nil {
		plant = plantOnDisk
	}

	return &CookieJar{
		dir:      dir,
		plant:    plant,
		escalate: escalate,
		logger:   logger,
		waits:    make(map[string]chan uint64),
	}
}

// SyncToNow plants a cookie and blocks until its creation event arrives
// through ingestion or timeout elapses. On success it returns the tick
// at which the cookie was observed: every real mutation before the call
// is guaranteed visible at that tick. On timeout it schedules a recrawl
// and returns ErrBackendUnresponsive — a failed sync must never be
// silently treated as success.
//
// The caller must not hold any engine lock; the wait itself takes none.
func (c *CookieJar) SyncToNow(ctx context.Context, timeout time.Duration) (uint64, error) {
	name := cookiePrefix + uuid.NewString()
	ch := make(chan uint64, 1)

	c.mu.Lock()
	c.waits[name] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waits, name)
		c.mu.Unlock()

		os.Remove(filepath.Join(c.dir, name))
	}()

	if err := c.plant(c.dir, name); err != nil {
		return 0, fmt.Errorf("view: planting cookie %s: %w", name, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("view: cookie sync canceled: %w", ctx.Err())

	case tick := <-ch:
		c.logger.Debug("cookie observed", slog.String("cookie", name), slog.Uint64("tick", tick))
		return tick, nil

	case <-timer.C:
		c.logger.Warn("cookie sync timed out, scheduling recrawl",
			slog.String("cookie", name), slog.Duration("timeout", timeout))
		c.escalate("cookie sync timeout")

		return 0, ErrBackendUnresponsive
	}
}

// Observe delivers the tick at which a cookie's event was ingested.
// Returns true when path is a cookie (whether or not a waiter remains),
// so the caller can keep cookie noise out of consumer-visible results.
func (c *CookieJar) Observe(path string, tick uint64) bool {
	if !IsCookiePath(path) {
		return false
	}

	c.mu.Lock()
	ch, ok := c.waits[filepath.Base(path)]
	c.mu.Unlock()

	if ok {
		select {
		case ch <- tick:
		default:
		}
	}

	return true
}

// IsCookiePath reports whether path names a synchronization cookie.
func IsCookiePath(path string) bool {
	return strings.HasPrefix(filepath.Base(path), cookiePrefix)
}

// plantOnDisk is the production PlantFunc: touch the cookie file so the
// OS notification backend sees a real creation.
func plantOnDisk(dir, name string) error {
	return os.WriteFile(filepath.Join(dir, name), nil, 0o644)
}
