// Package registry manages the set of watched roots: one view engine
// plus one notification backend per root, started on watch and torn
// down on unwatch or daemon shutdown.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tonimelisma/treewatch/internal/derive"
	"github.com/tonimelisma/treewatch/internal/notify"
	"github.com/tonimelisma/treewatch/internal/view"
)

// Sentinel errors for watch management.
var (
	ErrAlreadyWatched = errors.New("registry: root is already watched")
	ErrNotWatched     = errors.New("registry: root is not watched")
)

// Settings carries the per-root engine tuning shared by all watches.
type Settings struct {
	CookieTimeout      time.Duration
	SweepInterval      time.Duration
	TombstoneRetention time.Duration
	JournalMaxEntries  int
	JournalMaxAge      time.Duration
	ContentCacheSize   int
	SymlinkCacheSize   int
}

// watched is one root's engine with its backend and lifecycle handles.
type watched struct {
	engine  *view.Engine
	backend *notify.FsWatcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Registry owns all watched roots. Safe for concurrent use.
type Registry struct {
	settings Settings
	persist  view.CursorStore
	logger   *slog.Logger

	mu    sync.Mutex
	roots map[string]*watched
}

// New creates an empty registry. persist may be nil for in-memory-only
// cursors.
func New(settings Settings, persist view.CursorStore, logger *slog.Logger) *Registry {
	return &Registry{
		settings: settings,
		persist:  persist,
		logger:   logger,
		roots:    make(map[string]*watched),
	}
}

// Watch starts watching root: registers the OS notification backend,
// assembles a view engine with derived-data caches, and kicks off the
// initial crawl. root is cleaned to its canonical absolute form.
func (r *Registry) Watch(ctx context.Context, root string) (*view.Engine, error) {
	root, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roots[root]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWatched, root)
	}

	backend, err := notify.NewFsWatcher(root, r.logger)
	if err != nil {
		return nil, fmt.Errorf("registry: starting backend for %s: %w", root, err)
	}

	caches := derive.NewCaches(root, r.settings.ContentCacheSize, r.settings.SymlinkCacheSize, r.logger)

	engine := view.NewEngine(view.Options{
		Root:               root,
		CookieTimeout:      r.settings.CookieTimeout,
		SweepInterval:      r.settings.SweepInterval,
		TombstoneRetention: r.settings.TombstoneRetention,
		JournalMaxEntries:  r.settings.JournalMaxEntries,
		JournalMaxAge:      r.settings.JournalMaxAge,
	}, backend, caches, r.persist, r.logger)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		var wg sync.WaitGroup

		wg.Add(1)

		go func() {
			defer wg.Done()

			if runErr := backend.Run(runCtx); runErr != nil {
				r.logger.Error("notification backend stopped",
					slog.String("root", root), slog.String("error", runErr.Error()))
			}
		}()

		if runErr := engine.Run(runCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			r.logger.Error("view engine stopped",
				slog.String("root", root), slog.String("error", runErr.Error()))
		}

		wg.Wait()
	}()

	r.roots[root] = &watched{engine: engine, backend: backend, cancel: cancel, done: done}

	r.logger.Info("watching root", slog.String("root", root))

	return engine, nil
}

// Unwatch stops watching root and tears down its engine.
func (r *Registry) Unwatch(root string) error {
	root, err := canonicalRoot(root)
	if err != nil {
		return err
	}

	r.mu.Lock()
	w, ok := r.roots[root]
	delete(r.roots, root)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWatched, root)
	}

	r.teardown(root, w)

	return nil
}

// Get returns the engine for root.
func (r *Registry) Get(root string) (*view.Engine, error) {
	root, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.roots[root]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWatched, root)
	}

	return w.engine, nil
}

// Roots returns the watched roots, sorted.
func (r *Registry) Roots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	roots := make([]string, 0, len(r.roots))
	for root := range r.roots {
		roots = append(roots, root)
	}

	sort.Strings(roots)

	return roots
}

// CloseAll tears down every watched root. Called on daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	roots := make(map[string]*watched, len(r.roots))

	for root, w := range r.roots {
		roots[root] = w
		delete(r.roots, root)
	}
	r.mu.Unlock()

	for root, w := range roots {
		r.teardown(root, w)
	}
}

// teardown cancels a watch and waits for its goroutines to drain.
func (r *Registry) teardown(root string, w *watched) {
	w.cancel()

	if err := w.backend.Close(); err != nil {
		r.logger.Warn("closing notification backend",
			slog.String("root", root), slog.String("error", err.Error()))
	}

	<-w.done

	r.logger.Info("stopped watching root", slog.String("root", root))
}

// canonicalRoot resolves root to a cleaned absolute path so the same
// directory never ends up watched twice under different spellings.
func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("registry: resolving %s: %w", root, err)
	}

	return filepath.Clean(abs), nil
}
