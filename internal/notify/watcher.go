package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Buffer and backoff tuning for the watch loop.
const (
	eventChanSize       = 4096
	watchErrInitBackoff = 100 * time.Millisecond
	watchErrMaxBackoff  = 10 * time.Second
	watchErrBackoffMult = 2
)

// FsWatcher is the production Backend built on fsnotify. It maintains a
// recursive watch over the root (fsnotify watches are per-directory) and
// converts raw events into the engine's event contract. When the output
// channel is full the event is dropped and an overflow is signaled — the
// engine recovers via recrawl, so dropping is safe as long as it is loud.
type FsWatcher struct {
	root      string
	watcher   *fsnotify.Watcher
	events    chan Event
	overflows chan struct{}
	logger    *slog.Logger
}

// NewFsWatcher creates a watcher rooted at root and registers watches on
// every directory under it. Run must be called to start event delivery.
func NewFsWatcher(root string, logger *slog.Logger) (*FsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("notify: creating fsnotify watcher: %w", err)
	}

	w := &FsWatcher{
		root:      root,
		watcher:   watcher,
		events:    make(chan Event, eventChanSize),
		overflows: make(chan struct{}, 1),
		logger:    logger,
	}

	if err := w.addWatchesRecursive(root); err != nil {
		watcher.Close()
		return nil, err
	}

	return w, nil
}

// Events returns the translated event stream.
func (w *FsWatcher) Events() <-chan Event {
	return w.events
}

// Overflows returns the dropped-events signal channel.
func (w *FsWatcher) Overflows() <-chan struct{} {
	return w.overflows
}

// Close stops the underlying fsnotify watcher. The events channel is
// closed once Run drains.
func (w *FsWatcher) Close() error {
	return w.watcher.Close()
}

// Run is the main select loop. It processes fsnotify events and watcher
// errors until the context is canceled or the watcher is closed.
func (w *FsWatcher) Run(ctx context.Context) error {
	defer close(w.events)

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			w.handleFsEvent(fsEvent)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// A kernel-side queue overflow means events were lost — the
			// engine must not trust its mirror until it recrawls.
			w.signalOverflow()

			// Exponential backoff prevents a tight loop under sustained
			// errors such as repeated kernel buffer exhaustion.
			if sleepErr := sleepCtx(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

// handleFsEvent translates a single fsnotify event and emits it.
func (w *FsWatcher) handleFsEvent(fsEvent fsnotify.Event) {
	// Chmod-only events carry no state the view engine tracks.
	if fsEvent.Has(fsnotify.Chmod) && !fsEvent.Has(fsnotify.Create) && !fsEvent.Has(fsnotify.Write) {
		return
	}

	rel, err := filepath.Rel(w.root, fsEvent.Name)
	if err != nil {
		w.logger.Warn("failed to compute relative path",
			slog.String("path", fsEvent.Name), slog.String("error", err.Error()))

		return
	}

	path := NormalizePath(rel)

	switch {
	case fsEvent.Has(fsnotify.Create):
		w.handleCreate(fsEvent.Name, path)

	case fsEvent.Has(fsnotify.Write):
		w.emitObserved(fsEvent.Name, path, OpWrite)

	case fsEvent.Has(fsnotify.Remove):
		w.emit(Event{Path: path, Op: OpRemove, At: nowNano()})

	case fsEvent.Has(fsnotify.Rename):
		// fsnotify reports the old name; the new name (if inside the
		// root) arrives as a separate Create.
		w.emit(Event{Path: path, Op: OpRename, At: nowNano()})
	}
}

// handleCreate emits the create event and, for directories, registers a
// watch and scans contents created before the watch was in place.
func (w *FsWatcher) handleCreate(fsPath, path string) {
	info, err := InfoFor(fsPath)
	if err != nil {
		w.logger.Warn("stat failed for created path",
			slog.String("path", path), slog.String("error", err.Error()))

		return
	}

	if info == nil {
		// Vanished between notification and stat.
		return
	}

	w.emit(Event{Path: path, Op: OpCreate, Info: info, At: nowNano()})

	if info.Kind == KindDir {
		if addErr := w.watcher.Add(fsPath); addErr != nil {
			w.logger.Warn("failed to add watch on new directory",
				slog.String("path", path), slog.String("error", addErr.Error()))
		}

		w.scanNewDirectory(fsPath, path)
	}
}

// scanNewDirectory emits synthetic creates for entries already present in
// a newly-created directory. This catches files created between the
// directory's creation and the watch registration. Duplicates are
// harmless — the tree store's mutation path deduplicates by state.
func (w *FsWatcher) scanNewDirectory(dirPath, dirRelPath string) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		w.logger.Debug("scan new directory failed",
			slog.String("path", dirRelPath), slog.String("error", err.Error()))

		return
	}

	for _, entry := range entries {
		entryFsPath := filepath.Join(dirPath, entry.Name())
		entryRelPath := dirRelPath + "/" + NormalizePath(entry.Name())

		info, statErr := InfoFor(entryFsPath)
		if statErr != nil || info == nil {
			continue
		}

		w.emit(Event{Path: entryRelPath, Op: OpCreate, Info: info, At: nowNano()})

		if info.Kind == KindDir {
			if addErr := w.watcher.Add(entryFsPath); addErr != nil {
				w.logger.Warn("failed to add watch on nested directory",
					slog.String("path", entryRelPath), slog.String("error", addErr.Error()))
			}

			w.scanNewDirectory(entryFsPath, entryRelPath)
		}
	}
}

// emitObserved stats the path and emits an event with fresh Info. A write
// for a vanished path is delivered as a remove.
func (w *FsWatcher) emitObserved(fsPath, path string, op Op) {
	info, err := InfoFor(fsPath)
	if err != nil {
		w.logger.Debug("stat failed for changed path",
			slog.String("path", path), slog.String("error", err.Error()))

		return
	}

	if info == nil {
		w.emit(Event{Path: path, Op: OpRemove, At: nowNano()})
		return
	}

	w.emit(Event{Path: path, Op: op, Info: info, At: nowNano()})
}

// emit sends an event without blocking the OS notification pump. A full
// channel drops the event and raises the overflow signal instead.
func (w *FsWatcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("event channel full, dropping event and signaling overflow",
			slog.String("path", ev.Path), slog.String("op", ev.Op.String()))
		w.signalOverflow()
	}
}

// signalOverflow raises the overflow signal without blocking. The signal
// is level-triggered: one pending overflow is enough to force a recrawl.
func (w *FsWatcher) signalOverflow() {
	select {
	case w.overflows <- struct{}{}:
	default:
	}
}

// addWatchesRecursive registers fsnotify watches on root and every
// directory below it. Symlinks are never followed.
func (w *FsWatcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(fsPath string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("walk error while registering watches",
				slog.String("path", fsPath), slog.String("error", walkErr.Error()))

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if err := w.watcher.Add(fsPath); err != nil {
			return fmt.Errorf("notify: watching %s: %w", fsPath, err)
		}

		return nil
	})
}

// sleepCtx sleeps for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
