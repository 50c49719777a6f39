package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/treewatch/internal/derive"
	"github.com/tonimelisma/treewatch/internal/lrucache"
	"github.com/tonimelisma/treewatch/internal/notify"
	"github.com/tonimelisma/treewatch/internal/walker"
)

// renameGrace is how long a rename-away waits for its matching create
// before being flushed as a plain deletion.
const renameGrace = 250 * time.Millisecond

// renameFlushInterval drives the pending-rename expiry check.
const renameFlushInterval = 100 * time.Millisecond

// defaultRecrawlRetryDelay spaces retries after a failed crawl.
const defaultRecrawlRetryDelay = time.Second

// CursorStore persists cursor acknowledgments so consumers survive
// daemon restarts. The engine is fully correct without one — its state
// is a pure in-memory index rebuildable by recrawl.
type CursorStore interface {
	SaveCursor(ctx context.Context, root, name string, tick uint64) error
	DeleteCursor(ctx context.Context, root, name string) error
	LoadCursors(ctx context.Context, root string) (map[string]uint64, error)
}

// Options configures an Engine.
type Options struct {
	// Root is the absolute path of the watched directory tree.
	Root string

	// CookieTimeout bounds how long a sync waits for its cookie.
	CookieTimeout time.Duration

	// SweepInterval is how often the ageout sweep runs.
	SweepInterval time.Duration

	// TombstoneRetention is how long deleted-entry tombstones are kept.
	TombstoneRetention time.Duration

	// JournalMaxEntries and JournalMaxAge floor-bound journal retention
	// against stalled consumers. Zero disables the respective bound.
	JournalMaxEntries int
	JournalMaxAge     time.Duration

	// RecrawlRetryDelay spaces retries after a failed crawl. Zero means
	// the default.
	RecrawlRetryDelay time.Duration

	// PlantCookie overrides how cookies are written. Tests use this to
	// echo the cookie through a fake backend; nil means on-disk.
	PlantCookie PlantFunc
}

// QueryResult is the answer to one point-in-time or incremental query.
type QueryResult struct {
	Root  string `json:"root"`
	Tick  uint64 `json:"tick"`
	Fresh bool   `json:"fresh"`

	// Files holds the matching records: the full view for a fresh
	// query, or the current state of changed paths for an incremental
	// one (tombstoned paths appear in Changes only).
	Files []FileStateRecord `json:"files,omitempty"`

	// Changes holds the journal entries since the cursor, incremental
	// queries only.
	Changes []JournalEntry `json:"changes,omitempty"`
}

// pendingRename tracks a rename-away waiting for its matching create.
type pendingRename struct {
	oldPath  string
	deadline time.Time
}

// Engine owns one watched root's versioned view: tree store, journal,
// cursors, cookie synchronization, recrawl recovery, ageout, and the
// derived-data caches. Ingestion is the single writer; queries and
// subscriptions read concurrently.
type Engine struct {
	opts      Options
	clock     *Clock
	store     *Store
	journal   *Journal
	cursors   *CursorRegistry
	cookies   *CookieJar
	recrawler *Recrawler
	poison    poisonGate
	backend   notify.Backend
	crawler   *walker.Walker
	caches    *derive.Caches
	persist   CursorStore
	logger    *slog.Logger

	subMu sync.RWMutex
	subs  map[string]*Subscription

	// pendingRenames is touched only by the ingestion goroutine.
	pendingRenames map[uint64]pendingRename
}

// NewEngine assembles an engine for opts.Root consuming events from
// backend. caches may be nil (disables derived data); persist may be
// nil (in-memory cursors only).
func NewEngine(opts Options, backend notify.Backend, caches *derive.Caches, persist CursorStore, logger *slog.Logger) *Engine {
	e := &Engine{
		opts:           opts,
		clock:          &Clock{},
		journal:        NewJournal(opts.JournalMaxEntries, opts.JournalMaxAge),
		cursors:        NewCursorRegistry(),
		recrawler:      NewRecrawler(),
		backend:        backend,
		crawler:        walker.New(logger),
		caches:         caches,
		persist:        persist,
		logger:         logger,
		subs:           make(map[string]*Subscription),
		pendingRenames: make(map[uint64]pendingRename),
	}

	e.store = NewStore(e.clock, e.journal, e.eraseDerived, logger)
	e.cookies = NewCookieJar(opts.Root, opts.PlantCookie, func(reason string) {
		e.recrawler.Schedule(reason)
	}, logger)

	// Requested before Run starts, so a caller inspecting the engine
	// between construction and startup never observes a settled state
	// with an empty store.
	e.recrawler.Schedule("initial crawl")

	return e
}

// Root returns the watched root path.
func (e *Engine) Root() string {
	return e.opts.Root
}

// CurrentTick returns the latest stamped tick.
func (e *Engine) CurrentTick() uint64 {
	return e.clock.Current()
}

// Run drives the engine until ctx is canceled: ingestion, recrawl, and
// the periodic ageout sweep. The initial population of the store goes
// through the same recrawl path used for recovery.
func (e *Engine) Run(ctx context.Context) error {
	e.loadPersistedCursors(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.ingestLoop(ctx) })
	g.Go(func() error { return e.recrawlLoop(ctx) })
	g.Go(func() error { return e.sweepLoop(ctx) })

	err := g.Wait()

	e.closeSubscriptions()

	return err
}

// ---------------------------------------------------------------------------
// Ingestion
// ---------------------------------------------------------------------------

// ingestLoop is the single mutation path: it drains the notification
// backend, applies events to the store, correlates cookies, and fans
// matching journal entries out to subscriptions.
func (e *Engine) ingestLoop(ctx context.Context) error {
	flush := time.NewTicker(renameFlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-e.backend.Events():
			if !ok {
				return nil
			}

			e.applyRaw(ev)

		case <-e.backend.Overflows():
			e.logger.Warn("notification backend reported dropped events, scheduling recrawl")
			e.recrawler.Schedule("notification backend overflow")

		case <-flush.C:
			e.flushPendingRenames(time.Now())
		}
	}
}

// applyRaw applies one raw event to the store and dispatches the
// resulting journal entries.
func (e *Engine) applyRaw(ev notify.Event) {
	var entries []JournalEntry

	switch ev.Op {
	case notify.OpCreate, notify.OpWrite:
		if ev.Info == nil {
			entries, _ = e.store.ApplyRemoved(ev.Path, ev.At)
			break
		}

		if old, ok := e.takePendingRename(ev); ok {
			entries, _ = e.store.ApplyRenamed(old, ev.Path, ev.Info, ev.At)
			break
		}

		entries, _ = e.store.ApplyObserved(ev.Path, ev.Info, ev.At)

	case notify.OpRemove:
		entries, _ = e.store.ApplyRemoved(ev.Path, ev.At)

	case notify.OpRename:
		// Hold the deletion briefly: if the matching create shows the
		// same identity token, both halves share one tick and the token
		// carries over.
		if rec, ok := e.store.Get(ev.Path); ok && rec.Exists && rec.Identity != 0 && !IsCookiePath(ev.Path) {
			e.pendingRenames[rec.Identity] = pendingRename{
				oldPath:  ev.Path,
				deadline: time.Now().Add(renameGrace),
			}

			return
		}

		entries, _ = e.store.ApplyRemoved(ev.Path, ev.At)
	}

	// A cookie's own event round-tripping through ingestion is the
	// fence proving all prior mutations are visible. This also closes
	// the wait when the event was a no-op for the store.
	e.cookies.Observe(ev.Path, e.clock.Current())

	e.dispatch(entries)
}

// takePendingRename matches a create against an outstanding rename-away
// by identity token.
func (e *Engine) takePendingRename(ev notify.Event) (string, bool) {
	if ev.Op != notify.OpCreate || ev.Info.Identity == 0 {
		return "", false
	}

	pr, ok := e.pendingRenames[ev.Info.Identity]
	if !ok {
		return "", false
	}

	delete(e.pendingRenames, ev.Info.Identity)

	return pr.oldPath, true
}

// flushPendingRenames converts expired rename-aways into plain
// deletions: the other half never arrived, so the file left the tree.
func (e *Engine) flushPendingRenames(now time.Time) {
	for identity, pr := range e.pendingRenames {
		if now.Before(pr.deadline) {
			continue
		}

		delete(e.pendingRenames, identity)

		entries, _ := e.store.ApplyRemoved(pr.oldPath, now.UnixNano())
		e.dispatch(entries)
	}
}

// ---------------------------------------------------------------------------
// Recrawl and sweep
// ---------------------------------------------------------------------------

// recrawlLoop performs full crawls whenever the recrawler requests one.
// Crawl failures mark the pass failed and retry; they never take down
// ingestion.
func (e *Engine) recrawlLoop(ctx context.Context) error {
	retryDelay := e.opts.RecrawlRetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRecrawlRetryDelay
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-e.recrawler.Pending():
			generation, reasons, ok := e.recrawler.Begin()
			if !ok {
				continue
			}

			e.logger.Info("recrawl starting",
				slog.String("root", e.opts.Root),
				slog.Uint64("generation", generation),
				slog.Any("reasons", reasons),
			)

			fresh, err := e.crawler.Walk(ctx, e.opts.Root)
			if err != nil {
				e.logger.Warn("recrawl failed, will retry",
					slog.String("root", e.opts.Root), slog.String("error", err.Error()))
				e.recrawler.Complete(err)

				if sleepErr := sleepCtx(ctx, retryDelay); sleepErr != nil {
					return nil
				}

				continue
			}

			tick, entries := e.store.ReplaceSubtree("", fresh, nowNano())
			e.seedSymlinkTargets(fresh)
			e.recrawler.Complete(nil)
			e.dispatch(entries)

			e.logger.Info("recrawl complete",
				slog.String("root", e.opts.Root),
				slog.Uint64("generation", generation),
				slog.Uint64("tick", tick),
				slog.Int("changed", len(entries)),
			)
		}
	}
}

// seedSymlinkTargets caches link targets learned during the crawl so
// the first query for them skips the readlink.
func (e *Engine) seedSymlinkTargets(fresh map[string]*notify.Info) {
	if e.caches == nil {
		return
	}

	for path, info := range fresh {
		if info.Kind != notify.KindSymlink || info.SymlinkTarget == "" {
			continue
		}

		e.caches.StoreSymlinkTarget(lrucache.Key{
			Path:     path,
			Size:     info.Size,
			Mtime:    info.Mtime,
			Identity: info.Identity,
		}, info.SymlinkTarget)
	}
}

// sweepLoop runs the periodic ageout sweep.
func (e *Engine) sweepLoop(ctx context.Context) error {
	if e.opts.SweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			removed, expired := e.SweepNow(e.opts.TombstoneRetention)
			if removed > 0 || len(expired) > 0 {
				e.logger.Debug("ageout sweep",
					slog.Int("removed", removed),
					slog.Int("expired_cursors", len(expired)),
				)
			}
		}
	}
}

// SweepNow runs one ageout pass with the given retention, pruning the
// journal to the minimum cursor need and enforcing its floor bounds.
// Returns the tombstones removed and the cursors expired to allow it.
func (e *Engine) SweepNow(retention time.Duration) (int, []string) {
	now := nowNano()

	removed, expired := e.store.SweepTombstones(now, retention, e.cursors, e.eraseDerived)

	for _, name := range expired {
		e.logger.Warn("cursor expired by ageout sweep, consumer must resync",
			slog.String("cursor", name))

		if e.persist != nil {
			if err := e.persist.DeleteCursor(context.Background(), e.opts.Root, name); err != nil {
				e.logger.Warn("failed to delete persisted cursor",
					slog.String("cursor", name), slog.String("error", err.Error()))
			}
		}
	}

	if min, ok := e.cursors.MinTick(); ok {
		e.journal.Prune(min)
	}

	e.journal.EnforceBounds(now)

	return removed, expired
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Query answers a point-in-time or incremental query. An empty
// cursorName (or a name seen for the first time) yields a full
// snapshot; a known cursor yields the diff since its acknowledged tick.
// Before reading, the engine fences against the notification stream
// with a cookie so the snapshot is trustworthy.
func (e *Engine) Query(ctx context.Context, cursorName string, pred func(*FileStateRecord) bool) (*QueryResult, error) {
	if err := e.poison.check(); err != nil {
		return nil, err
	}

	synced, err := e.cookies.SyncToNow(ctx, e.opts.CookieTimeout)
	if err != nil {
		if !errors.Is(err, ErrBackendUnresponsive) {
			return nil, err
		}

		// The recrawl is already scheduled; a fresh snapshot is still
		// the best available answer, but an incremental diff would be
		// an under-approximation and must be denied.
		if cursorName != "" {
			return nil, ErrRecrawlInProgress
		}

		e.logger.Warn("serving snapshot without sync fence", slog.String("root", e.opts.Root))
	}

	if cursorName == "" {
		return e.freshQuery(ctx, "", pred)
	}

	if e.recrawler.Active() {
		return nil, ErrRecrawlInProgress
	}

	since, known := e.cursors.Get(cursorName)
	if !known {
		// First query from a new name establishes the cursor.
		return e.freshQuery(ctx, cursorName, pred)
	}

	entries, err := e.journal.Since(since)
	if err != nil {
		// Retention exceeded: the consumer must fall back to a full
		// snapshot. Expire the cursor so its next named query is fresh.
		e.cursors.Expire(cursorName)

		return nil, err
	}

	result := &QueryResult{Root: e.opts.Root, Fresh: false}
	newTick := since

	seen := make(map[string]bool)

	for _, entry := range entries {
		if IsCookiePath(entry.Path) {
			continue
		}

		rec, ok := e.store.Get(entry.Path)
		if ok && pred != nil && !pred(&rec) {
			continue
		}

		result.Changes = append(result.Changes, entry)

		if entry.Tick > newTick {
			newTick = entry.Tick
		}

		if ok && rec.Exists && !seen[entry.Path] {
			seen[entry.Path] = true
			result.Files = append(result.Files, rec)
		}
	}

	// The acknowledgment bound must predate the journal read: synced
	// was captured before Since, so any entry it misses carries a
	// higher tick and stays answerable from the next query.
	if synced > newTick {
		newTick = synced
	}

	result.Tick = newTick
	e.ackCursor(ctx, cursorName, newTick)

	return result, nil
}

// Since returns the raw journal entries after tick, without the cookie
// fence — it trusts the mirror as-is. Denied while a recrawl is
// pending, since the diff could under-approximate.
func (e *Engine) Since(tick uint64) ([]JournalEntry, error) {
	if err := e.poison.check(); err != nil {
		return nil, err
	}

	if e.recrawler.Active() {
		return nil, ErrRecrawlInProgress
	}

	entries, err := e.journal.Since(tick)
	if err != nil {
		return nil, err
	}

	return filterCookies(entries), nil
}

// SyncToNow fences against the notification stream and returns the tick
// up to which all prior filesystem mutations are guaranteed visible.
func (e *Engine) SyncToNow(ctx context.Context, timeout time.Duration) (uint64, error) {
	if err := e.poison.check(); err != nil {
		return 0, err
	}

	return e.cookies.SyncToNow(ctx, timeout)
}

// freshQuery serves a full snapshot and (when named) establishes the
// cursor at the snapshot tick.
func (e *Engine) freshQuery(ctx context.Context, cursorName string, pred func(*FileStateRecord) bool) (*QueryResult, error) {
	snap := e.store.Snapshot(func(rec *FileStateRecord) bool {
		if IsCookiePath(rec.Path) {
			return false
		}

		return pred == nil || pred(rec)
	})

	if cursorName != "" {
		e.ackCursor(ctx, cursorName, snap.Tick)
	}

	return &QueryResult{
		Root:  e.opts.Root,
		Tick:  snap.Tick,
		Fresh: true,
		Files: snap.Records,
	}, nil
}

// ackCursor advances a cursor and persists it best-effort.
func (e *Engine) ackCursor(ctx context.Context, name string, tick uint64) {
	effective := e.cursors.Ack(name, tick)

	if e.persist != nil {
		if err := e.persist.SaveCursor(ctx, e.opts.Root, name, effective); err != nil {
			e.logger.Warn("failed to persist cursor",
				slog.String("cursor", name), slog.String("error", err.Error()))
		}
	}
}

// loadPersistedCursors seeds the registry from the cursor store.
func (e *Engine) loadPersistedCursors(ctx context.Context) {
	if e.persist == nil {
		return
	}

	saved, err := e.persist.LoadCursors(ctx, e.opts.Root)
	if err != nil {
		e.logger.Warn("failed to load persisted cursors",
			slog.String("root", e.opts.Root), slog.String("error", err.Error()))

		return
	}

	for name, tick := range saved {
		e.cursors.Ack(name, tick)
	}

	if len(saved) > 0 {
		e.logger.Info("restored persisted cursors", slog.Int("count", len(saved)))
	}
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscribe registers a named subscription whose matching journal
// entries are pushed asynchronously.
func (e *Engine) Subscribe(name string, pred func(*JournalEntry) bool) (*Subscription, error) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	if _, exists := e.subs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionExists, name)
	}

	sub := &Subscription{
		name:    name,
		pred:    pred,
		updates: make(chan []JournalEntry, subscriptionBuffer),
	}
	e.subs[name] = sub

	return sub, nil
}

// Unsubscribe removes and closes a subscription.
func (e *Engine) Unsubscribe(name string) error {
	e.subMu.Lock()
	sub, ok := e.subs[name]
	delete(e.subs, name)
	e.subMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionUnknown, name)
	}

	sub.close()

	return nil
}

// SetSubscriptionPaused pauses or resumes a subscription, returning the
// old and new states.
func (e *Engine) SetSubscriptionPaused(name string, paused bool) (oldState, newState bool, err error) {
	e.subMu.RLock()
	sub, ok := e.subs[name]
	e.subMu.RUnlock()

	if !ok {
		return false, false, fmt.Errorf("%w: %s", ErrSubscriptionUnknown, name)
	}

	oldState, newState = sub.SetPaused(paused)

	return oldState, newState, nil
}

// Subscriptions lists registered subscription names.
func (e *Engine) Subscriptions() []string {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	names := make([]string, 0, len(e.subs))
	for name := range e.subs {
		names = append(names, name)
	}

	return names
}

// dispatch fans visible (non-cookie) entries out to subscriptions.
func (e *Engine) dispatch(entries []JournalEntry) {
	visible := filterCookies(entries)
	if len(visible) == 0 {
		return
	}

	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for _, sub := range e.subs {
		sub.deliver(visible)
	}
}

// closeSubscriptions shuts all subscription channels on engine exit.
func (e *Engine) closeSubscriptions() {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for name, sub := range e.subs {
		sub.close()
		delete(e.subs, name)
	}
}

// ---------------------------------------------------------------------------
// Debug / administrative surface
// ---------------------------------------------------------------------------

// ScheduleRecrawl requests a full rescan. Returns true when this call
// initiated a new pass rather than joining a pending one.
func (e *Engine) ScheduleRecrawl(reason string) bool {
	return e.recrawler.Schedule(reason)
}

// RecrawlStatus returns the recovery machine's state, reasons, and
// generation counter.
func (e *Engine) RecrawlStatus() (state string, reasons []string, generation uint64) {
	st, rs, gen := e.recrawler.Status()
	return st.String(), rs, gen
}

// Cursors returns a copy of all registered cursors.
func (e *Engine) Cursors() map[string]uint64 {
	return e.cursors.List()
}

// PoisonNow marks the engine unreliable with the given reason until
// ClearPoison is called.
func (e *Engine) PoisonNow(reason string) *PoisonedError {
	e.logger.Error("engine poisoned", slog.String("root", e.opts.Root), slog.String("reason", reason))
	return e.poison.set(reason)
}

// ClearPoison lifts the poison condition.
func (e *Engine) ClearPoison() bool {
	return e.poison.clear()
}

// Poisoned returns the current poison condition, if any.
func (e *Engine) Poisoned() *PoisonedError {
	return e.poison.current()
}

// SupportsContentHashCache reports whether this engine carries
// derived-data caches.
func (e *Engine) SupportsContentHashCache() bool {
	return e.caches != nil
}

// ContentHash returns the content hash for path's current state,
// computing and caching on first access.
func (e *Engine) ContentHash(ctx context.Context, path string) (string, error) {
	key, err := e.deriveKey(path, notify.KindRegular)
	if err != nil {
		return "", err
	}

	return e.caches.ContentHash(ctx, key)
}

// SymlinkTarget returns the link target for path's current state.
func (e *Engine) SymlinkTarget(ctx context.Context, path string) (string, error) {
	key, err := e.deriveKey(path, notify.KindSymlink)
	if err != nil {
		return "", err
	}

	return e.caches.SymlinkTarget(ctx, key)
}

// CacheStats returns the derived-data cache counters. ok is false when
// this engine's backend kind carries no caches.
func (e *Engine) CacheStats() (content, symlink lrucache.Stats, ok bool) {
	if e.caches == nil {
		return lrucache.Stats{}, lrucache.Stats{}, false
	}

	return e.caches.ContentHashStats(), e.caches.SymlinkTargetStats(), true
}

// deriveKey builds the cache key for path's current record, enforcing
// the expected entry kind.
func (e *Engine) deriveKey(path string, kind notify.Kind) (lrucache.Key, error) {
	if e.caches == nil {
		return lrucache.Key{}, fmt.Errorf("view: root %s has no derived-data caches", e.opts.Root)
	}

	rec, ok := e.store.Get(path)
	if !ok || !rec.Exists {
		return lrucache.Key{}, fmt.Errorf("view: %s: path not present in view", path)
	}

	if rec.Kind != kind {
		return lrucache.Key{}, fmt.Errorf("view: %s: unexpected kind %s", path, rec.Kind)
	}

	return lrucache.Key{
		Path:     rec.Path,
		Size:     rec.Size,
		Mtime:    rec.Mtime,
		Identity: rec.Identity,
	}, nil
}

// eraseDerived is the store's invalidation hook.
func (e *Engine) eraseDerived(path string) {
	if e.caches != nil {
		e.caches.InvalidatePath(path)
	}
}

// filterCookies strips synchronization cookie noise from entries.
func filterCookies(entries []JournalEntry) []JournalEntry {
	out := make([]JournalEntry, 0, len(entries))

	for _, entry := range entries {
		if !IsCookiePath(entry.Path) {
			out = append(out, entry)
		}
	}

	return out
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
