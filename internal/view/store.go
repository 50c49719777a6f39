package view

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/treewatch/internal/notify"
)

// Store is the hierarchical map of path to file-state record — the
// single logical owner of current truth. All mutation goes through the
// ingestion path under one exclusive section per batch; that section
// also stamps the tick, appends the journal entries, and invalidates
// derived-data cache entries, so readers can never observe a record at
// tick N while the journal lacks entry N.
type Store struct {
	mu         sync.RWMutex
	clock      *Clock
	journal    *Journal
	records    map[string]*FileStateRecord
	invalidate func(path string)
	logger     *slog.Logger
}

// NewStore creates a store stamping ticks from clock and journaling to
// journal. invalidate (may be nil) is called inside the mutation
// section for every path whose observed state changed, before the
// mutation is considered complete.
func NewStore(clock *Clock, journal *Journal, invalidate func(path string), logger *slog.Logger) *Store {
	return &Store{
		clock:      clock,
		journal:    journal,
		records:    make(map[string]*FileStateRecord),
		invalidate: invalidate,
		logger:     logger,
	}
}

// Snapshot is a consistent read-only view of the store: the records
// (copies) existing at Tick.
type Snapshot struct {
	Tick    uint64
	Records []FileStateRecord
}

// ApplyObserved ingests a create/modify observation for path. Missing
// parent directories are synthesized (never silently dropped). A
// notification that matches the already-recorded state is a no-op and
// does not advance the tick.
func (s *Store) ApplyObserved(path string, info *notify.Info, at int64) ([]JournalEntry, TickRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[path]
	parents := s.missingParentsLocked(path)

	if ok && rec.sameState(info) && len(parents) == 0 {
		return nil, TickRange{}
	}

	tick := s.clock.advance()

	entries := make([]JournalEntry, 0, len(parents)+1)

	for _, parent := range parents {
		s.records[parent] = &FileStateRecord{
			Path:         parent,
			Exists:       true,
			Kind:         notify.KindDir,
			Mtime:        at,
			ObservedTick: tick,
		}
		entries = append(entries, JournalEntry{Tick: tick, Path: parent, Kind: ChangeCreated, At: at})
	}

	kind := ChangeModified
	if !ok || !rec.Exists {
		kind = ChangeCreated
	}

	s.invalidateLocked(path)

	s.records[path] = &FileStateRecord{
		Path:         path,
		Exists:       true,
		Kind:         info.Kind,
		Size:         info.Size,
		Mtime:        info.Mtime,
		Identity:     info.Identity,
		ObservedTick: tick,
	}
	entries = append(entries, JournalEntry{Tick: tick, Path: path, Kind: kind, At: at})

	s.journal.Append(entries)

	return entries, TickRange{Start: tick, End: tick}
}

// ApplyRemoved ingests a deletion for path, tombstoning it and every
// existing descendant in one tick. Deleting an already-absent path is
// an idempotent no-op: no duplicate journal entry, no tick regression.
func (s *Store) ApplyRemoved(path string, at int64) ([]JournalEntry, TickRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[path]
	if !ok || !rec.Exists {
		return nil, TickRange{}
	}

	doomed := s.subtreePathsLocked(path)
	tick := s.clock.advance()

	entries := make([]JournalEntry, 0, len(doomed))

	for _, p := range doomed {
		s.tombstoneLocked(s.records[p], tick, at)
		entries = append(entries, JournalEntry{Tick: tick, Path: p, Kind: ChangeDeleted, At: at})
	}

	s.journal.Append(entries)

	return entries, TickRange{Start: tick, End: tick}
}

// ApplyRenamed ingests a confirmed same-identity rename: the old path
// (and its descendants, for directories) disappears and the new path
// appears, sharing one tick. The identity token carries over to the new
// record when the observation lacks one.
func (s *Store) ApplyRenamed(oldPath, newPath string, info *notify.Info, at int64) ([]JournalEntry, TickRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldRec, ok := s.records[oldPath]
	if !ok || !oldRec.Exists {
		// Nothing known under the old name — fall through to a plain
		// create of the new name outside the lock via the caller is not
		// possible here, so synthesize it in this batch.
		oldRec = nil
	}

	tick := s.clock.advance()

	var entries []JournalEntry

	moved := map[string]*FileStateRecord{}

	if oldRec != nil {
		for _, p := range s.subtreePathsLocked(oldPath) {
			rec := s.records[p]
			moved[strings.Replace(p, oldPath, newPath, 1)] = rec
			s.tombstoneLocked(rec, tick, at)
			entries = append(entries, JournalEntry{Tick: tick, Path: p, Kind: ChangeRenamed, At: at})
		}
	}

	newRec := &FileStateRecord{
		Path:         newPath,
		Exists:       true,
		ObservedTick: tick,
	}

	switch {
	case info != nil:
		newRec.Kind = info.Kind
		newRec.Size = info.Size
		newRec.Mtime = info.Mtime
		newRec.Identity = info.Identity
	case oldRec != nil:
		newRec.Kind = oldRec.Kind
		newRec.Size = oldRec.Size
		newRec.Mtime = oldRec.Mtime
	}

	if newRec.Identity == 0 && oldRec != nil {
		newRec.Identity = oldRec.Identity
	}

	s.invalidateLocked(newPath)
	s.records[newPath] = newRec
	entries = append(entries, JournalEntry{Tick: tick, Path: newPath, Kind: ChangeCreated, At: at})

	// Descendants of a renamed directory reappear under the new prefix,
	// preserving their identity tokens.
	for newDescPath, rec := range moved {
		if newDescPath == newPath {
			continue
		}

		s.invalidateLocked(newDescPath)
		s.records[newDescPath] = &FileStateRecord{
			Path:         newDescPath,
			Exists:       true,
			Kind:         rec.Kind,
			Size:         rec.Size,
			Mtime:        rec.Mtime,
			Identity:     rec.Identity,
			ObservedTick: tick,
		}
		entries = append(entries, JournalEntry{Tick: tick, Path: newDescPath, Kind: ChangeCreated, At: at})
	}

	s.journal.Append(entries)

	return entries, TickRange{Start: tick, End: tick}
}

// ReplaceSubtree atomically swaps all records under prefix (empty =
// whole root) for the freshly crawled state, bumping the tick once and
// journaling one entry per path that actually differs — a diff, never a
// blanket "everything changed".
func (s *Store) ReplaceSubtree(prefix string, fresh map[string]*notify.Info, at int64) (uint64, []JournalEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tick := s.clock.advance()

	var entries []JournalEntry

	paths := make([]string, 0, len(fresh))
	for path := range fresh {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	for _, path := range paths {
		info := fresh[path]

		rec, ok := s.records[path]
		if ok && rec.sameState(info) {
			continue
		}

		kind := ChangeModified
		if !ok || !rec.Exists {
			kind = ChangeCreated
		}

		s.invalidateLocked(path)

		s.records[path] = &FileStateRecord{
			Path:         path,
			Exists:       true,
			Kind:         info.Kind,
			Size:         info.Size,
			Mtime:        info.Mtime,
			Identity:     info.Identity,
			ObservedTick: tick,
		}
		entries = append(entries, JournalEntry{Tick: tick, Path: path, Kind: kind, At: at})
	}

	// Anything previously existing under the prefix that the crawl did
	// not observe is gone.
	var vanished []string

	for path, rec := range s.records {
		if !rec.Exists || !underPrefix(path, prefix) {
			continue
		}

		if _, stillThere := fresh[path]; !stillThere {
			vanished = append(vanished, path)
		}
	}

	sort.Strings(vanished)

	for _, path := range vanished {
		s.tombstoneLocked(s.records[path], tick, at)
		entries = append(entries, JournalEntry{Tick: tick, Path: path, Kind: ChangeDeleted, At: at})
	}

	s.journal.Append(entries)

	s.logger.Debug("subtree replaced",
		slog.String("prefix", prefix),
		slog.Uint64("tick", tick),
		slog.Int("changed", len(entries)),
	)

	return tick, entries
}

// Snapshot returns a consistent read-only view of all existing records
// matching pred (nil = all), sorted by path.
func (s *Store) Snapshot(pred func(*FileStateRecord) bool) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Tick: s.clock.Current()}

	for _, rec := range s.records {
		if !rec.Exists {
			continue
		}

		if pred != nil && !pred(rec) {
			continue
		}

		snap.Records = append(snap.Records, *rec)
	}

	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].Path < snap.Records[j].Path
	})

	return snap
}

// Get returns a copy of the record for path.
func (s *Store) Get(path string) (FileStateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[path]
	if !ok {
		return FileStateRecord{}, false
	}

	return *rec, true
}

// TombstoneCount returns the number of deleted-entry tombstones held.
func (s *Store) TombstoneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0

	for _, rec := range s.records {
		if !rec.Exists {
			n++
		}
	}

	return n
}

// SweepTombstones removes tombstones whose deletion time is older than
// retention. A tombstone is never removed while an active cursor's tick
// predates its deletion tick — doing so would make that consumer's next
// incremental query silently miss the deletion. Such cursors are
// expired instead (forcing a full resync), and their names returned.
func (s *Store) SweepTombstones(now int64, retention time.Duration, cursors *CursorRegistry, erase func(path string)) (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now - retention.Nanoseconds()
	removed := 0

	var expired []string

	for path, rec := range s.records {
		if rec.Exists || rec.DeletedAt > cutoff {
			continue
		}

		for name, tick := range cursors.List() {
			if tick < rec.DeletedTick {
				cursors.Expire(name)
				expired = append(expired, name)
			}
		}

		delete(s.records, path)

		if erase != nil {
			erase(path)
		}

		removed++
	}

	return removed, expired
}

// tombstoneLocked flips a record to deleted at tick. Callers hold s.mu.
func (s *Store) tombstoneLocked(rec *FileStateRecord, tick uint64, at int64) {
	s.invalidateLocked(rec.Path)

	rec.Exists = false
	rec.ObservedTick = tick
	rec.DeletedTick = tick
	rec.DeletedAt = at
}

// subtreePathsLocked returns path plus every existing descendant,
// deepest first so children are journaled before their parent.
// Callers hold s.mu.
func (s *Store) subtreePathsLocked(path string) []string {
	paths := []string{}
	childPrefix := path + "/"

	for p, rec := range s.records {
		if rec.Exists && strings.HasPrefix(p, childPrefix) {
			paths = append(paths, p)
		}
	}

	sort.Slice(paths, func(i, j int) bool {
		return paths[i] > paths[j]
	})

	return append(paths, path)
}

// missingParentsLocked returns the ancestor directories of path that
// have no existing record, outermost first. Callers hold s.mu.
func (s *Store) missingParentsLocked(path string) []string {
	var missing []string

	for i, c := range path {
		if c != '/' {
			continue
		}

		parent := path[:i]
		if rec, ok := s.records[parent]; !ok || !rec.Exists {
			missing = append(missing, parent)
		}
	}

	return missing
}

// invalidateLocked runs the derived-data invalidation hook for path
// inside the mutation section. Callers hold s.mu; the hook must only
// take leaf locks of its own.
func (s *Store) invalidateLocked(path string) {
	if s.invalidate != nil {
		s.invalidate(path)
	}
}

// underPrefix reports whether path falls under prefix (empty prefix
// matches everything).
func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}

	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
