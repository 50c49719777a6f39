package view

import (
	"sort"
	"sync"
	"time"
)

// Journal is the append-only, tick-ordered log of change deltas. Appends
// happen only from the store's mutation critical section; reads are
// concurrent. Entries are pruned only from the oldest end, bounded by
// cursor needs with a configurable floor so a stalled consumer cannot
// hold history forever.
type Journal struct {
	mu            sync.RWMutex
	entries       []JournalEntry
	prunedThrough uint64 // highest tick dropped from the oldest end
	maxEntries    int
	maxAge        time.Duration
}

// NewJournal creates a journal retaining at most maxEntries entries no
// older than maxAge. Zero values disable the respective bound.
func NewJournal(maxEntries int, maxAge time.Duration) *Journal {
	return &Journal{
		maxEntries: maxEntries,
		maxAge:     maxAge,
	}
}

// Append adds entries (already in tick order) to the log.
func (j *Journal) Append(entries []JournalEntry) {
	if len(entries) == 0 {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entries...)
}

// Since returns all entries with tick > since, in tick order. If since
// predates the retention horizon it returns ErrHistoryExpired rather
// than a silently partial diff.
func (j *Journal) Since(since uint64) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if since < j.prunedThrough {
		return nil, ErrHistoryExpired
	}

	idx := sort.Search(len(j.entries), func(i int) bool {
		return j.entries[i].Tick > since
	})

	if idx == len(j.entries) {
		return nil, nil
	}

	out := make([]JournalEntry, len(j.entries)-idx)
	copy(out, j.entries[idx:])

	return out, nil
}

// Prune drops entries with tick <= minRetained. Callers pass the minimum
// over all active cursors' acknowledged ticks: everything at or below it
// has been observed by every consumer.
func (j *Journal) Prune(minRetained uint64) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	idx := sort.Search(len(j.entries), func(i int) bool {
		return j.entries[i].Tick > minRetained
	})

	if idx == 0 {
		return 0
	}

	j.dropOldestLocked(idx)

	return idx
}

// EnforceBounds applies the entry-count and age floors regardless of
// cursor positions, returning the number of entries dropped. A cursor
// stranded behind the new horizon sees ErrHistoryExpired on its next
// read and must fall back to a full snapshot.
func (j *Journal) EnforceBounds(now int64) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	drop := 0

	if j.maxEntries > 0 && len(j.entries) > j.maxEntries {
		drop = len(j.entries) - j.maxEntries
	}

	if j.maxAge > 0 {
		cutoff := now - j.maxAge.Nanoseconds()
		for drop < len(j.entries) && j.entries[drop].At < cutoff {
			drop++
		}
	}

	if drop == 0 {
		return 0
	}

	j.dropOldestLocked(drop)

	return drop
}

// PrunedThrough returns the current retention horizon: ticks at or
// below it may no longer be diffed against.
func (j *Journal) PrunedThrough() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.prunedThrough
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return len(j.entries)
}

// dropOldestLocked removes the first n entries and advances the
// horizon. Callers hold j.mu.
func (j *Journal) dropOldestLocked(n int) {
	j.prunedThrough = j.entries[n-1].Tick
	j.entries = append([]JournalEntry(nil), j.entries[n:]...)
}
