package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryAt(tick uint64, path string, at int64) JournalEntry {
	return JournalEntry{Tick: tick, Path: path, Kind: ChangeModified, At: at}
}

func TestJournalSince(t *testing.T) {
	t.Parallel()

	j := NewJournal(0, 0)
	j.Append([]JournalEntry{entryAt(1, "a", 10)})
	j.Append([]JournalEntry{entryAt(2, "b", 20), entryAt(2, "c", 20)})
	j.Append([]JournalEntry{entryAt(3, "d", 30)})

	entries, err := j.Since(0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	entries, err = j.Since(2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "d", entries[0].Path)

	entries, err = j.Since(3)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = j.Since(99)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournalSinceReturnsCopy(t *testing.T) {
	t.Parallel()

	j := NewJournal(0, 0)
	j.Append([]JournalEntry{entryAt(1, "a", 10), entryAt(2, "b", 20)})

	entries, err := j.Since(0)
	require.NoError(t, err)

	entries[0].Path = "mutated"

	again, err := j.Since(0)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Path)
}

func TestJournalHistoryExpired(t *testing.T) {
	t.Parallel()

	j := NewJournal(0, 0)
	for tick := uint64(1); tick <= 5; tick++ {
		j.Append([]JournalEntry{entryAt(tick, "p", int64(tick))})
	}

	dropped := j.Prune(3)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, uint64(3), j.PrunedThrough())

	_, err := j.Since(2)
	assert.ErrorIs(t, err, ErrHistoryExpired)

	// A cursor exactly at the horizon is still answerable.
	entries, err := j.Since(3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(4), entries[0].Tick)
}

func TestJournalEnforceBoundsCount(t *testing.T) {
	t.Parallel()

	j := NewJournal(3, 0)
	for tick := uint64(1); tick <= 5; tick++ {
		j.Append([]JournalEntry{entryAt(tick, "p", int64(tick))})
	}

	dropped := j.EnforceBounds(time.Now().UnixNano())
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 3, j.Len())
	assert.Equal(t, uint64(2), j.PrunedThrough())
}

func TestJournalEnforceBoundsAge(t *testing.T) {
	t.Parallel()

	now := time.Now().UnixNano()

	j := NewJournal(0, time.Minute)
	j.Append([]JournalEntry{
		entryAt(1, "old", now-2*time.Minute.Nanoseconds()),
		entryAt(2, "fresh", now),
	})

	dropped := j.EnforceBounds(now)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, j.Len())

	_, err := j.Since(0)
	assert.ErrorIs(t, err, ErrHistoryExpired)
}

func TestJournalPruneNothingBelowMin(t *testing.T) {
	t.Parallel()

	j := NewJournal(0, 0)
	j.Append([]JournalEntry{entryAt(5, "p", 1)})

	assert.Equal(t, 0, j.Prune(4))
	assert.Equal(t, 1, j.Len())
}
