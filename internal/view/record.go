// Package view implements the versioned in-memory mirror of a watched
// directory tree: the tree state store, its tick-ordered change journal
// and cursor model, cookie-based synchronization against the raw
// notification stream, the recrawl recovery state machine, and the
// tombstone ageout sweep.
package view

import (
	"time"

	"github.com/tonimelisma/treewatch/internal/notify"
)

// ChangeKind classifies one journal entry.
type ChangeKind string

// Change kinds as they appear in journal entries and on the wire.
const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// FileStateRecord is one path's last-known state. Records are owned
// exclusively by the Store and leave its synchronization boundary only
// as copies.
type FileStateRecord struct {
	Path     string      `json:"path"`
	Exists   bool        `json:"exists"`
	Kind     notify.Kind `json:"kind"`
	Size     int64       `json:"size"`
	Mtime    int64       `json:"mtime"` // Unix nanoseconds
	Identity uint64      `json:"identity"`

	// ObservedTick is the tick at which this record last changed.
	ObservedTick uint64 `json:"observed_tick"`

	// DeletedTick is set when Exists flips false; zero otherwise.
	DeletedTick uint64 `json:"deleted_tick,omitempty"`

	// DeletedAt is the wall-clock tombstone time (Unix nanoseconds),
	// used by the ageout sweep's retention comparison.
	DeletedAt int64 `json:"-"`
}

// sameState reports whether the record's observed file state matches
// info. Used to deduplicate redundant notifications.
func (r *FileStateRecord) sameState(info *notify.Info) bool {
	return r.Exists &&
		r.Kind == info.Kind &&
		r.Size == info.Size &&
		r.Mtime == info.Mtime &&
		r.Identity == info.Identity
}

// JournalEntry is one immutable change record. Entries are appended in
// tick order and pruned only from the oldest end.
type JournalEntry struct {
	Tick uint64     `json:"tick"`
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	At   int64      `json:"at"` // Unix nanoseconds at observation
}

// TickRange is the span of ticks affected by one ingested event
// (normally a single tick; empty for a no-op).
type TickRange struct {
	Start uint64
	End   uint64
}

// IsZero reports whether the range covers no ticks (the event was a
// no-op).
func (r TickRange) IsZero() bool {
	return r.End == 0
}

// nowNano returns the current time as Unix nanoseconds.
func nowNano() int64 {
	return time.Now().UnixNano()
}
