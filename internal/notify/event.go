// Package notify adapts raw OS filesystem notifications into the event
// contract the view engine consumes: best-effort ordered change events
// plus an out-of-band overflow signal meaning events were dropped.
package notify

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Op represents the kind of raw filesystem change.
type Op int

const (
	// OpCreate indicates a new path appeared.
	OpCreate Op = iota
	// OpWrite indicates an existing path's content or metadata changed.
	OpWrite
	// OpRemove indicates a path disappeared.
	OpRemove
	// OpRename indicates a path was renamed away; the new name arrives
	// as a separate OpCreate if it is inside the watched root.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Kind classifies a filesystem entry.
type Kind string

// Entry kinds as observed by lstat.
const (
	KindRegular Kind = "regular"
	KindDir     Kind = "dir"
	KindSymlink Kind = "symlink"
	KindOther   Kind = "other"
)

// Info is the lstat view of a path at observation time. Identity is a
// platform-opaque token (inode number where available) used to tell a
// replaced file apart from a modified one. SymlinkTarget is populated
// for symlinks only.
type Info struct {
	Kind          Kind
	Size          int64
	Mtime         int64 // Unix nanoseconds
	Identity      uint64
	SymlinkTarget string
}

// Event is one raw change notification. Path is relative to the watched
// root, slash-separated and NFC-normalized. Info is nil when the path no
// longer exists at observation time.
type Event struct {
	Path string
	Op   Op
	Info *Info
	At   int64 // Unix nanoseconds at observation
}

// Backend is the abstract notification producer the view engine consumes.
// Implementations deliver events in best-effort order and signal Overflows
// when events were dropped (the consumer must escalate to a full rescan).
type Backend interface {
	Events() <-chan Event
	Overflows() <-chan struct{}
	Close() error
}

// InfoFor lstats fsPath and returns its Info. Returns nil (no error) if
// the path vanished between the notification and the stat.
func InfoFor(fsPath string) (*Info, error) {
	fi, err := os.Lstat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	return infoFromFileInfo(fsPath, fi), nil
}

// infoFromFileInfo builds an Info from an lstat result, resolving the
// symlink target for symlinks.
func infoFromFileInfo(fsPath string, fi fs.FileInfo) *Info {
	info := &Info{
		Kind:     kindFromMode(fi.Mode()),
		Size:     fi.Size(),
		Mtime:    fi.ModTime().UnixNano(),
		Identity: identityFor(fi),
	}

	if info.Kind == KindSymlink {
		if target, err := os.Readlink(fsPath); err == nil {
			info.SymlinkTarget = target
		}
	}

	return info
}

// kindFromMode maps a file mode to the engine's entry kind.
func kindFromMode(mode fs.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindRegular
	case mode.IsDir():
		return KindDir
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindOther
	}
}

// NormalizePath converts an OS path relative to the watched root into the
// canonical form used as the tree store key: forward slashes, NFC Unicode.
func NormalizePath(rel string) string {
	return norm.NFC.String(filepath.ToSlash(rel))
}

// nowNano returns the current time as Unix nanoseconds.
func nowNano() int64 {
	return time.Now().UnixNano()
}
