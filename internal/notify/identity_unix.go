//go:build unix

package notify

import (
	"io/fs"
	"syscall"
)

// identityFor extracts the inode number as the identity token. A file
// replaced in place (unlink + create) gets a new inode even when size
// and mtime happen to match.
func identityFor(fi fs.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}

	return 0
}
