//go:build !unix

package notify

import "io/fs"

// identityFor has no inode equivalent on this platform; the engine falls
// back to (size, mtime) comparison for replace-in-place detection.
func identityFor(_ fs.FileInfo) uint64 {
	return 0
}
