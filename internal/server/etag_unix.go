//go:build unix

package server

import (
	"fmt"
	"os"
	"syscall"
)

// FileETag computes the "<dev>-<ino>-<mtime>" strong ETag for a regular
// file: the containing device, the inode, and the nanosecond mtime.
func FileETag(info os.FileInfo) string {
	mtimeNS := info.ModTime().UnixNano()
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%x-%d-%d", st.Dev, st.Ino, mtimeNS)
	}
	return fmt.Sprintf("0-0-%d", mtimeNS)
}
