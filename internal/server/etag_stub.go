//go:build !unix

package server

import (
	"fmt"
	"os"
)

// FileETag falls back to size and mtime on platforms without a stat binding
// exposing device and inode numbers.
func FileETag(info os.FileInfo) string {
	return fmt.Sprintf("0-%d-%d", info.Size(), info.ModTime().UnixNano())
}
