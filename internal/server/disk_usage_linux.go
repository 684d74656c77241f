package server

import "syscall"

// DiskUsage returns the available and used bytes of the filesystem that
// contains path. Backs the `atlas info` diagnostic.
func DiskUsage(path string) (free, used uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	free = stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	return free, total - free, nil
}
