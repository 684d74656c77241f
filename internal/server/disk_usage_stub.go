//go:build !linux

package server

// DiskUsage reports no usage information on platforms without a statfs
// binding; `atlas info` still reports the hosted root's own size.
func DiskUsage(path string) (free, used uint64, err error) {
	return 0, 0, nil
}
