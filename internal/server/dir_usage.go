package server

import (
	"os"
	"path/filepath"
)

// DirUsedBytes returns the total size in bytes of all regular files under
// dir, recursively. Entries that vanish mid-walk are skipped. Backs the
// `atlas info` diagnostic.
func DirUsedBytes(dir string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	return total, err
}
