package storage

import (
	"os"
	"syscall"
)

// OnDiskSize returns the space a file occupies on disk: allocated 512-byte
// blocks, but never less than its logical size
func OnDiskSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, ioError("stat", path, err)
	}

	size := info.Size()
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		if allocated := int64(st.Blocks) * 512; allocated > size {
			size = allocated
		}
	}
	return size, nil
}
