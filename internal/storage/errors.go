package storage

import (
	"errors"
	"fmt"
)

// ErrSnapshotsDisabled is returned by image estimates when the save interval is zero
var ErrSnapshotsDisabled = errors.New("snapshot saving is disabled")

// StorageIOError reports a folder or file operation that failed
type StorageIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageIOError) Unwrap() error {
	return e.Err
}

func ioError(op, path string, err error) error {
	return &StorageIOError{Op: op, Path: path, Err: err}
}
