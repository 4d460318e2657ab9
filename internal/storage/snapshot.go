package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// SaveSnapshot writes an encoded JPEG to the snapshot path for t and
// catalogs it. Catalog failures are logged, not returned: the file on disk
// is what counts.
func (s *Store) SaveSnapshot(ctx context.Context, t time.Time, index int, jpegData []byte) (string, error) {
	path := s.layout.SnapshotPath(t, index)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", ioError("mkdir", filepath.Dir(path), err)
	}
	if err := writeFileAtomic(path, jpegData); err != nil {
		return "", err
	}

	rec := Recording{
		DeviceIndex: index,
		Kind:        KindSnapshot,
		Path:        path,
		SizeBytes:   int64(len(jpegData)),
		CreatedAt:   t,
	}
	if err := s.catalogue(ctx, rec); err != nil {
		s.logger.Warn("Failed to catalog snapshot", "path", path, "error", err)
	}

	s.logger.Debug("Snapshot saved", "path", path, "camera", index, "bytes", len(jpegData))
	return path, nil
}

// writeFileAtomic writes through a temp file so readers never see a
// partial JPEG
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return ioError("create", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ioError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ioError("close", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return ioError("chmod", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return ioError("rename", path, err)
	}
	return nil
}
