package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Time layouts of the persisted folder tree:
//
//	{image_folder}/{DD_MM_YYYY}/camera{N}/{HH_MM_SS}.jpg
//	{video_folder}/{DD_MM_YYYY}/camera{N}/{HH}.mp4, then {HH}_1.mp4, {HH}_2.mp4 ...
const (
	DateLayout     = "02_01_2006"
	SnapshotLayout = "15_04_05"
	SegmentLayout  = "15"
)

// Layout computes recording paths. Paths are derived from the time passed
// in, so a long running process follows day changes.
type Layout struct {
	ImageFolder string
	VideoFolder string
}

// DateDir returns the per-day folder name for t
func DateDir(t time.Time) string {
	return t.Format(DateLayout)
}

// DeviceDir returns the per-device folder name
func DeviceDir(index int) string {
	return fmt.Sprintf("camera%d", index)
}

// SegmentKey identifies the wall-clock hour a segment covers
func SegmentKey(t time.Time) string {
	return DateDir(t) + "/" + t.Format(SegmentLayout)
}

func (l Layout) SnapshotDir(t time.Time, index int) string {
	return filepath.Join(l.ImageFolder, DateDir(t), DeviceDir(index))
}

func (l Layout) SnapshotPath(t time.Time, index int) string {
	return filepath.Join(l.SnapshotDir(t, index), t.Format(SnapshotLayout)+".jpg")
}

func (l Layout) SegmentDir(t time.Time, index int) string {
	return filepath.Join(l.VideoFolder, DateDir(t), DeviceDir(index))
}

func (l Layout) SegmentPath(t time.Time, index int) string {
	return filepath.Join(l.SegmentDir(t, index), t.Format(SegmentLayout)+".mp4")
}

// NextSegmentPath returns SegmentPath for t unless a file is already there,
// in which case it returns the first free HH_n.mp4 of the same hour. A
// segment reopened after a pause, a failure or a restart never truncates
// what the hour already recorded.
func (l Layout) NextSegmentPath(t time.Time, index int) (string, error) {
	dir := l.SegmentDir(t, index)
	hour := t.Format(SegmentLayout)
	for n := 0; ; n++ {
		name := hour + ".mp4"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.mp4", hour, n)
		}
		path := filepath.Join(dir, name)
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", ioError("stat", path, err)
		}
	}
}

// PrepareFolders creates the date and device folders for t. Existing
// folders are left alone.
func (l Layout) PrepareFolders(t time.Time, indices []int) error {
	for _, index := range indices {
		for _, dir := range []string{l.SnapshotDir(t, index), l.SegmentDir(t, index)} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return ioError("mkdir", dir, err)
			}
		}
	}
	return nil
}

// Clear removes everything below both root folders, keeping the roots
func (l Layout) Clear() error {
	var errs []error
	for _, root := range []string{l.ImageFolder, l.VideoFolder} {
		if err := clearFolder(root); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func clearFolder(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioError("read", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return ioError("remove", path, err)
		}
	}
	return nil
}
