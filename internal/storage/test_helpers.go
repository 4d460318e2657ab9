package storage

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// memCatalog is an in-memory Catalog
type memCatalog struct {
	mu   sync.Mutex
	recs map[string]Recording
}

func newMemCatalog() *memCatalog {
	return &memCatalog{recs: make(map[string]Recording)}
}

func (c *memCatalog) SaveRecording(ctx context.Context, rec Recording) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.Path] = rec
	return nil
}

func (c *memCatalog) ListRecordings(ctx context.Context, kind string, before time.Time) ([]Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Recording
	for _, rec := range c.recs {
		if kind != "" && rec.Kind != kind {
			continue
		}
		if !before.IsZero() && !rec.CreatedAt.Before(before) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *memCatalog) DeleteRecording(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recs, path)
	return nil
}

func (c *memCatalog) RecordingStats(ctx context.Context) (*RecordingStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := &RecordingStats{}
	for _, rec := range c.recs {
		switch rec.Kind {
		case KindSnapshot:
			stats.Snapshots++
		case KindSegment:
			stats.Segments++
		}
		stats.TotalSizeBytes += rec.SizeBytes
	}
	return stats, nil
}

func (c *memCatalog) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func setupTestStore(t *testing.T) (*Store, *memCatalog) {
	t.Helper()
	tmpDir := t.TempDir()
	catalog := newMemCatalog()
	store, err := NewStore(StoreConfig{
		Layout: Layout{
			ImageFolder: filepath.Join(tmpDir, "saved_imgs"),
			VideoFolder: filepath.Join(tmpDir, "saved_vids"),
		},
		RetentionDays:       2,
		MaxDiskUsagePercent: 100,
		Catalog:             catalog,
	}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store, catalog
}

// blackCapturer returns black frames of the given size
type blackCapturer struct {
	width, height int
	calls         int
	err           error
}

func (c *blackCapturer) CaptureFrame() (*video.Frame, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &video.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, c.width, c.height)),
		Width:     c.width,
		Height:    c.height,
		Timestamp: time.Now(),
	}, nil
}

// fileSegmentFactory concatenates frames into a plain file
type fileSegmentFactory struct {
	closeErr error
}

func (fsf fileSegmentFactory) Open(path string, fps int) (video.SegmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileSegment{f: f, path: path, closeErr: fsf.closeErr}, nil
}

type fileSegment struct {
	f        *os.File
	path     string
	frames   int
	closeErr error
}

func (s *fileSegment) WriteFrame(data []byte) error {
	if s.f == nil {
		return video.ErrWriterClosed
	}
	s.frames++
	_, err := s.f.Write(data)
	return err
}

func (s *fileSegment) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if s.closeErr != nil {
		return s.closeErr
	}
	return err
}

func (s *fileSegment) Path() string { return s.path }
func (s *fileSegment) Frames() int  { return s.frames }

var errCaptureFailed = errors.New("capture failed")

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
