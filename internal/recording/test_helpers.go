package recording

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// fakeSource serves distributors backed by plain slots
type fakeSource struct {
	mu    sync.Mutex
	slots map[int]*video.FrameSlot
	dists map[int]*video.FrameDistributor
}

func newFakeSource(indices ...int) *fakeSource {
	src := &fakeSource{
		slots: make(map[int]*video.FrameSlot),
		dists: make(map[int]*video.FrameDistributor),
	}
	for _, index := range indices {
		slot := video.NewFrameSlot()
		src.slots[index] = slot
		src.dists[index] = video.NewFrameDistributor(index, slot, video.DistributorConfig{JPEGQuality: 75}, logger.NewNopLogger())
	}
	return src
}

func (f *fakeSource) Indices() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	indices := make([]int, 0, len(f.slots))
	for index, slot := range f.slots {
		if !slot.Closed() {
			indices = append(indices, index)
		}
	}
	sort.Ints(indices)
	return indices
}

func (f *fakeSource) FrameDistributor(index int) (*video.FrameDistributor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.dists[index]
	if !ok {
		return nil, fmt.Errorf("unknown camera %d", index)
	}
	return dist, nil
}

func (f *fakeSource) publish(index int) {
	f.mu.Lock()
	slot := f.slots[index]
	f.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, 32, 24))
	slot.Publish(&video.Frame{Image: img, Width: 32, Height: 24, Timestamp: time.Now(), DeviceIndex: index})
}

func (f *fakeSource) stop(index int) {
	f.mu.Lock()
	slot := f.slots[index]
	f.mu.Unlock()
	slot.Close()
}

// fakeClock is a settable wall clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeFactory records every segment it opens
type fakeFactory struct {
	mu      sync.Mutex
	writers []*fakeWriter
	openErr error
	// failFirstAfter makes the first writer fail once it holds that many frames
	failFirstAfter int
}

func (f *fakeFactory) Open(path string, fps int) (video.SegmentWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &fakeWriter{path: path, file: file}
	if len(f.writers) == 0 {
		w.failAfter = f.failFirstAfter
	}
	f.writers = append(f.writers, w)
	return w, nil
}

func (f *fakeFactory) opened() []*fakeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeWriter(nil), f.writers...)
}

type fakeWriter struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	frames    int
	failAfter int
	closed    bool
}

func (w *fakeWriter) WriteFrame(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return video.ErrWriterClosed
	}
	if w.failAfter > 0 && w.frames >= w.failAfter {
		return errors.New("encoder pipe broken")
	}
	w.frames++
	_, err := w.file.Write(data)
	return err
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

func (w *fakeWriter) Path() string { return w.path }

func (w *fakeWriter) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *fakeWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// memCatalog counts catalogued recordings
type memCatalog struct {
	mu   sync.Mutex
	recs []storage.Recording
}

func (c *memCatalog) SaveRecording(_ context.Context, rec storage.Recording) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *memCatalog) ListRecordings(_ context.Context, kind string, before time.Time) ([]storage.Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []storage.Recording
	for _, rec := range c.recs {
		if kind == "" || rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c *memCatalog) DeleteRecording(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.recs[:0]
	for _, rec := range c.recs {
		if rec.Path != path {
			kept = append(kept, rec)
		}
	}
	c.recs = kept
	return nil
}

func (c *memCatalog) RecordingStats(_ context.Context) (*storage.RecordingStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := &storage.RecordingStats{}
	for _, rec := range c.recs {
		if rec.Kind == storage.KindSegment {
			stats.Segments++
		} else {
			stats.Snapshots++
		}
	}
	return stats, nil
}

func (c *memCatalog) count(kind string) int {
	recs, _ := c.ListRecordings(context.Background(), kind, time.Time{})
	return len(recs)
}

func testRecordingConfig(t *testing.T) config.RecordingConfig {
	t.Helper()
	tmpDir := t.TempDir()
	return config.RecordingConfig{
		ImageFolder:         filepath.Join(tmpDir, "saved_imgs"),
		VideoFolder:         filepath.Join(tmpDir, "saved_vids"),
		SaveIntervalSeconds: 0,
		RecordingFPS:        0,
	}
}

func setupTestScheduler(t *testing.T, cfg config.RecordingConfig, source FrameSource, segments video.SegmentWriterFactory) (*Scheduler, *memCatalog) {
	t.Helper()
	catalog := &memCatalog{}
	store, err := storage.NewStore(storage.StoreConfig{
		Layout:              storage.Layout{ImageFolder: cfg.ImageFolder, VideoFolder: cfg.VideoFolder},
		RetentionDays:       cfg.RetentionDays,
		MaxDiskUsagePercent: cfg.MaxDiskUsagePercent,
		Catalog:             catalog,
	}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return NewScheduler(cfg, source, store, segments, logger.NewNopLogger()), catalog
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	return n
}
