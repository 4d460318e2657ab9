package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
)

func stopScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestScheduler_SnapshotInterval(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.SaveIntervalSeconds = 1

	source := newFakeSource(0)
	source.publish(0)
	sched, catalog := setupTestScheduler(t, cfg, source, nil)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(2500 * time.Millisecond)
	stopScheduler(t, sched)

	files := countFiles(t, cfg.ImageFolder)
	if files < 2 || files > 3 {
		t.Errorf("Expected 2 or 3 snapshots in 2.5s at 1s interval, got %d", files)
	}
	if catalog.count(storage.KindSnapshot) != files {
		t.Errorf("Expected %d catalogued snapshots, got %d", files, catalog.count(storage.KindSnapshot))
	}
	if got := sched.Stats().SnapshotsSaved; got != uint64(files) {
		t.Errorf("Expected %d saved, stats say %d", files, got)
	}
}

func TestScheduler_SnapshotSkipsDevicesWithoutFrames(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.SaveIntervalSeconds = 60

	clock := &fakeClock{now: time.Date(2026, time.May, 20, 9, 15, 30, 0, time.Local)}
	source := newFakeSource(0, 1, 2)
	source.publish(1)
	source.publish(2)
	source.stop(2)

	sched, _ := setupTestScheduler(t, cfg, source, nil)
	sched.SetClock(clock.Now)

	if saved := sched.snapshotAll(context.Background()); saved != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", saved)
	}

	layout := storage.Layout{ImageFolder: cfg.ImageFolder, VideoFolder: cfg.VideoFolder}
	want := layout.SnapshotPath(clock.Now(), 1)
	if filepath.Base(want) != "09_15_30.jpg" {
		t.Fatalf("Unexpected snapshot name %s", want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("Expected snapshot at %s: %v", want, err)
	}
}

func TestScheduler_SnapshotWriteFailureContinues(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.SaveIntervalSeconds = 60

	clock := &fakeClock{now: time.Date(2026, time.May, 20, 9, 0, 0, 0, time.Local)}
	source := newFakeSource(0, 1)
	source.publish(0)
	source.publish(1)

	sched, _ := setupTestScheduler(t, cfg, source, nil)
	sched.SetClock(clock.Now)
	bus := service.NewEventBus(10)
	defer bus.Close()
	sched.SetEventBus(bus)
	errCh := bus.Subscribe(service.EventTypeRecordingError)

	// A file where camera0's folder should be makes its write fail
	dateDir := filepath.Join(cfg.ImageFolder, storage.DateDir(clock.Now()))
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dateDir, storage.DeviceDir(0)), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if saved := sched.snapshotAll(context.Background()); saved != 1 {
		t.Errorf("Expected camera1 to be saved despite camera0 failing, got %d", saved)
	}
	if got := sched.Stats().SnapshotErrors; got != 1 {
		t.Errorf("Expected 1 snapshot error, got %d", got)
	}

	select {
	case event := <-errCh:
		if event.Data["index"] != 0 {
			t.Errorf("Expected error event for camera 0, got %v", event.Data)
		}
	case <-time.After(time.Second):
		t.Error("Expected recording error event")
	}
}

func TestScheduler_HourlyRotation(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.RecordingFPS = 50

	clock := &fakeClock{now: time.Date(2026, time.May, 20, 10, 59, 58, 0, time.Local)}
	source := newFakeSource(0)
	source.publish(0)
	factory := &fakeFactory{}

	sched, catalog := setupTestScheduler(t, cfg, source, factory)
	sched.SetClock(clock.Now)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "first segment frames", func() bool {
		w := factory.opened()
		return len(w) == 1 && w[0].Frames() >= 3
	})

	clock.Set(time.Date(2026, time.May, 20, 11, 0, 1, 0, time.Local))
	waitFor(t, "second segment", func() bool { return len(factory.opened()) == 2 })

	clock.Set(time.Date(2026, time.May, 21, 0, 0, 1, 0, time.Local))
	waitFor(t, "day rollover segment", func() bool { return len(factory.opened()) == 3 })

	stopScheduler(t, sched)

	writers := factory.opened()
	expected := []string{
		filepath.Join(cfg.VideoFolder, "20_05_2026", "camera0", "10.mp4"),
		filepath.Join(cfg.VideoFolder, "20_05_2026", "camera0", "11.mp4"),
		filepath.Join(cfg.VideoFolder, "21_05_2026", "camera0", "00.mp4"),
	}
	for i, w := range writers {
		if w.Path() != expected[i] {
			t.Errorf("Segment %d: expected %s, got %s", i, expected[i], w.Path())
		}
		if !w.isClosed() {
			t.Errorf("Segment %d not closed", i)
		}
		if w.Frames() == 0 {
			t.Errorf("Segment %d has no frames", i)
		}
	}
	if catalog.count(storage.KindSegment) != 3 {
		t.Errorf("Expected 3 catalogued segments, got %d", catalog.count(storage.KindSegment))
	}
	if active := sched.Stats().ActiveSegments; len(active) != 0 {
		t.Errorf("Expected no active segments after stop, got %v", active)
	}
}

func TestScheduler_StopClosesWriter(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.RecordingFPS = 30

	source := newFakeSource(0, 1)
	source.publish(0)
	source.publish(1)
	factory := &fakeFactory{}

	sched, _ := setupTestScheduler(t, cfg, source, factory)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "both segments", func() bool { return len(factory.opened()) == 2 })

	stopScheduler(t, sched)

	for _, w := range factory.opened() {
		if !w.isClosed() {
			t.Errorf("Writer %s left open after stop", w.Path())
		}
	}
	if sched.GetStatus().GetStatus() != service.StatusStopped {
		t.Errorf("Expected stopped status, got %s", sched.GetStatus().GetStatus())
	}
}

func TestScheduler_DeviceStopEndsVideoTask(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.RecordingFPS = 30

	source := newFakeSource(0)
	source.publish(0)
	factory := &fakeFactory{}

	sched, _ := setupTestScheduler(t, cfg, source, factory)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopScheduler(t, sched)

	waitFor(t, "segment", func() bool { return len(factory.opened()) == 1 })
	source.stop(0)
	waitFor(t, "writer closed", func() bool { return factory.opened()[0].isClosed() })

	if got := sched.Stats().SegmentsClosed; got != 1 {
		t.Errorf("Expected 1 closed segment, got %d", got)
	}
}

func TestScheduler_OpenFailureRetries(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.RecordingFPS = 50

	source := newFakeSource(0)
	source.publish(0)
	factory := &fakeFactory{openErr: errors.New("encoder busy")}

	sched, _ := setupTestScheduler(t, cfg, source, factory)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	stopScheduler(t, sched)

	// One attempt, then backoff
	if got := sched.Stats().SegmentErrors; got != 1 {
		t.Errorf("Expected a single open attempt within the retry delay, got %d errors", got)
	}
}

func TestScheduler_DeletePriorSaves(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.DeletePriorSaves = true

	stale := filepath.Join(cfg.ImageFolder, "01_01_2020", "camera0", "00_00_00.jpg")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, time.May, 20, 8, 0, 0, 0, time.Local)}
	sched, _ := setupTestScheduler(t, cfg, newFakeSource(0, 1), nil)
	sched.SetClock(clock.Now)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stopScheduler(t, sched)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Prior snapshot should be deleted")
	}
	for _, index := range []int{0, 1} {
		for _, root := range []string{cfg.ImageFolder, cfg.VideoFolder} {
			dir := filepath.Join(root, "20_05_2026", storage.DeviceDir(index))
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				t.Errorf("Expected prepared folder %s", dir)
			}
		}
	}
}

func TestScheduler_PrepareFailureIsFatal(t *testing.T) {
	cfg := testRecordingConfig(t)
	clock := &fakeClock{now: time.Date(2026, time.May, 20, 8, 0, 0, 0, time.Local)}

	sched, _ := setupTestScheduler(t, cfg, newFakeSource(0), nil)
	sched.SetClock(clock.Now)

	if err := os.WriteFile(filepath.Join(cfg.VideoFolder, "20_05_2026"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	err := sched.Start(context.Background())
	var ioErr *storage.StorageIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Expected StorageIOError, got %v", err)
	}
	if sched.GetStatus().GetError() == nil {
		t.Error("Expected status error to be recorded")
	}
}

func TestScheduler_PausesWhenDiskFull(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.SaveIntervalSeconds = 1
	cfg.MaxDiskUsagePercent = 0.001

	source := newFakeSource(0)
	source.publish(0)
	sched, _ := setupTestScheduler(t, cfg, source, nil)

	bus := service.NewEventBus(10)
	defer bus.Close()
	sched.SetEventBus(bus)
	warnings := bus.Subscribe(service.EventTypeStorageWarning)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopScheduler(t, sched)

	select {
	case event := <-warnings:
		if event.Data["threshold"] != 0.001 {
			t.Errorf("Unexpected warning data: %v", event.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected storage warning")
	}

	if !sched.Stats().Paused {
		t.Error("Scheduler should be paused")
	}
	if files := countFiles(t, cfg.ImageFolder); files != 0 {
		t.Errorf("Expected no snapshots while paused, got %d", files)
	}
}

func TestScheduler_FFmpegRotation(t *testing.T) {
	ffmpeg, err := video.NewFFmpegWrapper(logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}

	cfg := testRecordingConfig(t)
	cfg.RecordingFPS = 10

	clock := &fakeClock{now: time.Date(2026, time.May, 20, 13, 59, 59, 0, time.Local)}
	source := newFakeSource(0)
	source.publish(0)

	factory := video.NewFFmpegSegmentFactory(ffmpeg, "h264", logger.NewNopLogger())
	sched, _ := setupTestScheduler(t, cfg, source, factory)
	sched.SetClock(clock.Now)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(800 * time.Millisecond)
	clock.Set(time.Date(2026, time.May, 20, 14, 0, 1, 0, time.Local))
	waitFor(t, "rotation", func() bool { return sched.Stats().SegmentsClosed == 1 })
	time.Sleep(800 * time.Millisecond)
	stopScheduler(t, sched)

	for _, hour := range []string{"13.mp4", "14.mp4"} {
		path := filepath.Join(cfg.VideoFolder, "20_05_2026", "camera0", hour)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("Missing segment %s: %v", path, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("Segment %s is empty", path)
		}
	}
	if got := sched.Stats().SegmentErrors; got != 0 {
		t.Errorf("Expected no segment errors, got %d", got)
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat %s failed: %v", path, err)
	}
	return info.Size()
}

func TestScheduler_WriteFailureReopensWithoutTruncating(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.RecordingFPS = 50

	clock := &fakeClock{now: time.Date(2026, time.May, 20, 9, 10, 0, 0, time.Local)}
	source := newFakeSource(0)
	source.publish(0)
	factory := &fakeFactory{failFirstAfter: 20}

	sched, catalog := setupTestScheduler(t, cfg, source, factory)
	sched.SetClock(clock.Now)
	sched.retryDelay = 50 * time.Millisecond

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "reopened segment", func() bool {
		w := factory.opened()
		return len(w) == 2 && w[1].Frames() >= 3
	})
	stopScheduler(t, sched)

	writers := factory.opened()
	dir := filepath.Join(cfg.VideoFolder, "20_05_2026", "camera0")
	if writers[0].Path() != filepath.Join(dir, "09.mp4") {
		t.Errorf("Unexpected first segment: %s", writers[0].Path())
	}
	if writers[1].Path() != filepath.Join(dir, "09_1.mp4") {
		t.Errorf("Expected the retry to open 09_1.mp4, got %s", writers[1].Path())
	}

	// Every frame is the same payload, so sizes are proportional to frame counts
	first, second := fileSize(t, writers[0].Path()), fileSize(t, writers[1].Path())
	if first == 0 || first*int64(writers[1].Frames()) != second*int64(writers[0].Frames()) {
		t.Errorf("First segment lost data: %d bytes for %d frames, second %d bytes for %d frames",
			first, writers[0].Frames(), second, writers[1].Frames())
	}
	if writers[0].Frames() != 20 {
		t.Errorf("Expected 20 frames before the failure, got %d", writers[0].Frames())
	}
	if catalog.count(storage.KindSegment) != 2 {
		t.Errorf("Expected both segments catalogued, got %d", catalog.count(storage.KindSegment))
	}
}

func TestScheduler_RestartWithinHourKeepsEarlierSegment(t *testing.T) {
	cfg := testRecordingConfig(t)
	cfg.RecordingFPS = 50
	clock := &fakeClock{now: time.Date(2026, time.May, 20, 9, 10, 0, 0, time.Local)}
	dir := filepath.Join(cfg.VideoFolder, "20_05_2026", "camera0")

	run := func() *fakeWriter {
		source := newFakeSource(0)
		source.publish(0)
		factory := &fakeFactory{}
		sched, _ := setupTestScheduler(t, cfg, source, factory)
		sched.SetClock(clock.Now)
		if err := sched.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		waitFor(t, "segment frames", func() bool {
			w := factory.opened()
			return len(w) == 1 && w[0].Frames() >= 3
		})
		stopScheduler(t, sched)
		return factory.opened()[0]
	}

	first := run()
	sizeBefore := fileSize(t, first.Path())

	second := run()
	if first.Path() != filepath.Join(dir, "09.mp4") || second.Path() != filepath.Join(dir, "09_1.mp4") {
		t.Errorf("Unexpected segment paths: %s, %s", first.Path(), second.Path())
	}
	if got := fileSize(t, first.Path()); got != sizeBefore || got == 0 {
		t.Errorf("Earlier segment changed from %d to %d bytes", sizeBefore, got)
	}
}
