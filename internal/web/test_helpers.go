package web

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// fakeCameras serves distributors backed by plain slots
type fakeCameras struct {
	mu    sync.Mutex
	slots map[int]*video.FrameSlot
	dists map[int]*video.FrameDistributor
}

func newFakeCameras(indices ...int) *fakeCameras {
	f := &fakeCameras{
		slots: make(map[int]*video.FrameSlot),
		dists: make(map[int]*video.FrameDistributor),
	}
	for _, index := range indices {
		slot := video.NewFrameSlot()
		f.slots[index] = slot
		f.dists[index] = video.NewFrameDistributor(index, slot, video.DistributorConfig{JPEGQuality: 80}, logger.NewNopLogger())
	}
	return f
}

func (f *fakeCameras) Devices() []camera.DeviceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	infos := make([]camera.DeviceInfo, 0, len(f.slots))
	for index, slot := range f.slots {
		state := camera.StateRunning
		if slot.Closed() {
			state = camera.StateStopped
		}
		_, seq := slot.Latest()
		infos = append(infos, camera.DeviceInfo{
			Index:   index,
			Label:   fmt.Sprintf("Camera %d", index),
			Backend: "fake",
			State:   state.String(),
			LastSeq: seq,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos
}

func (f *fakeCameras) FrameDistributor(index int) (*video.FrameDistributor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.dists[index]
	if !ok {
		return nil, fmt.Errorf("unknown camera %d", index)
	}
	return dist, nil
}

func (f *fakeCameras) publish(index int) {
	f.mu.Lock()
	slot := f.slots[index]
	f.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, 32, 24))
	slot.Publish(&video.Frame{Image: img, Width: 32, Height: 24, Timestamp: time.Now(), DeviceIndex: index})
}

func (f *fakeCameras) stop(index int) {
	f.mu.Lock()
	slot := f.slots[index]
	f.mu.Unlock()
	slot.Close()
}

// fakeStorage returns fixed stats
type fakeStorage struct {
	stats *storage.StorageStats
	err   error
}

func (f *fakeStorage) GetStorageStats(ctx context.Context) (*storage.StorageStats, error) {
	return f.stats, f.err
}

func testWebConfig() *config.WebConfig {
	return &config.WebConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
		Auth:    config.AuthConfig{TokenTTL: time.Hour},
	}
}

func testAuthConfig() *config.WebConfig {
	cfg := testWebConfig()
	cfg.Auth.Username = "viewer"
	cfg.Auth.Password = "s3cret"
	cfg.Auth.TokenSecret = "test-secret"
	return cfg
}

// setupTestServer builds a server over a fake camera set
func setupTestServer(t *testing.T, cfg *config.WebConfig, cams *fakeCameras) *Server {
	t.Helper()

	srv, err := NewServer(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if cams != nil {
		srv.SetDependencies(cams, nil, nil)
	}
	return srv
}
