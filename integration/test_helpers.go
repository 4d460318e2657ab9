package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/state"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// TestEnvironment wires a synthetic camera stack over a temp directory
type TestEnvironment struct {
	TempDir  string
	Config   *config.Config
	StateMgr *state.Manager
	Logger   *logger.Logger
	SvcMgr   *service.Manager
	Cameras  *camera.Manager
	Store    *storage.Store
}

// SetupTestEnvironment creates a test environment with synthetic devices at
// the given indices
func SetupTestEnvironment(t *testing.T, available ...int) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.Default()
	cfg.Cameras.Backend = config.BackendSynthetic
	cfg.Cameras.WantedCount = len(available)
	cfg.Cameras.Synthetic = config.SyntheticConfig{Available: available, FPS: 20}
	cfg.Cameras.Width = 160
	cfg.Cameras.Height = 120
	cfg.Recording.ImageFolder = filepath.Join(tmpDir, "saved_imgs")
	cfg.Recording.VideoFolder = filepath.Join(tmpDir, "saved_vids")
	cfg.Recording.SaveIntervalSeconds = 1
	cfg.Recording.RecordingFPS = 5
	cfg.Recording.MaxDiskUsagePercent = 100
	cfg.State.DataDir = filepath.Join(tmpDir, "data")
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 0
	cfg.GRPC.Address = "127.0.0.1:0"

	log := logger.NewNopLogger()

	stateMgr, err := state.NewManager(cfg.State, log)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}
	t.Cleanup(func() { stateMgr.Close() })

	opener, err := camera.NewOpener(cfg.Cameras, log)
	if err != nil {
		t.Fatalf("NewOpener failed: %v", err)
	}

	store, err := storage.NewStore(storage.StoreConfig{
		Layout:              storage.Layout{ImageFolder: cfg.Recording.ImageFolder, VideoFolder: cfg.Recording.VideoFolder},
		RetentionDays:       cfg.Recording.RetentionDays,
		MaxDiskUsagePercent: cfg.Recording.MaxDiskUsagePercent,
		Catalog:             stateMgr,
	}, log)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	svcMgr := service.NewManager(log)
	camMgr := camera.NewManager(cfg.Cameras, opener, stateMgr, log)

	return &TestEnvironment{
		TempDir:  tmpDir,
		Config:   cfg,
		StateMgr: stateMgr,
		Logger:   log,
		SvcMgr:   svcMgr,
		Cameras:  camMgr,
		Store:    store,
	}
}

// Shutdown stops cameras first, then every service
func (e *TestEnvironment) Shutdown(t *testing.T) {
	t.Helper()
	if err := e.Cameras.StopAll(); err != nil {
		t.Logf("StopAll: %v", err)
	}
	ctx, cancel := ContextWithTimeout(10 * time.Second)
	defer cancel()
	if err := e.SvcMgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}
	return condition()
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// countFiles counts regular files below root with the given extension
func countFiles(t *testing.T, root, ext string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ext {
			n++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("Walk failed: %v", err)
	}
	return n
}

// rawSegmentFactory writes concatenated JPEGs, standing in for ffmpeg
type rawSegmentFactory struct{}

func (rawSegmentFactory) Open(path string, fps int) (video.SegmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &rawSegment{f: f, path: path}, nil
}

type rawSegment struct {
	f      *os.File
	path   string
	frames int
}

func (s *rawSegment) WriteFrame(data []byte) error {
	if s.f == nil {
		return video.ErrWriterClosed
	}
	s.frames++
	_, err := s.f.Write(data)
	return err
}

func (s *rawSegment) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *rawSegment) Path() string { return s.path }
func (s *rawSegment) Frames() int  { return s.frames }
