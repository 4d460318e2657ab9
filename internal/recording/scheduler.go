package recording

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// FrameSource exposes the running devices. The scheduler never owns them.
type FrameSource interface {
	Indices() []int
	FrameDistributor(index int) (*video.FrameDistributor, error)
}

// Stats summarizes scheduler activity
type Stats struct {
	SnapshotsSaved  uint64         `json:"snapshots_saved"`
	SnapshotErrors  uint64         `json:"snapshot_errors"`
	SegmentsClosed  uint64         `json:"segments_closed"`
	SegmentErrors   uint64         `json:"segment_errors"`
	Paused          bool           `json:"paused"`
	ActiveSegments  map[int]string `json:"active_segments"`
	SnapshotEnabled bool           `json:"snapshot_enabled"`
	VideoEnabled    bool           `json:"video_enabled"`
}

// Scheduler saves periodic snapshots and hourly video segments for every
// running device
type Scheduler struct {
	*service.ServiceBase
	config   config.RecordingConfig
	source   FrameSource
	store    *storage.Store
	segments video.SegmentWriterFactory

	retentionInterval time.Duration
	retryDelay        time.Duration

	clockMu sync.RWMutex
	clock   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	paused atomic.Bool

	segMu  sync.Mutex
	active map[int]string

	snapshotsSaved atomic.Uint64
	snapshotErrors atomic.Uint64
	segmentsClosed atomic.Uint64
	segmentErrors  atomic.Uint64
}

// NewScheduler creates a recording scheduler. A nil segments factory
// disables video recording.
func NewScheduler(cfg config.RecordingConfig, source FrameSource, store *storage.Store, segments video.SegmentWriterFactory, log *logger.Logger) *Scheduler {
	return &Scheduler{
		ServiceBase:       service.NewServiceBase("recorder", log),
		config:            cfg,
		source:            source,
		store:             store,
		segments:          segments,
		retentionInterval: time.Hour,
		retryDelay:        segmentRetryDelay,
		clock:             time.Now,
		active:            make(map[int]string),
	}
}

// SetClock replaces the wall clock used for file names. Call before Start.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.clock = now
}

func (s *Scheduler) now() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.clock()
}

func (s *Scheduler) snapshotsEnabled() bool {
	return s.config.SaveIntervalSeconds > 0
}

func (s *Scheduler) videoEnabled() bool {
	return s.segments != nil && s.config.RecordingFPS > 0
}

// Start clears prior saves if configured, prepares today's folders and
// launches the snapshot, video and retention tasks
func (s *Scheduler) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)
	s.LogInfo("Starting recording scheduler",
		"image_folder", s.config.ImageFolder,
		"video_folder", s.config.VideoFolder,
		"save_interval", s.config.SaveInterval(),
		"recording_fps", s.config.RecordingFPS,
	)

	if s.config.DeletePriorSaves {
		if err := s.store.Clear(ctx); err != nil {
			s.GetStatus().SetError(err)
			return fmt.Errorf("failed to delete prior saves: %w", err)
		}
	}

	indices := s.source.Indices()
	if err := s.store.PrepareFolders(s.now(), indices); err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to prepare folders: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.snapshotsEnabled() {
		s.wg.Add(1)
		go s.runSnapshots(s.ctx)
	} else {
		s.LogInfo("Snapshots disabled")
	}

	if s.videoEnabled() {
		for _, index := range indices {
			dist, err := s.source.FrameDistributor(index)
			if err != nil {
				s.LogWarn("Skipping video for camera", "index", index, "error", err)
				continue
			}
			s.wg.Add(1)
			go s.runVideo(s.ctx, dist)
		}
	} else {
		s.LogWarn("Video recording disabled", "recording_fps", s.config.RecordingFPS, "writer", s.segments != nil)
	}

	if s.store.Retention().Enabled() {
		s.wg.Add(1)
		go s.runRetention(s.ctx)
	}

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Recording scheduler started", "cameras", len(indices))
	return nil
}

// Stop cancels every task and waits for open segments to be flushed
func (s *Scheduler) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping recording scheduler")

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.GetStatus().SetStatus(service.StatusStopped)
		return fmt.Errorf("recording tasks did not finish: %w", ctx.Err())
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Recording scheduler stopped")
	return nil
}

// Stats returns a snapshot of scheduler counters
func (s *Scheduler) Stats() Stats {
	s.segMu.Lock()
	active := make(map[int]string, len(s.active))
	for index, path := range s.active {
		active[index] = path
	}
	s.segMu.Unlock()

	return Stats{
		SnapshotsSaved:  s.snapshotsSaved.Load(),
		SnapshotErrors:  s.snapshotErrors.Load(),
		SegmentsClosed:  s.segmentsClosed.Load(),
		SegmentErrors:   s.segmentErrors.Load(),
		Paused:          s.paused.Load(),
		ActiveSegments:  active,
		SnapshotEnabled: s.snapshotsEnabled(),
		VideoEnabled:    s.videoEnabled(),
	}
}

// hasSpace checks the disk monitor and publishes pause transitions
func (s *Scheduler) hasSpace(ctx context.Context) bool {
	ok, err := s.store.CheckSpace(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.LogWarn("Disk usage check failed", "error", err)
		}
		return !s.paused.Load()
	}

	if !ok && !s.paused.Swap(true) {
		usage, _ := s.store.GetDiskUsage(ctx)
		data := map[string]interface{}{
			"path":          s.store.DiskMonitor().Path(),
			"threshold":     s.store.DiskMonitor().Threshold(),
			"usage_percent": 0.0,
		}
		if usage != nil {
			data["usage_percent"] = usage.UsagePercent
		}
		s.LogWarn("Disk usage above threshold, pausing recording", "threshold", s.store.DiskMonitor().Threshold())
		s.PublishEvent(service.EventTypeStorageWarning, data)
	}
	if ok && s.paused.Swap(false) {
		s.LogInfo("Disk usage back below threshold, resuming recording")
	}
	return ok
}

func (s *Scheduler) runRetention(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retentionInterval)
	defer ticker.Stop()

	for {
		if removed, err := s.store.EnforceRetention(ctx); err != nil {
			s.LogError("Retention enforcement failed", err)
		} else if removed > 0 {
			s.LogInfo("Retention enforced", "folders_removed", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
