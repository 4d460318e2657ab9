package recording

import (
	"context"
	"os"
	"time"

	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// segmentRetryDelay spaces out attempts to reopen a failed segment
const segmentRetryDelay = 5 * time.Second

// segment is the writer for one device and one wall-clock hour
type segment struct {
	key      string
	writer   video.SegmentWriter
	openedAt time.Time
}

func (s *Scheduler) runVideo(ctx context.Context, dist *video.FrameDistributor) {
	defer s.wg.Done()

	index := dist.Index()
	ticker := time.NewTicker(time.Second / time.Duration(s.config.RecordingFPS))
	defer ticker.Stop()

	var current *segment
	var retryAt time.Time
	defer func() {
		s.closeSegment(ctx, index, current)
	}()

	s.LogDebug("Video task started", "index", index, "fps", s.config.RecordingFPS)

	for {
		select {
		case <-ctx.Done():
			return
		case <-dist.Done():
			s.LogInfo("Camera stopped, ending video task", "index", index)
			return
		case <-ticker.C:
		}

		frame, seq := dist.Latest()
		if frame == nil {
			continue
		}

		if !s.hasSpace(ctx) {
			s.closeSegment(ctx, index, current)
			current = nil
			continue
		}

		now := s.now()
		key := storage.SegmentKey(now)
		if current == nil || current.key != key {
			s.closeSegment(ctx, index, current)
			current = nil

			if time.Now().Before(retryAt) {
				continue
			}
			seg, err := s.openSegment(index, now, key)
			if err != nil {
				retryAt = time.Now().Add(s.retryDelay)
				continue
			}
			current = seg
		}

		data, err := dist.Encode(frame, seq)
		if err != nil {
			s.LogDebug("Skipping frame that failed to encode", "index", index, "seq", seq, "error", err)
			continue
		}

		if err := current.writer.WriteFrame(data); err != nil {
			s.segmentErrors.Add(1)
			s.LogError("Failed to write video frame", err, "index", index, "path", current.writer.Path())
			s.PublishEvent(service.EventTypeRecordingError, map[string]interface{}{
				"index": index,
				"kind":  "segment",
				"error": err.Error(),
			})
			s.closeSegment(ctx, index, current)
			current = nil
			retryAt = time.Now().Add(s.retryDelay)
		}
	}
}

func (s *Scheduler) openSegment(index int, now time.Time, key string) (*segment, error) {
	dir := s.store.Layout().SegmentDir(now, index)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.segmentErrors.Add(1)
		ioErr := &storage.StorageIOError{Op: "mkdir", Path: dir, Err: err}
		s.LogError("Failed to prepare segment folder", ioErr, "index", index)
		return nil, ioErr
	}
	path, err := s.store.Layout().NextSegmentPath(now, index)
	if err != nil {
		s.segmentErrors.Add(1)
		s.LogError("Failed to pick segment name", err, "index", index)
		return nil, err
	}

	writer, err := s.segments.Open(path, s.config.RecordingFPS)
	if err != nil {
		s.segmentErrors.Add(1)
		s.LogError("Failed to open video segment", err, "index", index, "path", path)
		s.PublishEvent(service.EventTypeRecordingError, map[string]interface{}{
			"index": index,
			"kind":  "segment",
			"error": err.Error(),
		})
		return nil, err
	}

	s.segMu.Lock()
	s.active[index] = path
	s.segMu.Unlock()

	s.LogInfo("Opened video segment", "index", index, "path", path)
	s.PublishEvent(service.EventTypeSegmentOpened, map[string]interface{}{
		"index": index,
		"path":  path,
		"key":   key,
	})
	return &segment{key: key, writer: writer, openedAt: now}, nil
}

// closeSegment flushes seg and catalogs the finished file. The scheduler
// context may already be cancelled, so catalog writes get their own.
func (s *Scheduler) closeSegment(ctx context.Context, index int, seg *segment) {
	if seg == nil {
		return
	}

	s.segMu.Lock()
	delete(s.active, index)
	s.segMu.Unlock()

	path := seg.writer.Path()
	frames := seg.writer.Frames()
	if err := seg.writer.Close(); err != nil {
		s.segmentErrors.Add(1)
		s.LogError("Failed to finalize video segment", err, "index", index, "path", path)
		return
	}
	s.segmentsClosed.Add(1)

	catalogCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if frames > 0 {
		if err := s.store.RecordSegment(catalogCtx, index, path, seg.openedAt); err != nil {
			s.LogWarn("Failed to catalog segment", "path", path, "error", err)
		}
	}

	s.LogInfo("Closed video segment", "index", index, "path", path, "frames", frames)
	s.PublishEvent(service.EventTypeSegmentClosed, map[string]interface{}{
		"index":  index,
		"path":   path,
		"frames": frames,
	})
}
