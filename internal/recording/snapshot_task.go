package recording

import (
	"context"
	"errors"
	"time"

	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/video"
)

func (s *Scheduler) runSnapshots(ctx context.Context) {
	defer s.wg.Done()

	s.snapshotAll(ctx)

	ticker := time.NewTicker(s.config.SaveInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotAll(ctx)
		}
	}
}

// snapshotAll saves the latest frame of every running device and returns
// how many files were written
func (s *Scheduler) snapshotAll(ctx context.Context) int {
	if !s.hasSpace(ctx) {
		return 0
	}

	now := s.now()
	saved := 0
	for _, index := range s.source.Indices() {
		if ctx.Err() != nil {
			return saved
		}

		dist, err := s.source.FrameDistributor(index)
		if err != nil {
			continue
		}

		data, seq, err := dist.LatestJPEG()
		if errors.Is(err, video.ErrEmptyFrame) {
			continue
		}
		if err != nil {
			s.snapshotErrors.Add(1)
			s.LogWarn("Failed to encode snapshot", "index", index, "seq", seq, "error", err)
			continue
		}

		path, err := s.store.SaveSnapshot(ctx, now, index, data)
		if err != nil {
			s.snapshotErrors.Add(1)
			s.LogError("Failed to save snapshot", err, "index", index)
			s.PublishEvent(service.EventTypeRecordingError, map[string]interface{}{
				"index": index,
				"kind":  "snapshot",
				"error": err.Error(),
			})
			continue
		}

		saved++
		s.snapshotsSaved.Add(1)
		s.PublishEvent(service.EventTypeSnapshotSaved, map[string]interface{}{
			"index": index,
			"path":  path,
			"seq":   seq,
		})
	}
	return saved
}
