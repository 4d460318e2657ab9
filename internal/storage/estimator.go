package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/video"
)

const bytesPerMB = 1024 * 1024

// Estimate kinds
const (
	EstimateImage = "image"
	EstimateVideo = "video"
)

// FrameCapturer reads one frame on demand. Only safe before capture starts.
type FrameCapturer interface {
	CaptureFrame() (*video.Frame, error)
}

// StorageEstimate is a projected hourly storage cost for one device
type StorageEstimate struct {
	DeviceIndex        int     `json:"device_index"`
	Kind               string  `json:"kind"`
	BytesPerUnit       int64   `json:"bytes_per_unit"`
	UnitsPerHour       float64 `json:"units_per_hour"`
	ProjectedMBPerHour float64 `json:"projected_mb_per_hour"`
}

// EstimatorConfig contains estimator configuration
type EstimatorConfig struct {
	SaveIntervalSeconds int
	RecordingFPS        int
	JPEGQuality         int
	TempDir             string
}

// Estimator measures real captures to project storage use
type Estimator struct {
	config   EstimatorConfig
	segments video.SegmentWriterFactory
	logger   *logger.Logger
}

// NewEstimator creates an estimator. segments may be nil, in which case
// video estimates fail.
func NewEstimator(config EstimatorConfig, segments video.SegmentWriterFactory, log *logger.Logger) *Estimator {
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Estimator{config: config, segments: segments, logger: log}
}

// EstimateImageStorage captures one frame, measures its on-disk size as a
// JPEG and multiplies by the snapshots taken per hour
func (e *Estimator) EstimateImageStorage(index int, capturer FrameCapturer) (*StorageEstimate, error) {
	if e.config.SaveIntervalSeconds <= 0 {
		return nil, ErrSnapshotsDisabled
	}

	frame, err := capturer.CaptureFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to capture frame: %w", err)
	}
	data, err := video.EncodeJPEG(frame, e.config.JPEGQuality)
	if err != nil {
		return nil, &video.EncodeError{DeviceIndex: index, Err: err}
	}

	tmp, err := os.CreateTemp(e.config.TempDir, fmt.Sprintf("estimate-camera%d-*.jpg", index))
	if err != nil {
		return nil, ioError("create", e.config.TempDir, err)
	}
	tmpPath := tmp.Name()
	defer e.removeTemp(tmpPath)

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return nil, ioError("write", tmpPath, err)
	}

	size, err := OnDiskSize(tmpPath)
	if err != nil {
		return nil, err
	}

	units := math.Ceil(3600 / float64(e.config.SaveIntervalSeconds))
	estimate := &StorageEstimate{
		DeviceIndex:        index,
		Kind:               EstimateImage,
		BytesPerUnit:       size,
		UnitsPerHour:       units,
		ProjectedMBPerHour: float64(size) * units / bytesPerMB,
	}
	e.logger.Info("Image storage estimate",
		"camera", index,
		"bytes_per_image", size,
		"images_per_hour", units,
		"mb_per_hour", fmt.Sprintf("%.2f", estimate.ProjectedMBPerHour),
	)
	return estimate, nil
}

// EstimateVideoStorage records a temporary segment for duration and
// extrapolates its size to an hour
func (e *Estimator) EstimateVideoStorage(ctx context.Context, index int, capturer FrameCapturer, duration time.Duration) (*StorageEstimate, error) {
	if e.segments == nil {
		return nil, fmt.Errorf("video segment writer unavailable")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("estimate duration must be positive, got %v", duration)
	}
	fps := e.config.RecordingFPS
	if fps <= 0 {
		return nil, fmt.Errorf("recording fps must be positive, got %d", fps)
	}

	tmpPath := filepath.Join(e.config.TempDir, fmt.Sprintf("estimate-camera%d-%d.mp4", index, time.Now().UnixNano()))
	defer e.removeTemp(tmpPath)

	writer, err := e.segments.Open(tmpPath, fps)
	if err != nil {
		return nil, fmt.Errorf("failed to open estimate segment: %w", err)
	}

	frames := max(1, int(duration.Seconds()*float64(fps)))
	if err := e.recordFrames(ctx, index, capturer, writer, frames, fps); err != nil {
		if cerr := writer.Close(); cerr != nil {
			e.logger.Warn("Failed to close estimate segment", "path", tmpPath, "error", cerr)
		}
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize estimate segment: %w", err)
	}

	size, err := OnDiskSize(tmpPath)
	if err != nil {
		return nil, err
	}

	units := 3600 / duration.Seconds()
	estimate := &StorageEstimate{
		DeviceIndex:        index,
		Kind:               EstimateVideo,
		BytesPerUnit:       size,
		UnitsPerHour:       units,
		ProjectedMBPerHour: float64(size) * units / bytesPerMB,
	}
	e.logger.Info("Video storage estimate",
		"camera", index,
		"sample_seconds", duration.Seconds(),
		"sample_bytes", size,
		"mb_per_hour", fmt.Sprintf("%.2f", estimate.ProjectedMBPerHour),
	)
	return estimate, nil
}

// EstimateAll runs the image and, when duration is positive, video
// estimates for every index. Per-device failures are logged and skipped.
func (e *Estimator) EstimateAll(ctx context.Context, indices []int, capturer func(index int) (FrameCapturer, error), duration time.Duration) []StorageEstimate {
	estimates := make([]StorageEstimate, 0, 2*len(indices))
	for _, index := range indices {
		if ctx.Err() != nil {
			break
		}
		c, err := capturer(index)
		if err != nil {
			e.logger.Warn("Skipping estimate", "camera", index, "error", err)
			continue
		}

		if est, err := e.EstimateImageStorage(index, c); err != nil {
			if !errors.Is(err, ErrSnapshotsDisabled) {
				e.logger.Warn("Image estimate failed", "camera", index, "error", err)
			}
		} else {
			estimates = append(estimates, *est)
		}

		if duration <= 0 || e.segments == nil {
			continue
		}
		if est, err := e.EstimateVideoStorage(ctx, index, c, duration); err != nil {
			e.logger.Warn("Video estimate failed", "camera", index, "error", err)
		} else {
			estimates = append(estimates, *est)
		}
	}
	return estimates
}

func (e *Estimator) recordFrames(ctx context.Context, index int, capturer FrameCapturer, writer video.SegmentWriter, frames, fps int) error {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for i := 0; i < frames; i++ {
		frame, err := capturer.CaptureFrame()
		if err != nil {
			return fmt.Errorf("failed to capture frame: %w", err)
		}
		data, err := video.EncodeJPEG(frame, e.config.JPEGQuality)
		if err != nil {
			return &video.EncodeError{DeviceIndex: index, Seq: uint64(i + 1), Err: err}
		}
		if err := writer.WriteFrame(data); err != nil {
			return fmt.Errorf("failed to write estimate frame: %w", err)
		}

		if i == frames-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (e *Estimator) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("Failed to remove temp file", "path", path, "error", err)
	}
}
