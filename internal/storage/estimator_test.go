package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

func newTestEstimator(t *testing.T, interval int) (*Estimator, string) {
	t.Helper()
	tmpDir := t.TempDir()
	return NewEstimator(EstimatorConfig{
		SaveIntervalSeconds: interval,
		RecordingFPS:        10,
		JPEGQuality:         80,
		TempDir:             tmpDir,
	}, fileSegmentFactory{}, logger.NewNopLogger()), tmpDir
}

func TestEstimateImageStorage(t *testing.T) {
	estimator, tmpDir := newTestEstimator(t, 5)
	capturer := &blackCapturer{width: 640, height: 480}

	estimate, err := estimator.EstimateImageStorage(0, capturer)
	require.NoError(t, err)

	assert.Equal(t, EstimateImage, estimate.Kind)
	assert.Equal(t, 720.0, estimate.UnitsPerHour)
	assert.Greater(t, estimate.BytesPerUnit, int64(500))
	assert.Less(t, estimate.BytesPerUnit, int64(200*1024))
	assert.InDelta(t, float64(estimate.BytesPerUnit)*720/bytesPerMB, estimate.ProjectedMBPerHour, 1e-9)
	assert.Equal(t, 1, capturer.calls)
	assert.Empty(t, dirEntries(t, tmpDir), "temp file should be removed")
}

func TestEstimateImageStorage_RoundsSnapshotsUp(t *testing.T) {
	estimator, _ := newTestEstimator(t, 7)

	estimate, err := estimator.EstimateImageStorage(2, &blackCapturer{width: 64, height: 48})
	require.NoError(t, err)
	assert.Equal(t, 515.0, estimate.UnitsPerHour)
	assert.Equal(t, 2, estimate.DeviceIndex)
}

func TestEstimateImageStorage_Errors(t *testing.T) {
	disabled, _ := newTestEstimator(t, 0)
	_, err := disabled.EstimateImageStorage(0, &blackCapturer{width: 64, height: 48})
	assert.ErrorIs(t, err, ErrSnapshotsDisabled)

	estimator, tmpDir := newTestEstimator(t, 5)
	_, err = estimator.EstimateImageStorage(0, &blackCapturer{err: errCaptureFailed})
	assert.ErrorIs(t, err, errCaptureFailed)
	assert.Empty(t, dirEntries(t, tmpDir))
}

func TestEstimateVideoStorage(t *testing.T) {
	estimator, tmpDir := newTestEstimator(t, 5)
	capturer := &blackCapturer{width: 64, height: 48}

	estimate, err := estimator.EstimateVideoStorage(context.Background(), 1, capturer, 300*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, EstimateVideo, estimate.Kind)
	assert.Equal(t, 3, capturer.calls)
	assert.InDelta(t, 12000.0, estimate.UnitsPerHour, 1e-6)
	assert.Positive(t, estimate.BytesPerUnit)
	assert.Empty(t, dirEntries(t, tmpDir), "temp segment should be removed")
}

func TestEstimateVideoStorage_Errors(t *testing.T) {
	ctx := context.Background()

	noWriter := NewEstimator(EstimatorConfig{RecordingFPS: 10, TempDir: t.TempDir()}, nil, logger.NewNopLogger())
	_, err := noWriter.EstimateVideoStorage(ctx, 0, &blackCapturer{width: 8, height: 8}, time.Second)
	assert.Error(t, err)

	estimator, tmpDir := newTestEstimator(t, 5)
	_, err = estimator.EstimateVideoStorage(ctx, 0, &blackCapturer{width: 8, height: 8}, 0)
	assert.Error(t, err)

	_, err = estimator.EstimateVideoStorage(ctx, 0, &blackCapturer{err: errCaptureFailed}, time.Second)
	assert.True(t, errors.Is(err, errCaptureFailed))
	assert.Empty(t, dirEntries(t, tmpDir))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = estimator.EstimateVideoStorage(cancelled, 0, &blackCapturer{width: 8, height: 8}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, tmpDir))
}

func TestEstimateVideoStorage_LogsCloseFailureOnErrorPath(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tmpDir := t.TempDir()
	estimator := NewEstimator(EstimatorConfig{RecordingFPS: 10, TempDir: tmpDir},
		fileSegmentFactory{closeErr: errors.New("flush failed")},
		&logger.Logger{Logger: zap.New(core)})

	_, err := estimator.EstimateVideoStorage(context.Background(), 3, &blackCapturer{err: errCaptureFailed}, time.Second)
	assert.ErrorIs(t, err, errCaptureFailed, "close failure must not mask the capture error")
	assert.Empty(t, dirEntries(t, tmpDir))

	entries := logs.FilterMessage("Failed to close estimate segment").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "flush failed", entries[0].ContextMap()["error"])
}

func TestEstimateAll(t *testing.T) {
	estimator, tmpDir := newTestEstimator(t, 5)
	capturers := map[int]*blackCapturer{
		0: {width: 64, height: 48},
		2: {width: 64, height: 48, err: errCaptureFailed},
	}
	lookup := func(index int) (FrameCapturer, error) {
		c, ok := capturers[index]
		if !ok {
			return nil, errors.New("unknown camera")
		}
		return c, nil
	}

	estimates := estimator.EstimateAll(context.Background(), []int{0, 1, 2}, lookup, 200*time.Millisecond)
	require.Len(t, estimates, 2)
	assert.Equal(t, EstimateImage, estimates[0].Kind)
	assert.Equal(t, EstimateVideo, estimates[1].Kind)
	for _, est := range estimates {
		assert.Equal(t, 0, est.DeviceIndex)
	}
	assert.Empty(t, dirEntries(t, tmpDir))

	imageOnly := estimator.EstimateAll(context.Background(), []int{0}, lookup, 0)
	require.Len(t, imageOnly, 1)
	assert.Equal(t, EstimateImage, imageOnly[0].Kind)
}
