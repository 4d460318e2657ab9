package video

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	t.Helper()
	ffmpeg, err := NewFFmpegWrapper(logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

func setupTestDistributor(t *testing.T, index int) (*FrameSlot, *FrameDistributor) {
	t.Helper()
	slot := NewFrameSlot()
	return slot, NewFrameDistributor(index, slot, DistributorConfig{JPEGQuality: 75}, logger.NewNopLogger())
}

func testRawFrame(index int, shade uint8) *Frame {
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return &Frame{
		Image:       img,
		Width:       64,
		Height:      48,
		Timestamp:   time.Now(),
		DeviceIndex: index,
	}
}

// brokenFrame carries an unbounded image, which jpeg.Encode rejects
func brokenFrame(index int) *Frame {
	return &Frame{
		Image:       image.NewUniform(color.Black),
		DeviceIndex: index,
	}
}
