//go:build linux

package camera

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/blackjack/webcam"

	"github.com/johnywakim02/remote-stream/internal/video"
)

const (
	pixFmtMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
	pixFmtYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'
)

// Open opens and starts streaming from /dev/videoN. On a configuration
// failure the partially opened handle is returned alongside the error so
// the caller can release it.
func (o *V4L2Opener) Open(index int) (Device, error) {
	path := filepath.Join(o.deviceDir, fmt.Sprintf("video%d", index))
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	dev := &v4l2Device{index: index, path: path, cam: cam}
	if err := dev.configure(o.width, o.height); err != nil {
		return dev, fmt.Errorf("failed to configure %s: %w", path, err)
	}

	if o.logger != nil {
		o.logger.Debug("V4L2 device opened",
			"device", path,
			"format", formatName(dev.format),
			"width", dev.width,
			"height", dev.height,
		)
	}
	return dev, nil
}

type v4l2Device struct {
	index     int
	path      string
	cam       *webcam.Webcam
	format    webcam.PixelFormat
	width     int
	height    int
	streaming bool
	closed    bool
}

// configure prefers MJPEG, which passes straight through to JPEG consumers,
// and falls back to YUYV
func (d *v4l2Device) configure(width, height int) error {
	formats := d.cam.GetSupportedFormats()

	var wanted webcam.PixelFormat
	switch {
	case formats[pixFmtMJPEG] != "":
		wanted = pixFmtMJPEG
	case formats[pixFmtYUYV] != "":
		wanted = pixFmtYUYV
	default:
		return fmt.Errorf("no supported pixel format (have %d formats)", len(formats))
	}

	format, w, h, err := d.cam.SetImageFormat(wanted, uint32(width), uint32(height))
	if err != nil {
		return fmt.Errorf("failed to set image format: %w", err)
	}
	d.format, d.width, d.height = format, int(w), int(h)

	if err := d.cam.SetBufferCount(2); err != nil {
		return fmt.Errorf("failed to set buffer count: %w", err)
	}
	if err := d.cam.StartStreaming(); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	d.streaming = true
	return nil
}

func (d *v4l2Device) Ready() bool {
	return d.streaming && !d.closed
}

func (d *v4l2Device) ReadFrame(timeout time.Duration) (*video.Frame, error) {
	if !d.Ready() {
		return nil, fmt.Errorf("%s is not streaming", d.path)
	}

	secs := uint32(math.Ceil(timeout.Seconds()))
	if secs == 0 {
		secs = 1
	}

	err := d.cam.WaitForFrame(secs)
	var timeoutErr *webcam.Timeout
	if errors.As(err, &timeoutErr) {
		return nil, ErrReadTimeout
	}
	if err != nil {
		return nil, err
	}

	buf, err := d.cam.ReadFrame()
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%s returned an empty frame", d.path)
	}

	frame := &video.Frame{
		Width:       d.width,
		Height:      d.height,
		Timestamp:   time.Now(),
		DeviceIndex: d.index,
	}
	switch d.format {
	case pixFmtMJPEG:
		frame.Data = append([]byte(nil), buf...)
	case pixFmtYUYV:
		img, err := yuyvToYCbCr(buf, d.width, d.height)
		if err != nil {
			return nil, err
		}
		frame.Image = img
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", formatName(d.format))
	}
	return frame, nil
}

func (d *v4l2Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	if d.streaming {
		d.streaming = false
		if err := d.cam.StopStreaming(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop streaming: %w", err))
		}
	}
	if err := d.cam.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close %s: %w", d.path, err))
	}
	return errors.Join(errs...)
}

func formatName(f webcam.PixelFormat) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}
