package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// DefaultJPEGQuality is used when no quality is configured
const DefaultJPEGQuality = 80

// Frame is one captured picture. Frames are immutable once published:
// consumers read them concurrently and must not modify Data or Image.
type Frame struct {
	Data        []byte      // JPEG payload when the device delivers compressed frames
	Image       image.Image // decoded picture when the device delivers raw frames
	Width       int
	Height      int
	Timestamp   time.Time
	DeviceIndex int
}

// ErrEmptyFrame is returned when a frame carries neither JPEG data nor an image
var ErrEmptyFrame = errors.New("frame has no payload")

// EncodeError reports a frame that could not be turned into JPEG
type EncodeError struct {
	DeviceIndex int
	Seq         uint64
	Err         error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("camera %d: failed to encode frame %d: %v", e.DeviceIndex, e.Seq, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// IsJPEG reports whether the frame already holds a JPEG payload
func (f *Frame) IsJPEG() bool {
	return len(f.Data) > 0
}

// EncodeJPEG returns the frame as JPEG bytes. Compressed frames pass through
// untouched; raw frames are encoded at the given quality.
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	if f == nil {
		return nil, ErrEmptyFrame
	}
	if f.IsJPEG() {
		return f.Data, nil
	}
	if f.Image == nil {
		return nil, ErrEmptyFrame
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	buf.Grow(f.Width * f.Height / 4)
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeImage returns the decoded picture, decoding JPEG payloads on demand
func DecodeImage(f *Frame) (image.Image, error) {
	if f == nil {
		return nil, ErrEmptyFrame
	}
	if f.Image != nil {
		return f.Image, nil
	}
	if !f.IsJPEG() {
		return nil, ErrEmptyFrame
	}
	return jpeg.Decode(bytes.NewReader(f.Data))
}
