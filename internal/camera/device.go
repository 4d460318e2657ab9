package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/johnywakim02/remote-stream/internal/video"
)

// ErrReadTimeout is wrapped by FrameReadError when a device produced nothing in time
var ErrReadTimeout = errors.New("timed out waiting for frame")

// Device is an open capture handle. A Device is used by one goroutine at a time.
type Device interface {
	// Ready reports whether the handle can deliver frames
	Ready() bool
	// ReadFrame blocks for at most timeout
	ReadFrame(timeout time.Duration) (*video.Frame, error)
	Close() error
}

// DeviceOpener opens devices by index
type DeviceOpener interface {
	Open(index int) (Device, error)
	// Backend names the opener for logs and the device registry
	Backend() string
}

// DeviceIndex is an available device found by discovery
type DeviceIndex struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// NewDeviceIndex returns the index with its display label
func NewDeviceIndex(index int) DeviceIndex {
	return DeviceIndex{Index: index, Label: fmt.Sprintf("Camera %d", index)}
}
