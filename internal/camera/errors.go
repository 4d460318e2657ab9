package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrOwnerRunning is returned by CaptureFrame while the producer loop owns the device
	ErrOwnerRunning = errors.New("capture owner is running")
	// ErrOwnerStopped is returned once the owner has released its device
	ErrOwnerStopped = errors.New("capture owner is stopped")
	// ErrUnknownDevice is returned for indices the manager does not own
	ErrUnknownDevice = errors.New("unknown camera")
)

// NotEnoughDevicesError reports a discovery shortfall
type NotEnoughDevicesError struct {
	Found  int
	Wanted int
}

func (e *NotEnoughDevicesError) Error() string {
	return fmt.Sprintf("not enough cameras: found %d of %d wanted", e.Found, e.Wanted)
}

// Shortfall returns how many devices are missing
func (e *NotEnoughDevicesError) Shortfall() int {
	return e.Wanted - e.Found
}

// DeviceOpenError reports a device that could not be opened. It degrades
// that device only.
type DeviceOpenError struct {
	Index int
	Err   error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("failed to open camera %d: %v", e.Index, e.Err)
}

func (e *DeviceOpenError) Unwrap() error {
	return e.Err
}

// FrameReadError reports a failed or timed out read. The owner stops after one.
type FrameReadError struct {
	Index   int
	Err     error
	Timeout bool
}

func (e *FrameReadError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("camera %d: frame read timed out: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("camera %d: frame read failed: %v", e.Index, e.Err)
}

func (e *FrameReadError) Unwrap() error {
	return e.Err
}
