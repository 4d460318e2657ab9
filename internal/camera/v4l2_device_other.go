//go:build !linux

package camera

import (
	"errors"
)

// Open always fails: V4L2 exists only on Linux
func (o *V4L2Opener) Open(index int) (Device, error) {
	return nil, errors.New("v4l2 capture is only supported on linux")
}
