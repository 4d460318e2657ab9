package camera

import (
	"fmt"
	"time"

	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
)

// V4L2Opener opens {DeviceDir}/video{N} through the kernel video API
type V4L2Opener struct {
	deviceDir string
	width     int
	height    int
	logger    *logger.Logger
}

// NewV4L2Opener creates an opener for local capture devices
func NewV4L2Opener(deviceDir string, width, height int, log *logger.Logger) *V4L2Opener {
	if deviceDir == "" {
		deviceDir = "/dev"
	}
	return &V4L2Opener{deviceDir: deviceDir, width: width, height: height, logger: log}
}

// Backend returns "v4l2"
func (o *V4L2Opener) Backend() string {
	return config.BackendV4L2
}

// NewOpener builds the opener selected by cfg.Backend
func NewOpener(cfg config.CamerasConfig, log *logger.Logger) (DeviceOpener, error) {
	switch cfg.Backend {
	case config.BackendV4L2, "":
		return NewV4L2Opener(cfg.DeviceDir, cfg.Width, cfg.Height, log), nil
	case config.BackendRTSP:
		dial := cfg.RTSPDialTimeout
		if dial <= 0 {
			dial = 10 * time.Second
		}
		return NewRTSPOpener(cfg.RTSPSources, dial, log), nil
	case config.BackendSynthetic:
		return NewSyntheticOpener(cfg.Synthetic.Available, cfg.Width, cfg.Height, cfg.Synthetic.FPS), nil
	default:
		return nil, fmt.Errorf("unknown camera backend: %s", cfg.Backend)
	}
}
