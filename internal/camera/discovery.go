package camera

import (
	"context"
	"fmt"

	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
)

// Discovery finds openable devices by probing indices in order
type Discovery struct {
	opener   DeviceOpener
	logger   *logger.Logger
	eventBus *service.EventBus
}

// NewDiscovery creates a discovery over opener
func NewDiscovery(opener DeviceOpener, log *logger.Logger) *Discovery {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Discovery{opener: opener, logger: log}
}

// SetEventBus enables camera.discovered events
func (d *Discovery) SetEventBus(bus *service.EventBus) {
	d.eventBus = bus
}

// Discover probes indices 0..maxProbe-1 and returns the first wantedCount
// that open and report ready. Every probed handle is closed again before
// Discover returns.
func (d *Discovery) Discover(ctx context.Context, wantedCount, maxProbe int) ([]DeviceIndex, error) {
	if wantedCount <= 0 {
		return nil, fmt.Errorf("wanted device count must be positive, got %d", wantedCount)
	}
	if maxProbe < 1 || maxProbe > config.MaxProbeLimit {
		return nil, fmt.Errorf("max probe index must be between 1 and %d, got %d", config.MaxProbeLimit, maxProbe)
	}

	found := make([]DeviceIndex, 0, wantedCount)
	for index := 0; index < maxProbe && len(found) < wantedCount; index++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("discovery cancelled: %w", err)
		}
		if !d.probe(index) {
			continue
		}

		dev := NewDeviceIndex(index)
		found = append(found, dev)
		d.logger.Info("Camera available", "index", index, "backend", d.opener.Backend())

		if d.eventBus != nil {
			d.eventBus.Publish(service.Event{
				Type:   service.EventTypeCameraDiscovered,
				Source: "camera-discovery",
				Data: map[string]interface{}{
					"index":   index,
					"label":   dev.Label,
					"backend": d.opener.Backend(),
				},
			})
		}
	}

	if len(found) < wantedCount {
		return found, &NotEnoughDevicesError{Found: len(found), Wanted: wantedCount}
	}
	return found, nil
}

func (d *Discovery) probe(index int) bool {
	dev, err := d.opener.Open(index)
	if dev != nil {
		defer func() {
			if cerr := dev.Close(); cerr != nil {
				d.logger.Warn("Failed to release probed camera", "index", index, "error", cerr)
			}
		}()
	}
	if err != nil {
		d.logger.Debug("Camera not available", "index", index, "error", err)
		return false
	}
	return dev.Ready()
}
