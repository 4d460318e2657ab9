package config

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxProbeLimit is the highest accepted max_probe_index
const MaxProbeLimit = 15

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Cameras
	switch c.Cameras.Backend {
	case BackendV4L2, BackendRTSP, BackendSynthetic:
	default:
		errors = append(errors, fmt.Sprintf("invalid cameras.backend: %s (must be: v4l2, rtsp or synthetic)", c.Cameras.Backend))
	}
	if c.Cameras.WantedCount <= 0 {
		errors = append(errors, fmt.Sprintf("cameras.wanted_device_count must be > 0, got: %d", c.Cameras.WantedCount))
	}
	if c.Cameras.MaxProbeIndex < 1 || c.Cameras.MaxProbeIndex > MaxProbeLimit {
		errors = append(errors, fmt.Sprintf("cameras.max_probe_index must be between 1 and %d, got: %d", MaxProbeLimit, c.Cameras.MaxProbeIndex))
	}
	if c.Cameras.ReadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("cameras.read_timeout must be > 0, got: %v", c.Cameras.ReadTimeout))
	}
	if c.Cameras.JPEGQuality < 1 || c.Cameras.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("cameras.jpeg_quality must be between 1 and 100, got: %d", c.Cameras.JPEGQuality))
	}
	if c.Cameras.Width < 0 || c.Cameras.Height < 0 {
		errors = append(errors, fmt.Sprintf("cameras.width/height must be positive, got: %dx%d", c.Cameras.Width, c.Cameras.Height))
	}
	if c.Cameras.Backend == BackendRTSP {
		if len(c.Cameras.RTSPSources) == 0 {
			errors = append(errors, "cameras.rtsp_sources is required when backend is rtsp")
		}
		for i, src := range c.Cameras.RTSPSources {
			u, err := url.Parse(src)
			if err != nil || (u.Scheme != "rtsp" && u.Scheme != "rtsps") {
				errors = append(errors, fmt.Sprintf("cameras.rtsp_sources[%d] is not an rtsp url: %s", i, src))
			}
		}
	}
	for _, idx := range c.Cameras.Synthetic.Available {
		if idx < 0 {
			errors = append(errors, fmt.Sprintf("cameras.synthetic.available contains negative index %d", idx))
		}
	}

	// Recording
	if c.Recording.SaveIntervalSeconds < 0 {
		errors = append(errors, fmt.Sprintf("recording.save_interval_seconds must be >= 0, got: %d", c.Recording.SaveIntervalSeconds))
	}
	if c.Recording.RecordingFPS <= 0 {
		errors = append(errors, fmt.Sprintf("recording.recording_fps must be > 0, got: %d", c.Recording.RecordingFPS))
	}
	if strings.TrimSpace(c.Recording.ImageFolder) == "" {
		errors = append(errors, "recording.image_folder is required")
	}
	if strings.TrimSpace(c.Recording.VideoFolder) == "" {
		errors = append(errors, "recording.video_folder is required")
	}
	if c.Recording.ImageFolder != "" && c.Recording.ImageFolder == c.Recording.VideoFolder {
		errors = append(errors, "recording.image_folder and recording.video_folder must differ")
	}
	if c.Recording.RetentionDays < 0 {
		errors = append(errors, fmt.Sprintf("recording.retention_days must be >= 0, got: %d", c.Recording.RetentionDays))
	}
	if c.Recording.MaxDiskUsagePercent < 0 || c.Recording.MaxDiskUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("recording.max_disk_usage_percent must be between 0 and 100, got: %.2f", c.Recording.MaxDiskUsagePercent))
	}
	if c.Recording.EstimateDuration < 0 {
		errors = append(errors, fmt.Sprintf("recording.estimate_duration must be >= 0, got: %v", c.Recording.EstimateDuration))
	}

	// Web
	if c.Web.Enabled {
		if c.Web.Port <= 0 || c.Web.Port > 65535 {
			errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
		}
		if c.Web.Auth.Enabled() && c.Web.Auth.Password == "" {
			errors = append(errors, "web.auth.password is required when web.auth.username is set")
		}
		if c.Web.Auth.TokenTTL < 0 {
			errors = append(errors, fmt.Sprintf("web.auth.token_ttl must be >= 0, got: %v", c.Web.Auth.TokenTTL))
		}
	}

	if c.GRPC.Enabled && c.GRPC.Address == "" {
		errors = append(errors, "grpc.address is required when grpc is enabled")
	}

	if c.State.Enabled && c.State.DataDir == "" {
		errors = append(errors, "state.data_dir is required when state is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
