package video

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// FFmpegWrapper locates ffmpeg and picks encoders for segment recording
type FFmpegWrapper struct {
	logger        *logger.Logger
	ffmpegPath    string
	hardwareAccel HardwareAcceleration
	encoders      map[string]bool
	mu            sync.RWMutex
}

// HardwareAcceleration represents available hardware acceleration
type HardwareAcceleration struct {
	VAAPI       bool // Intel/AMD via VAAPI
	NVIDIANVENC bool
	Software    bool // always available
}

// NewFFmpegWrapper creates a new FFmpeg wrapper
func NewFFmpegWrapper(log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:   log,
		encoders: make(map[string]bool),
	}

	ffmpegPath, err := detectFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	encoders, err := wrapper.detectEncoders()
	if err != nil {
		log.Warn("Failed to list ffmpeg encoders, assuming libx264", "error", err)
		encoders = map[string]bool{"libx264": true}
	}
	wrapper.encoders = encoders
	wrapper.hardwareAccel = wrapper.detectHardwareAcceleration()

	log.Info("FFmpeg wrapper initialized",
		"path", wrapper.ffmpegPath,
		"vaapi", wrapper.hardwareAccel.VAAPI,
		"nvidia_nvenc", wrapper.hardwareAccel.NVIDIANVENC,
	)

	return wrapper, nil
}

// detectFFmpeg finds FFmpeg executable
func detectFFmpeg() (string, error) {
	for _, path := range []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"} {
		resolved, err := exec.LookPath(path)
		if err != nil {
			continue
		}
		if err := exec.Command(resolved, "-version").Run(); err == nil {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// detectEncoders parses `ffmpeg -encoders`
func (f *FFmpegWrapper) detectEncoders() (map[string]bool, error) {
	output, err := exec.Command(f.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoders: %w", err)
	}
	return parseEncoderList(string(output)), nil
}

// parseEncoderList extracts video encoder names. Lines look like
// " V....D libx264              libx264 H.264 / AVC ..."
func parseEncoderList(output string) map[string]bool {
	encoders := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'V' || fields[1] == "=" {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// detectHardwareAcceleration checks for usable hardware encoders
func (f *FFmpegWrapper) detectHardwareAcceleration() HardwareAcceleration {
	accel := HardwareAcceleration{Software: true}

	if f.encoders["h264_vaapi"] && exec.Command("vainfo").Run() == nil {
		accel.VAAPI = true
		f.logger.Info("VAAPI hardware acceleration detected")
	}
	if f.encoders["h264_nvenc"] && exec.Command("nvidia-smi").Run() == nil {
		accel.NVIDIANVENC = true
		f.logger.Info("NVIDIA NVENC hardware acceleration detected")
	}
	return accel
}

// Path returns the resolved ffmpeg executable
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// GetHardwareAcceleration returns available hardware acceleration
func (f *FFmpegWrapper) GetHardwareAcceleration() HardwareAcceleration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hardwareAccel
}

// IsEncoderAvailable checks if an encoder is available
func (f *FFmpegWrapper) IsEncoderAvailable(encoder string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.encoders[encoder]
}

// GetPreferredEncoder returns the preferred encoder for a codec. Hardware
// encoders win over software; when libx264 is missing the built-in mpeg4
// encoder is used so recording still works on minimal ffmpeg builds.
func (f *FFmpegWrapper) GetPreferredEncoder(codec string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch codec {
	case "h264", "":
		if f.hardwareAccel.VAAPI {
			return "h264_vaapi"
		}
		if f.hardwareAccel.NVIDIANVENC {
			return "h264_nvenc"
		}
		if f.encoders["libx264"] || len(f.encoders) == 0 {
			return "libx264"
		}
		return "mpeg4"
	case "hevc", "h265":
		if f.hardwareAccel.VAAPI && f.encoders["hevc_vaapi"] {
			return "hevc_vaapi"
		}
		if f.hardwareAccel.NVIDIANVENC && f.encoders["hevc_nvenc"] {
			return "hevc_nvenc"
		}
		return "libx265"
	}
	return codec
}

// BuildCommand builds an FFmpeg command
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}
