package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "remote-stream"

// Camera backends
const (
	BackendV4L2      = "v4l2"
	BackendRTSP      = "rtsp"
	BackendSynthetic = "synthetic"
)

// Config represents the application configuration
type Config struct {
	Cameras   CamerasConfig   `yaml:"cameras"`
	Recording RecordingConfig `yaml:"recording"`
	Web       WebConfig       `yaml:"web"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	State     StateConfig     `yaml:"state"`
	Log       LogConfig       `yaml:"log"`
}

// CamerasConfig controls discovery and capture
type CamerasConfig struct {
	Backend         string          `yaml:"backend"`
	WantedCount     int             `yaml:"wanted_device_count"`
	MaxProbeIndex   int             `yaml:"max_probe_index"`
	DeviceDir       string          `yaml:"device_dir"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	Width           int             `yaml:"width"`
	Height          int             `yaml:"height"`
	JPEGQuality     int             `yaml:"jpeg_quality"`
	RTSPSources     []string        `yaml:"rtsp_sources,omitempty"`
	RTSPDialTimeout time.Duration   `yaml:"rtsp_dial_timeout"`
	Synthetic       SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig describes the test-pattern backend
type SyntheticConfig struct {
	Available []int `yaml:"available"`
	FPS       int   `yaml:"fps"`
}

// RecordingConfig controls snapshots, hourly segments and storage upkeep
type RecordingConfig struct {
	ImageFolder         string        `yaml:"image_folder"`
	VideoFolder         string        `yaml:"video_folder"`
	SaveIntervalSeconds int           `yaml:"save_interval_seconds"`
	RecordingFPS        int           `yaml:"recording_fps"`
	DeletePriorSaves    bool          `yaml:"delete_prior_saves"`
	VideoCodec          string        `yaml:"video_codec"`
	RetentionDays       int           `yaml:"retention_days"`
	MaxDiskUsagePercent float64       `yaml:"max_disk_usage_percent"`
	EstimateOnStart     bool          `yaml:"estimate_on_start"`
	EstimateDuration    time.Duration `yaml:"estimate_duration"`
}

// SaveInterval returns the snapshot period, zero when snapshots are disabled
func (r RecordingConfig) SaveInterval() time.Duration {
	return time.Duration(r.SaveIntervalSeconds) * time.Second
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool       `yaml:"enabled"`
	Host    string     `yaml:"host"`
	Port    int        `yaml:"port"`
	Auth    AuthConfig `yaml:"auth"`
}

// Address returns host:port
func (w WebConfig) Address() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// AuthConfig protects the viewer. An empty username disables auth.
type AuthConfig struct {
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"` // never logged
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

// Enabled reports whether credentials are configured
func (a AuthConfig) Enabled() bool {
	return a.Username != ""
}

// GRPCConfig configures the health endpoint
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// StateConfig configures the sqlite catalog
type StateConfig struct {
	Enabled bool   `yaml:"enabled"`
	DataDir string `yaml:"data_dir"`
}

// DBPath returns the catalog database location
func (s StateConfig) DBPath() string {
	return filepath.Join(s.DataDir, "db", appName+".db")
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration populated with built-in defaults
func Default() *Config {
	cfg := &Config{
		Cameras: CamerasConfig{
			Backend:         BackendV4L2,
			WantedCount:     1,
			MaxProbeIndex:   10,
			DeviceDir:       "/dev",
			ReadTimeout:     5 * time.Second,
			Width:           640,
			Height:          480,
			JPEGQuality:     80,
			RTSPDialTimeout: 10 * time.Second,
			Synthetic:       SyntheticConfig{FPS: 15},
		},
		Recording: RecordingConfig{
			ImageFolder:         "saved_imgs",
			VideoFolder:         "saved_vids",
			SaveIntervalSeconds: 5,
			RecordingFPS:        10,
			DeletePriorSaves:    true,
			VideoCodec:          "h264",
			MaxDiskUsagePercent: 90,
			EstimateDuration:    5 * time.Second,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    5000,
			Auth:    AuthConfig{TokenTTL: time.Hour},
		},
		GRPC: GRPCConfig{
			Address: ":50051",
		},
		State: StateConfig{
			Enabled: true,
			DataDir: filepath.Join(xdg.StateHome, appName),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
	return cfg
}

// Load reads and parses the configuration file. An empty path searches the
// usual locations and falls back to defaults when nothing is found.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = getDefaultConfigPath()
		if configPath == "" {
			return cfg, nil
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

// getDefaultConfigPath returns the first existing configuration file, or ""
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	if path, err := xdg.SearchConfigFile(filepath.Join(appName, "config.yaml")); err == nil {
		return path
	}

	return ""
}

// setDefaults fills values that were explicitly blanked in the file
func (c *Config) setDefaults() {
	def := Default()

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Log.Output
	}

	if c.Cameras.Backend == "" {
		c.Cameras.Backend = def.Cameras.Backend
	}
	if c.Cameras.DeviceDir == "" {
		c.Cameras.DeviceDir = def.Cameras.DeviceDir
	}
	if c.Cameras.ReadTimeout == 0 {
		c.Cameras.ReadTimeout = def.Cameras.ReadTimeout
	}
	if c.Cameras.Width == 0 || c.Cameras.Height == 0 {
		c.Cameras.Width = def.Cameras.Width
		c.Cameras.Height = def.Cameras.Height
	}
	if c.Cameras.JPEGQuality == 0 {
		c.Cameras.JPEGQuality = def.Cameras.JPEGQuality
	}
	if c.Cameras.RTSPDialTimeout == 0 {
		c.Cameras.RTSPDialTimeout = def.Cameras.RTSPDialTimeout
	}
	if c.Cameras.Synthetic.FPS == 0 {
		c.Cameras.Synthetic.FPS = def.Cameras.Synthetic.FPS
	}

	if c.Recording.ImageFolder == "" {
		c.Recording.ImageFolder = def.Recording.ImageFolder
	}
	if c.Recording.VideoFolder == "" {
		c.Recording.VideoFolder = def.Recording.VideoFolder
	}
	if c.Recording.VideoCodec == "" {
		c.Recording.VideoCodec = def.Recording.VideoCodec
	}
	if c.Recording.EstimateDuration == 0 {
		c.Recording.EstimateDuration = def.Recording.EstimateDuration
	}

	if c.Web.Host == "" {
		c.Web.Host = def.Web.Host
	}
	if c.Web.Auth.TokenTTL == 0 {
		c.Web.Auth.TokenTTL = def.Web.Auth.TokenTTL
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = def.GRPC.Address
	}
	if c.State.DataDir == "" {
		c.State.DataDir = def.State.DataDir
	}
}
