package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	envFiles   []string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service. The optional env files are
// loaded into the process environment before overrides are applied; with no
// files given, ".env" in the working directory is tried.
func NewService(configPath string, log *logger.Logger, envFiles ...string) (*Service, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg, err := load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		envFiles:   envFiles,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

func load(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads dotenv files without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// SetLogger replaces the bootstrap logger once the real one exists
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := loadEnvFiles(s.envFiles); err != nil {
		return err
	}

	newConfig, err := load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	oldConfig := s.config
	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	// Viewer credentials, same variable names the stream server always used
	if val := os.Getenv("STREAM_USERNAME"); val != "" {
		cfg.Web.Auth.Username = val
	}
	if val := os.Getenv("STREAM_PASSWORD"); val != "" {
		cfg.Web.Auth.Password = val
	}
	if val := os.Getenv("STREAM_TOKEN_SECRET"); val != "" {
		cfg.Web.Auth.TokenSecret = val
	}

	// Cameras
	if val := os.Getenv("REMOTE_STREAM_BACKEND"); val != "" {
		cfg.Cameras.Backend = val
	}
	if val, ok := envInt("REMOTE_STREAM_WANTED_DEVICES"); ok {
		cfg.Cameras.WantedCount = val
	}
	if val, ok := envInt("REMOTE_STREAM_MAX_PROBE_INDEX"); ok {
		cfg.Cameras.MaxProbeIndex = val
	}
	if val, ok := envDuration("REMOTE_STREAM_READ_TIMEOUT"); ok {
		cfg.Cameras.ReadTimeout = val
	}
	if val := os.Getenv("REMOTE_STREAM_RTSP_SOURCES"); val != "" {
		sources := strings.Split(val, ",")
		for i := range sources {
			sources[i] = strings.TrimSpace(sources[i])
		}
		cfg.Cameras.RTSPSources = sources
	}

	// Recording
	if val := os.Getenv("REMOTE_STREAM_IMAGE_FOLDER"); val != "" {
		cfg.Recording.ImageFolder = val
	}
	if val := os.Getenv("REMOTE_STREAM_VIDEO_FOLDER"); val != "" {
		cfg.Recording.VideoFolder = val
	}
	if val, ok := envInt("REMOTE_STREAM_SAVE_INTERVAL"); ok {
		cfg.Recording.SaveIntervalSeconds = val
	}
	if val, ok := envInt("REMOTE_STREAM_RECORDING_FPS"); ok {
		cfg.Recording.RecordingFPS = val
	}
	if val, ok := envBool("REMOTE_STREAM_DELETE_PRIOR_SAVES"); ok {
		cfg.Recording.DeletePriorSaves = val
	}
	if val, ok := envInt("REMOTE_STREAM_RETENTION_DAYS"); ok {
		cfg.Recording.RetentionDays = val
	}

	// Web, gRPC and state
	if val, ok := envBool("REMOTE_STREAM_WEB_ENABLED"); ok {
		cfg.Web.Enabled = val
	}
	if val, ok := envInt("REMOTE_STREAM_WEB_PORT"); ok {
		cfg.Web.Port = val
	}
	if val, ok := envBool("REMOTE_STREAM_GRPC_ENABLED"); ok {
		cfg.GRPC.Enabled = val
	}
	if val := os.Getenv("REMOTE_STREAM_GRPC_ADDRESS"); val != "" {
		cfg.GRPC.Address = val
	}
	if val := os.Getenv("REMOTE_STREAM_DATA_DIR"); val != "" {
		cfg.State.DataDir = val
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

func envInt(key string) (int, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

func envDuration(key string) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, false
	}
	return d, true
}
