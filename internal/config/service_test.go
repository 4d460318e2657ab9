package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

func createTestConfig(t *testing.T, configPath string, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func testConfig(tmpDir string) *Config {
	cfg := Default()
	cfg.Cameras.Backend = BackendSynthetic
	cfg.Cameras.Synthetic.Available = []int{0, 1}
	cfg.Recording.ImageFolder = filepath.Join(tmpDir, "imgs")
	cfg.Recording.VideoFolder = filepath.Join(tmpDir, "vids")
	cfg.State.DataDir = tmpDir
	return cfg
}

func TestNewService(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, testConfig(tmpDir))

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg := svc.Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Cameras.Backend != BackendSynthetic {
		t.Errorf("Expected synthetic backend, got %s", cfg.Cameras.Backend)
	}
	if len(cfg.Cameras.Synthetic.Available) != 2 {
		t.Errorf("Expected 2 synthetic devices, got %v", cfg.Cameras.Synthetic.Available)
	}
	if cfg.Cameras.ReadTimeout != 5*time.Second {
		t.Errorf("Expected read timeout to round-trip, got %v", cfg.Cameras.ReadTimeout)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "cameras:\n  wanted_device_count: 3\nrecording:\n  save_interval_seconds: 0\n  delete_prior_saves: false\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Cameras.WantedCount != 3 {
		t.Errorf("Expected wanted 3, got %d", cfg.Cameras.WantedCount)
	}
	if cfg.Cameras.MaxProbeIndex != 10 {
		t.Errorf("Expected default max probe 10, got %d", cfg.Cameras.MaxProbeIndex)
	}
	if cfg.Recording.SaveIntervalSeconds != 0 {
		t.Errorf("Expected snapshots disabled, got interval %d", cfg.Recording.SaveIntervalSeconds)
	}
	if cfg.Recording.DeletePriorSaves {
		t.Error("Expected delete_prior_saves false from file")
	}
	if cfg.Recording.RecordingFPS != 10 || cfg.Recording.ImageFolder != "saved_imgs" || cfg.Recording.VideoFolder != "saved_vids" {
		t.Errorf("Unexpected recording defaults: %+v", cfg.Recording)
	}
	if cfg.Web.Port != 5000 || cfg.Web.Host != "0.0.0.0" {
		t.Errorf("Unexpected web defaults: %s", cfg.Web.Address())
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing configuration file")
	}
	if !strings.Contains(err.Error(), "configuration file not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Cameras.WantedCount = 0
	cfg.Cameras.MaxProbeIndex = 16
	cfg.Recording.SaveIntervalSeconds = -1
	cfg.Recording.RecordingFPS = 0
	cfg.Recording.ImageFolder = ""
	cfg.Cameras.Backend = "firewire"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{
		"wanted_device_count",
		"max_probe_index",
		"save_interval_seconds",
		"recording_fps",
		"image_folder",
		"cameras.backend",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in error, got: %v", want, err)
		}
	}
}

func TestValidateProbeBounds(t *testing.T) {
	for _, probe := range []int{1, 15} {
		cfg := Default()
		cfg.Cameras.MaxProbeIndex = probe
		if err := cfg.Validate(); err != nil {
			t.Errorf("max_probe_index %d should be valid: %v", probe, err)
		}
	}

	cfg := Default()
	cfg.Cameras.Backend = BackendRTSP
	cfg.Cameras.RTSPSources = []string{"http://not-rtsp/stream"}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected rtsp source validation error")
	}
}

func TestService_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := testConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	watcherCalled := false
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		watcherCalled = true
		if oldConfig.Log.Level != "info" || newConfig.Log.Level != "debug" {
			t.Errorf("Unexpected watcher configs: %s -> %s", oldConfig.Log.Level, newConfig.Log.Level)
		}
		return nil
	})

	cfg.Log.Level = "debug"
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if svc.Get().Log.Level != "debug" {
		t.Errorf("Expected LogLevel 'debug', got %s", svc.Get().Log.Level)
	}
	if !watcherCalled {
		t.Error("Watcher should have been called")
	}
}

func TestService_ReloadInvalidKeepsOld(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := testConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg.Recording.RecordingFPS = -5
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload to fail")
	}
	if svc.Get().Recording.RecordingFPS != 10 {
		t.Errorf("Expected previous config to stay active, got fps %d", svc.Get().Recording.RecordingFPS)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, testConfig(tmpDir))

	t.Setenv("STREAM_USERNAME", "viewer")
	t.Setenv("STREAM_PASSWORD", "secret")
	t.Setenv("REMOTE_STREAM_SAVE_INTERVAL", "0")
	t.Setenv("REMOTE_STREAM_DELETE_PRIOR_SAVES", "no")
	t.Setenv("REMOTE_STREAM_WEB_PORT", "8081")
	t.Setenv("REMOTE_STREAM_READ_TIMEOUT", "750ms")
	t.Setenv("LOG_LEVEL", "debug")

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg := svc.Get()
	if cfg.Web.Auth.Username != "viewer" || cfg.Web.Auth.Password != "secret" {
		t.Errorf("Expected credentials from env, got %q", cfg.Web.Auth.Username)
	}
	if cfg.Recording.SaveIntervalSeconds != 0 {
		t.Errorf("Expected interval 0 from env, got %d", cfg.Recording.SaveIntervalSeconds)
	}
	if cfg.Recording.DeletePriorSaves {
		t.Error("Expected delete_prior_saves disabled from env")
	}
	if cfg.Web.Port != 8081 {
		t.Errorf("Expected port 8081, got %d", cfg.Web.Port)
	}
	if cfg.Cameras.ReadTimeout != 750*time.Millisecond {
		t.Errorf("Expected read timeout 750ms, got %v", cfg.Cameras.ReadTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LogLevel 'debug' from env, got %s", cfg.Log.Level)
	}
}

func TestEnvFileLoaded(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, testConfig(tmpDir))

	envPath := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envPath, []byte("REMOTE_STREAM_RECORDING_FPS=24\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("REMOTE_STREAM_RECORDING_FPS") })

	svc, err := NewService(configPath, logger.NewNopLogger(), envPath, filepath.Join(tmpDir, "missing.env"))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if svc.Get().Recording.RecordingFPS != 24 {
		t.Errorf("Expected fps 24 from env file, got %d", svc.Get().Recording.RecordingFPS)
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
		ok    bool
	}{
		{"", false, false},
		{"true", true, true},
		{"ON", true, true},
		{"0", false, true},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		got, ok := envBool("TEST_BOOL")
		if got != tt.want || ok != tt.ok {
			t.Errorf("envBool(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.ok)
		}
	}
}
