package state

import (
	"testing"

	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := config.StateConfig{Enabled: true, DataDir: t.TempDir()}

	log, _ := logger.New(logger.LogConfig{Level: "info", Format: "text"})

	mgr, err := NewManager(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
