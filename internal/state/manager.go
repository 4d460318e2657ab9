package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/storage"
)

// Manager persists camera status, the recordings catalog and small
// key/value system state
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

var (
	_ camera.DeviceStore = (*Manager)(nil)
	_ storage.Catalog    = (*Manager)(nil)
)

// NewManager opens (or creates) the state database under cfg.DataDir
func NewManager(cfg config.StateConfig, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := NewDatabase(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	log.Info("State database opened", "path", db.Path(), "schema_version", db.SchemaVersion())
	return &Manager{db: db, logger: log}, nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB exposes the connection for tests and ad hoc queries
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping satisfies the health database checker
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

// SaveSystemState upserts one key
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	const upsert = `INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := m.db.GetDB().ExecContext(ctx, upsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save system state %q: %w", key, err)
	}
	return nil
}

// GetSystemState returns the stored value, or "" for an unknown key
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	row := m.db.GetDB().QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = ?`, key)
	switch err := row.Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to get system state %q: %w", key, err)
	}
	return value, nil
}

// ListSystemState returns every stored key
func (m *Manager) ListSystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to list system state: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// RecoveredState is what a previous run left behind
type RecoveredState struct {
	Cameras     []camera.DeviceRecord
	Recordings  storage.RecordingStats
	SystemState map[string]string
}

// RecoverState loads the camera registry, catalog totals and system keys
// written by earlier runs
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	cameras, err := m.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover cameras: %w", err)
	}
	stats, err := m.RecordingStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover recordings: %w", err)
	}
	system, err := m.ListSystemState(ctx)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("State recovered", "cameras", len(cameras), "last_start", system["last_start"])
	return &RecoveredState{
		Cameras:     cameras,
		Recordings:  *stats,
		SystemState: system,
	}, nil
}
