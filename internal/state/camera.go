package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/johnywakim02/remote-stream/internal/camera"
)

// UpsertCamera saves or updates a camera's status row
func (m *Manager) UpsertCamera(ctx context.Context, rec camera.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO cameras (device_index, label, backend, status, last_error, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_index) DO UPDATE SET
			label = excluded.label,
			backend = excluded.backend,
			status = excluded.status,
			last_error = excluded.last_error,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
	`

	var lastSeen interface{}
	if !rec.LastSeen.IsZero() {
		lastSeen = rec.LastSeen.UTC()
	}
	var lastError interface{}
	if rec.LastError != "" {
		lastError = rec.LastError
	}

	_, err := m.db.GetDB().ExecContext(ctx, query,
		rec.Index, rec.Label, rec.Backend, rec.Status, lastError, lastSeen, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save camera %d: %w", rec.Index, err)
	}

	return nil
}

// GetCamera retrieves a camera by index. Unknown indices return nil.
func (m *Manager) GetCamera(ctx context.Context, index int) (*camera.DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT device_index, label, backend, status, last_error, last_seen FROM cameras WHERE device_index = ?`

	rec, err := scanCamera(m.db.GetDB().QueryRowContext(ctx, query, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return rec, nil
}

// ListCameras lists all cameras ordered by index
func (m *Manager) ListCameras(ctx context.Context) ([]camera.DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT device_index, label, backend, status, last_error, last_seen FROM cameras ORDER BY device_index`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	cameras := make([]camera.DeviceRecord, 0)
	for rows.Next() {
		rec, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, *rec)
	}

	return cameras, rows.Err()
}

// DeleteCamera deletes a camera row
func (m *Manager) DeleteCamera(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM cameras WHERE device_index = ?`, index)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row rowScanner) (*camera.DeviceRecord, error) {
	var rec camera.DeviceRecord
	var lastError sql.NullString
	var lastSeen sql.NullTime
	if err := row.Scan(&rec.Index, &rec.Label, &rec.Backend, &rec.Status, &lastError, &lastSeen); err != nil {
		return nil, err
	}
	rec.LastError = lastError.String
	if lastSeen.Valid {
		rec.LastSeen = lastSeen.Time.Local()
	}
	return &rec, nil
}
