package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/johnywakim02/remote-stream/internal/storage"
)

// SaveRecording catalogs a written file. Saving the same path again
// replaces the entry.
func (m *Manager) SaveRecording(ctx context.Context, rec storage.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO recordings (id, device_index, kind, path, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			device_index = excluded.device_index,
			kind = excluded.kind,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.DeviceIndex, rec.Kind, rec.Path, rec.SizeBytes, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}

	return nil
}

// ListRecordings returns catalog entries, oldest first. An empty kind
// matches all kinds and a zero before matches all times.
func (m *Manager) ListRecordings(ctx context.Context, kind string, before time.Time) ([]storage.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT id, device_index, kind, path, size_bytes, created_at FROM recordings WHERE 1 = 1`
	var args []interface{}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, before.UTC())
	}
	query += ` ORDER BY created_at ASC`

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	recs := make([]storage.Recording, 0)
	for rows.Next() {
		var rec storage.Recording
		if err := rows.Scan(&rec.ID, &rec.DeviceIndex, &rec.Kind, &rec.Path, &rec.SizeBytes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.Local()
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// DeleteRecording removes the catalog entry for path
func (m *Manager) DeleteRecording(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM recordings WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}

	return nil
}

// RecordingStats counts catalog entries per kind
func (m *Manager) RecordingStats(ctx context.Context) (*storage.RecordingStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(size_bytes), 0)
		FROM recordings
	`

	var stats storage.RecordingStats
	err := m.db.GetDB().QueryRowContext(ctx, query, storage.KindSnapshot, storage.KindSegment).Scan(
		&stats.Snapshots, &stats.Segments, &stats.TotalSizeBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recording stats: %w", err)
	}

	return &stats, nil
}
