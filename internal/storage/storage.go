package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// Recording kinds
const (
	KindSnapshot = "snapshot"
	KindSegment  = "segment"
)

// Recording is a catalogued snapshot or video segment
type Recording struct {
	ID          string    `json:"id"`
	DeviceIndex int       `json:"device_index"`
	Kind        string    `json:"kind"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordingStats summarizes the catalog
type RecordingStats struct {
	Snapshots      int   `json:"snapshots"`
	Segments       int   `json:"segments"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Catalog indexes written files. The folder tree stays the source of
// truth; the catalog only makes listing and retention cheap.
type Catalog interface {
	SaveRecording(ctx context.Context, rec Recording) error
	// ListRecordings filters by kind ("" for all) and creation time (zero
	// before for all), oldest first
	ListRecordings(ctx context.Context, kind string, before time.Time) ([]Recording, error)
	DeleteRecording(ctx context.Context, path string) error
	RecordingStats(ctx context.Context) (*RecordingStats, error)
}

// StorageStats combines catalog counts with disk usage
type StorageStats struct {
	RecordingStats
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	AvailableBytes   int64   `json:"available_bytes"`
	TotalBytes       int64   `json:"total_bytes"`
	MaxUsagePercent  float64 `json:"max_usage_percent"`
}

// StoreConfig contains store configuration
type StoreConfig struct {
	Layout              Layout
	RetentionDays       int
	MaxDiskUsagePercent float64
	Catalog             Catalog
}

// Store writes recordings into the folder layout and keeps the catalog,
// disk monitor and retention policy together
type Store struct {
	layout    Layout
	catalog   Catalog
	monitor   *DiskMonitor
	retention *RetentionPolicy
	logger    *logger.Logger
}

// NewStore creates both root folders and the supporting services
func NewStore(config StoreConfig, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	for _, root := range []string{config.Layout.ImageFolder, config.Layout.VideoFolder} {
		if root == "" {
			return nil, ioError("mkdir", root, fmt.Errorf("folder not configured"))
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, ioError("mkdir", root, err)
		}
	}

	monitor, err := NewDiskMonitor(config.Layout.VideoFolder, config.MaxDiskUsagePercent, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk monitor: %w", err)
	}

	return &Store{
		layout:    config.Layout,
		catalog:   config.Catalog,
		monitor:   monitor,
		retention: NewRetentionPolicy(config.Layout, config.RetentionDays, config.Catalog, log),
		logger:    log,
	}, nil
}

// Layout returns the path layout
func (s *Store) Layout() Layout {
	return s.layout
}

// DiskMonitor returns the disk monitor
func (s *Store) DiskMonitor() *DiskMonitor {
	return s.monitor
}

// Retention returns the retention policy
func (s *Store) Retention() *RetentionPolicy {
	return s.retention
}

// PrepareFolders creates today's folders for every device
func (s *Store) PrepareFolders(t time.Time, indices []int) error {
	return s.layout.PrepareFolders(t, indices)
}

// Clear deletes prior recordings from disk and catalog
func (s *Store) Clear(ctx context.Context) error {
	if err := s.layout.Clear(); err != nil {
		return err
	}
	if s.catalog == nil {
		return nil
	}

	recs, err := s.catalog.ListRecordings(ctx, "", time.Time{})
	if err != nil {
		return fmt.Errorf("failed to list catalog: %w", err)
	}
	for _, rec := range recs {
		if err := s.catalog.DeleteRecording(ctx, rec.Path); err != nil {
			s.logger.Warn("Failed to delete catalog entry", "path", rec.Path, "error", err)
		}
	}
	s.logger.Info("Cleared prior recordings",
		"image_folder", s.layout.ImageFolder,
		"video_folder", s.layout.VideoFolder,
		"catalogued", len(recs),
	)
	return nil
}

// RecordSegment catalogs a closed segment file
func (s *Store) RecordSegment(ctx context.Context, index int, path string, openedAt time.Time) error {
	info, err := os.Stat(path)
	if err != nil {
		return ioError("stat", path, err)
	}
	return s.catalogue(ctx, Recording{
		DeviceIndex: index,
		Kind:        KindSegment,
		Path:        path,
		SizeBytes:   info.Size(),
		CreatedAt:   openedAt,
	})
}

func (s *Store) catalogue(ctx context.Context, rec Recording) error {
	if s.catalog == nil {
		return nil
	}
	if err := s.catalog.SaveRecording(ctx, rec); err != nil {
		return fmt.Errorf("failed to catalog %s: %w", rec.Path, err)
	}
	return nil
}

// GetDiskUsage returns disk usage of the recording filesystem
func (s *Store) GetDiskUsage(ctx context.Context) (*DiskUsage, error) {
	return s.monitor.GetUsage(ctx)
}

// CheckSpace reports whether usage is below the configured maximum
func (s *Store) CheckSpace(ctx context.Context) (bool, error) {
	return s.monitor.CheckSpace(ctx)
}

// EnforceRetention deletes expired day folders
func (s *Store) EnforceRetention(ctx context.Context) (int, error) {
	return s.retention.Enforce(ctx)
}

// GetStorageStats returns catalog counts and disk usage
func (s *Store) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{MaxUsagePercent: s.monitor.Threshold()}

	if s.catalog != nil {
		recStats, err := s.catalog.RecordingStats(ctx)
		if err != nil {
			return nil, err
		}
		stats.RecordingStats = *recStats
	}

	usage, err := s.monitor.GetUsage(ctx)
	if err != nil {
		return nil, err
	}
	stats.DiskUsagePercent = usage.UsagePercent
	stats.AvailableBytes = usage.AvailableBytes
	stats.TotalBytes = usage.TotalBytes
	return stats, nil
}
