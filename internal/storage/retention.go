package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// RetentionPolicy deletes day folders older than retentionDays. Zero
// retention keeps everything.
type RetentionPolicy struct {
	layout        Layout
	retentionDays int
	catalog       Catalog
	logger        *logger.Logger
	now           func() time.Time
	mu            sync.Mutex
	enforcing     bool
}

// NewRetentionPolicy creates a new retention policy
func NewRetentionPolicy(layout Layout, retentionDays int, catalog Catalog, log *logger.Logger) *RetentionPolicy {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &RetentionPolicy{
		layout:        layout,
		retentionDays: retentionDays,
		catalog:       catalog,
		logger:        log,
		now:           time.Now,
	}
}

// SetClock replaces the time source
func (r *RetentionPolicy) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Enabled reports whether anything will ever be deleted
func (r *RetentionPolicy) Enabled() bool {
	return r.retentionDays > 0
}

// Cutoff returns the oldest day that is kept
func (r *RetentionPolicy) Cutoff() time.Time {
	r.mu.Lock()
	now := r.now()
	r.mu.Unlock()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -r.retentionDays)
}

// Enforce removes expired day folders and their catalog rows and returns
// the number of folders removed
func (r *RetentionPolicy) Enforce(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}

	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return 0, fmt.Errorf("retention policy is already being enforced")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	cutoff := r.Cutoff()
	removed := 0
	var errs []error

	for _, root := range []string{r.layout.ImageFolder, r.layout.VideoFolder} {
		n, err := r.removeExpiredDays(root, cutoff)
		removed += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	if r.catalog != nil {
		if err := r.deleteExpiredEntries(ctx, cutoff); err != nil {
			errs = append(errs, err)
		}
	}

	if removed > 0 {
		r.logger.Info("Deleted expired recordings", "folders", removed, "cutoff", cutoff.Format(DateLayout))
	}
	return removed, errors.Join(errs...)
}

func (r *RetentionPolicy) removeExpiredDays(root string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, ioError("read", root, err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.ParseInLocation(DateLayout, entry.Name(), cutoff.Location())
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("Failed to delete expired folder", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (r *RetentionPolicy) deleteExpiredEntries(ctx context.Context, cutoff time.Time) error {
	entries, err := r.catalog.ListRecordings(ctx, "", cutoff)
	if err != nil {
		return fmt.Errorf("failed to list expired recordings: %w", err)
	}

	for _, entry := range entries {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Failed to delete expired file", "path", entry.Path, "error", err)
			continue
		}
		if err := r.catalog.DeleteRecording(ctx, entry.Path); err != nil {
			r.logger.Warn("Failed to delete catalog entry", "path", entry.Path, "error", err)
		}
	}
	return nil
}
