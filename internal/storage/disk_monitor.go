package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// DiskMonitor reports usage of the filesystem holding the recordings.
// Readings are cached for a short while since every snapshot tick asks.
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	logger          *logger.Logger

	mu    sync.RWMutex
	ttl   time.Duration
	last  *DiskUsage
	taken time.Time
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// NewDiskMonitor creates a monitor for path, which need not exist yet. A
// maxUsagePercent of zero disables the threshold.
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) (*DiskMonitor, error) {
	if path == "" {
		return nil, fmt.Errorf("disk monitor path is empty")
	}
	if maxUsagePercent < 0 || maxUsagePercent > 100 {
		return nil, fmt.Errorf("invalid max usage percent: %.1f", maxUsagePercent)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		ttl:             30 * time.Second,
	}, nil
}

// SetCacheDuration changes how long a reading is reused and drops the
// current one
func (d *DiskMonitor) SetCacheDuration(ttl time.Duration) {
	d.mu.Lock()
	d.ttl = ttl
	d.last = nil
	d.mu.Unlock()
}

func (d *DiskMonitor) Path() string {
	return d.path
}

func (d *DiskMonitor) Threshold() float64 {
	return d.maxUsagePercent
}

// GetUsage returns the cached reading when fresh, otherwise stats the
// filesystem again
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.last != nil && time.Since(d.taken) < d.ttl {
		usage := *d.last
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usage, err := statUsage(d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.last, d.taken = usage, time.Now()
	d.mu.Unlock()

	if d.maxUsagePercent > 0 && usage.UsagePercent >= d.maxUsagePercent {
		d.logger.Debug("Disk usage above threshold", "path", d.path, "usage_percent", usage.UsagePercent)
	}
	copied := *usage
	return &copied, nil
}

// CheckSpace reports whether usage is below the maximum
func (d *DiskMonitor) CheckSpace(ctx context.Context) (bool, error) {
	if d.maxUsagePercent == 0 {
		return true, nil
	}
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, err
	}
	return usage.UsagePercent < d.maxUsagePercent, nil
}

// IsDiskFull is the negation of CheckSpace
func (d *DiskMonitor) IsDiskFull(ctx context.Context) (bool, error) {
	ok, err := d.CheckSpace(ctx)
	return !ok && err == nil, err
}

// statUsage stats the filesystem of path, or of its nearest existing
// ancestor when the folders have not been created yet
func statUsage(path string) (*DiskUsage, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var st syscall.Statfs_t
	for {
		err = syscall.Statfs(dir, &st)
		if err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if !errors.Is(err, fs.ErrNotExist) || parent == dir {
			return nil, fmt.Errorf("failed to stat filesystem for %s: %w", path, err)
		}
		dir = parent
	}

	bsize := int64(st.Bsize)
	total := int64(st.Blocks) * bsize
	avail := int64(st.Bavail) * bsize

	usage := &DiskUsage{
		TotalBytes:     total,
		UsedBytes:      total - avail,
		AvailableBytes: avail,
	}
	if total > 0 {
		usage.UsagePercent = float64(usage.UsedBytes) / float64(total) * 100
	}
	return usage, nil
}
