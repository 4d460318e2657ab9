package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/johnywakim02/remote-stream/internal/storage"
)

// CameraSource reports which devices are running
type CameraSource interface {
	Indices() []int
	WantedCount() int
}

// CameraChecker is unhealthy with no running camera and degraded with
// fewer than wanted
type CameraChecker struct {
	source CameraSource
}

func NewCameraChecker(source CameraSource) *CameraChecker {
	return &CameraChecker{source: source}
}

func (c *CameraChecker) Name() string {
	return "cameras"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	running := c.source.Indices()
	wanted := c.source.WantedCount()
	check.Details["running"] = running
	check.Details["wanted"] = wanted

	switch {
	case len(running) == 0:
		check.Status = StatusUnhealthy
		check.Message = "No camera is running"
	case len(running) < wanted:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d of %d cameras running", len(running), wanted)
	default:
		check.Status = StatusHealthy
		check.Message = fmt.Sprintf("%d cameras running", len(running))
	}

	return check
}

// Pinger is anything with a connectivity check
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "State database disabled"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// StorageChecker checks the recording folders and disk usage
type StorageChecker struct {
	layout  storage.Layout
	monitor *storage.DiskMonitor
}

func NewStorageChecker(layout storage.Layout, monitor *storage.DiskMonitor) *StorageChecker {
	return &StorageChecker{
		layout:  layout,
		monitor: monitor,
	}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	for name, dir := range map[string]string{"image_folder": c.layout.ImageFolder, "video_folder": c.layout.VideoFolder} {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Recording folder unavailable: %s", dir)
			return check
		}
		check.Details[name] = dir
	}

	if c.monitor == nil {
		check.Status = StatusHealthy
		check.Message = "Storage directories accessible"
		return check
	}

	usage, err := c.monitor.GetUsage(ctx)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}
	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes
	check.Details["max_usage_percent"] = c.monitor.Threshold()

	full, err := c.monitor.IsDiskFull(ctx)
	if err == nil && full {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% above %.1f%%, recording paused", usage.UsagePercent, c.monitor.Threshold())
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Storage directories accessible"
	return check
}

// SystemChecker reports process resource use
type SystemChecker struct{}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Check{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "System resources OK",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"heap_alloc": mem.HeapAlloc,
			"num_gc":     mem.NumGC,
			"go_version": runtime.Version(),
		},
	}
}
