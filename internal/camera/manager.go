package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// Device registry statuses
const (
	StatusDiscovered = "discovered"
	StatusOnline     = "online"
	StatusOffline    = "offline"
	StatusError      = "error"
)

// DeviceRecord is the persisted view of one camera
type DeviceRecord struct {
	Index     int
	Label     string
	Backend   string
	Status    string
	LastError string
	LastSeen  time.Time
}

// DeviceStore persists device status transitions
type DeviceStore interface {
	UpsertCamera(ctx context.Context, rec DeviceRecord) error
}

// DeviceInfo describes one managed device for presentation
type DeviceInfo struct {
	Index         int    `json:"index"`
	Label         string `json:"label"`
	Backend       string `json:"backend"`
	State         string `json:"state"`
	LastSeq       uint64 `json:"last_seq"`
	ActiveStreams int    `json:"active_streams"`
	Error         string `json:"error,omitempty"`
}

// Manager owns every CaptureOwner and its FrameDistributor
type Manager struct {
	*service.ServiceBase
	cfg       config.CamerasConfig
	opener    DeviceOpener
	discovery *Discovery
	store     DeviceStore

	mu           sync.RWMutex
	prepared     bool
	devices      []DeviceIndex
	owners       map[int]*CaptureOwner
	distributors map[int]*video.FrameDistributor
}

// NewManager creates a camera manager. store may be nil.
func NewManager(cfg config.CamerasConfig, opener DeviceOpener, store DeviceStore, log *logger.Logger) *Manager {
	base := service.NewServiceBase("camera-manager", log)
	return &Manager{
		ServiceBase:  base,
		cfg:          cfg,
		opener:       opener,
		discovery:    NewDiscovery(opener, base.Logger()),
		store:        store,
		owners:       make(map[int]*CaptureOwner),
		distributors: make(map[int]*video.FrameDistributor),
	}
}

// Prepare runs discovery and builds one owner and distributor per device
// without starting capture. It is a no-op once it has succeeded.
func (m *Manager) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prepared {
		return nil
	}

	m.discovery.SetEventBus(m.GetEventBus())
	devices, err := m.discovery.Discover(ctx, m.cfg.WantedCount, m.cfg.MaxProbeIndex)
	if err != nil {
		return err
	}

	for _, dev := range devices {
		slot := video.NewFrameSlot()
		owner := NewCaptureOwner(dev, m.opener, slot, m.cfg.ReadTimeout, m.Logger())
		owner.OnStop(m.handleOwnerStopped)

		m.owners[dev.Index] = owner
		m.distributors[dev.Index] = video.NewFrameDistributor(
			dev.Index,
			slot,
			video.DistributorConfig{JPEGQuality: m.cfg.JPEGQuality},
			m.Logger(),
		)
		m.persist(dev, StatusDiscovered, nil)
	}

	m.devices = devices
	m.prepared = true
	m.LogInfo("Cameras prepared", "count", len(devices), "backend", m.opener.Backend())
	return nil
}

// Start prepares if needed and starts every owner. A device that fails to
// start is logged and skipped; the remaining devices keep running.
func (m *Manager) Start(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStarting)
	m.LogInfo("Starting camera manager")

	if err := m.Prepare(ctx); err != nil {
		m.GetStatus().SetError(err)
		return fmt.Errorf("camera discovery failed: %w", err)
	}

	m.mu.RLock()
	devices := m.devices
	m.mu.RUnlock()

	started := 0
	for _, dev := range devices {
		owner, _ := m.Owner(dev.Index)
		if err := owner.Start(); err != nil {
			if errors.Is(err, ErrOwnerRunning) {
				started++
				continue
			}
			m.LogError("Camera failed to start", err, "index", dev.Index)
			m.persist(dev, StatusError, err)
			m.PublishEvent(service.EventTypeCameraDisconnected, map[string]interface{}{
				"index":  dev.Index,
				"reason": err.Error(),
			})
			continue
		}

		started++
		m.persist(dev, StatusOnline, nil)
		m.PublishEvent(service.EventTypeCameraConnected, map[string]interface{}{
			"index": dev.Index,
			"label": dev.Label,
		})
	}

	if started == 0 {
		m.LogWarn("No camera could be started", "discovered", len(devices))
	}

	m.GetStatus().SetStatus(service.StatusRunning)
	m.LogInfo("Camera manager started", "running", started, "discovered", len(devices))
	return nil
}

// Stop is the service entry point for StopAll
func (m *Manager) Stop(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStopping)
	err := m.StopAll()
	m.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// StopAll stops every owner, logging individual failures. It is safe to
// call more than once.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	owners := make([]*CaptureOwner, 0, len(m.owners))
	for _, owner := range m.owners {
		owners = append(owners, owner)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make([]error, len(owners))
	for i, owner := range owners {
		wg.Add(1)
		go func(i int, owner *CaptureOwner) {
			defer wg.Done()
			if err := owner.Stop(); err != nil {
				m.LogError("Failed to stop camera", err, "index", owner.Index())
				errs[i] = fmt.Errorf("camera %d: %w", owner.Index(), err)
			}
		}(i, owner)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (m *Manager) handleOwnerStopped(index int, err error) {
	dev := NewDeviceIndex(index)
	status := StatusOffline
	reason := "stopped"
	if err != nil {
		status = StatusError
		reason = err.Error()
	}
	m.persist(dev, status, err)
	m.PublishEvent(service.EventTypeCameraDisconnected, map[string]interface{}{
		"index":  index,
		"reason": reason,
	})
}

func (m *Manager) persist(dev DeviceIndex, status string, err error) {
	if m.store == nil {
		return
	}
	rec := DeviceRecord{
		Index:    dev.Index,
		Label:    dev.Label,
		Backend:  m.opener.Backend(),
		Status:   status,
		LastSeen: time.Now(),
	}
	if err != nil {
		rec.LastError = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := m.store.UpsertCamera(ctx, rec); serr != nil {
		m.LogWarn("Failed to persist camera state", "index", dev.Index, "error", serr)
	}
}

// FrameDistributor returns the per-device distributor for external consumers
func (m *Manager) FrameDistributor(index int) (*video.FrameDistributor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dist, ok := m.distributors[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	return dist, nil
}

// Owner returns the capture owner for index
func (m *Manager) Owner(index int) (*CaptureOwner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	return owner, nil
}

// Indices returns the sorted indices of devices that have not stopped
func (m *Manager) Indices() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indices := make([]int, 0, len(m.owners))
	for idx, owner := range m.owners {
		if owner.State() != StateStopped {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices
}

// WantedCount returns the configured number of devices
func (m *Manager) WantedCount() int {
	return m.cfg.WantedCount
}

// Devices describes every discovered device, stopped ones included
func (m *Manager) Devices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(m.devices))
	for _, dev := range m.devices {
		owner := m.owners[dev.Index]
		stats := m.distributors[dev.Index].Stats()
		info := DeviceInfo{
			Index:         dev.Index,
			Label:         dev.Label,
			Backend:       m.opener.Backend(),
			State:         owner.State().String(),
			LastSeq:       stats.LastSeq,
			ActiveStreams: stats.ActiveStreams,
		}
		if err := owner.Err(); err != nil {
			info.Error = err.Error()
		}
		infos = append(infos, info)
	}
	return infos
}
