package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// fakeOpener hands out in-memory devices and records every open
type fakeOpener struct {
	mu        sync.Mutex
	available map[int]bool
	partial   map[int]bool // Open returns a handle together with an error
	notReady  map[int]bool
	openLimit map[int]int // successful opens allowed per index, 0 is unlimited
	failAfter int         // reads before ReadFrame fails, 0 never fails
	readErr   error
	interval  time.Duration

	opened  []int
	devices []*fakeDevice
}

func newFakeOpener(available ...int) *fakeOpener {
	o := &fakeOpener{
		available: make(map[int]bool),
		partial:   make(map[int]bool),
		notReady:  make(map[int]bool),
		openLimit: make(map[int]int),
		interval:  2 * time.Millisecond,
	}
	for _, idx := range available {
		o.available[idx] = true
	}
	return o
}

func (o *fakeOpener) Backend() string {
	return "fake"
}

func (o *fakeOpener) Open(index int) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opened = append(o.opened, index)

	if o.partial[index] {
		dev := o.newDevice(index)
		return dev, fmt.Errorf("device %d half opened", index)
	}
	if !o.available[index] {
		return nil, fmt.Errorf("no device at index %d", index)
	}
	if limit := o.openLimit[index]; limit > 0 {
		if o.successfulOpens(index) >= limit {
			return nil, fmt.Errorf("device %d is busy", index)
		}
	}
	return o.newDevice(index), nil
}

func (o *fakeOpener) newDevice(index int) *fakeDevice {
	dev := &fakeDevice{
		index:     index,
		ready:     !o.notReady[index],
		interval:  o.interval,
		failAfter: o.failAfter,
		readErr:   o.readErr,
	}
	o.devices = append(o.devices, dev)
	return dev
}

func (o *fakeOpener) successfulOpens(index int) int {
	n := 0
	for _, dev := range o.devices {
		if dev.index == index {
			n++
		}
	}
	return n
}

func (o *fakeOpener) openedIndices() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.opened...)
}

func (o *fakeOpener) openCount(index int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.successfulOpens(index)
}

// unreleased returns devices that were opened but never closed
func (o *fakeOpener) unreleased() []*fakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	var open []*fakeDevice
	for _, dev := range o.devices {
		if dev.closeCount() == 0 {
			open = append(open, dev)
		}
	}
	return open
}

type fakeDevice struct {
	index     int
	ready     bool
	interval  time.Duration
	failAfter int
	readErr   error

	mu     sync.Mutex
	reads  int
	closes int
}

func (d *fakeDevice) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready && d.closes == 0
}

func (d *fakeDevice) ReadFrame(timeout time.Duration) (*video.Frame, error) {
	d.mu.Lock()
	if d.closes > 0 {
		d.mu.Unlock()
		return nil, errors.New("read on closed device")
	}
	d.reads++
	n := d.reads
	d.mu.Unlock()

	if d.failAfter > 0 && n > d.failAfter {
		if d.readErr != nil {
			return nil, d.readErr
		}
		return nil, errors.New("device unplugged")
	}

	time.Sleep(d.interval)
	img := image.NewGray(image.Rect(0, 0, 16, 12))
	for i := range img.Pix {
		img.Pix[i] = uint8(n)
	}
	return &video.Frame{Image: img, Width: 16, Height: 12}, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// fakeStore records every persisted device record
type fakeStore struct {
	mu      sync.Mutex
	records []DeviceRecord
}

func (s *fakeStore) UpsertCamera(ctx context.Context, rec DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) lastStatus(index int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := ""
	for _, rec := range s.records {
		if rec.Index == index {
			status = rec.Status
		}
	}
	return status
}

func testCamerasConfig(wanted, maxProbe int) config.CamerasConfig {
	return config.CamerasConfig{
		Backend:       "fake",
		WantedCount:   wanted,
		MaxProbeIndex: maxProbe,
		ReadTimeout:   time.Second,
		JPEGQuality:   75,
	}
}

func setupTestManager(t *testing.T, opener DeviceOpener, wanted, maxProbe int) (*Manager, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	mgr := NewManager(testCamerasConfig(wanted, maxProbe), opener, store, logger.NewNopLogger())
	t.Cleanup(func() {
		_ = mgr.StopAll()
	})
	return mgr, store
}

func newTestOwner(opener DeviceOpener, index int) *CaptureOwner {
	return NewCaptureOwner(NewDeviceIndex(index), opener, video.NewFrameSlot(), time.Second, logger.NewNopLogger())
}

func waitForSeq(t *testing.T, slot *video.FrameSlot, seq uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, got := slot.Latest(); got >= seq {
			return
		}
		time.Sleep(time.Millisecond)
	}
	_, got := slot.Latest()
	t.Fatalf("timed out waiting for seq %d, at %d", seq, got)
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}
