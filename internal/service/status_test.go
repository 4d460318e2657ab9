package service

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestServiceStatusTransitions(t *testing.T) {
	tests := []struct {
		name        string
		apply       func(ss *ServiceStatus)
		wantStatus  Status
		wantRunning bool
		wantErr     string
	}{
		{
			name:       "initial",
			apply:      func(ss *ServiceStatus) {},
			wantStatus: StatusStopped,
		},
		{
			name: "starting",
			apply: func(ss *ServiceStatus) {
				ss.SetStatus(StatusStarting)
			},
			wantStatus: StatusStarting,
		},
		{
			name: "running clears a previous error",
			apply: func(ss *ServiceStatus) {
				ss.SetError(errors.New("camera 0 busy"))
				ss.SetStatus(StatusRunning)
			},
			wantStatus:  StatusRunning,
			wantRunning: true,
		},
		{
			name: "error keeps the cause",
			apply: func(ss *ServiceStatus) {
				ss.SetStatus(StatusRunning)
				ss.SetError(errors.New("segment open failed"))
			},
			wantStatus: StatusError,
			wantErr:    "segment open failed",
		},
		{
			name: "stopped after running",
			apply: func(ss *ServiceStatus) {
				ss.SetStatus(StatusRunning)
				ss.SetStatus(StatusStopping)
				ss.SetStatus(StatusStopped)
			},
			wantStatus: StatusStopped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ss := NewServiceStatus("recorder")
			tt.apply(ss)

			if got := ss.GetStatus(); got != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, got)
			}
			if got := ss.IsRunning(); got != tt.wantRunning {
				t.Errorf("Expected IsRunning %v, got %v", tt.wantRunning, got)
			}

			err := ss.GetError()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Expected no error, got %v", err)
			case tt.wantErr != "" && (err == nil || err.Error() != tt.wantErr):
				t.Errorf("Expected error %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestServiceStatusUptime(t *testing.T) {
	ss := NewServiceStatus("web-server")
	if ss.GetUptime() != 0 {
		t.Errorf("Expected zero uptime before start, got %v", ss.GetUptime())
	}

	ss.SetStatus(StatusRunning)
	if ss.StartedAt.IsZero() {
		t.Fatal("StartedAt not recorded on start")
	}
	time.Sleep(50 * time.Millisecond)

	if up := ss.GetUptime(); up < 50*time.Millisecond || up > time.Second {
		t.Errorf("Uptime out of range: %v", up)
	}

	ss.SetStatus(StatusStopped)
	if ss.GetUptime() != 0 {
		t.Errorf("Expected zero uptime after stop, got %v", ss.GetUptime())
	}
}

func TestServiceStatusParallelUpdates(t *testing.T) {
	ss := NewServiceStatus("cameras")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ss.SetStatus(StatusRunning)
				_ = ss.Snapshot()
				_ = ss.GetUptime()
				ss.SetStatus(StatusStopped)
			}
		}()
	}
	wg.Wait()

	if ss.GetStatus() != StatusStopped {
		t.Errorf("Expected stopped after all updates, got %s", ss.GetStatus())
	}
}

func TestServiceStatusSnapshot(t *testing.T) {
	ss := NewServiceStatus("recorder")
	ss.SetError(errors.New("disk full"))

	snap := ss.Snapshot()
	if snap.Name != "recorder" || snap.Status != StatusError {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.Error != "disk full" {
		t.Errorf("Expected error text in snapshot, got %q", snap.Error)
	}
	if snap.Uptime != "" {
		t.Errorf("Expected no uptime for failed service, got %q", snap.Uptime)
	}
}

func TestServiceBase(t *testing.T) {
	base := NewServiceBase("cameras", nil)
	if base.Name() != "cameras" {
		t.Errorf("Expected name cameras, got %s", base.Name())
	}

	// no bus yet
	base.PublishEvent(EventTypeCameraConnected, nil)

	bus := NewEventBus(4)
	ch := bus.Subscribe(EventTypeCameraConnected)
	base.SetEventBus(bus)
	base.PublishEvent(EventTypeCameraConnected, map[string]interface{}{"index": 2})

	select {
	case event := <-ch:
		if event.Source != "cameras" || event.Data["index"] != 2 {
			t.Errorf("Unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	base.LogInfo("ok", "k", "v")
	base.LogError("failed", errors.New("x"))
}
