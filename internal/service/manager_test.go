package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

type mockService struct {
	name       string
	startError error
	stopError  error
	stopDelay  time.Duration
	onStart    func()
	onStop     func()

	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *mockService) Name() string {
	return m.name
}

func (m *mockService) Start(ctx context.Context) error {
	if m.onStart != nil {
		m.onStart()
	}
	if m.startError != nil {
		return m.startError
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *mockService) Stop(ctx context.Context) error {
	if m.stopDelay > 0 {
		time.Sleep(m.stopDelay)
	}
	if m.onStop != nil {
		m.onStop()
	}
	if m.stopError != nil {
		return m.stopError
	}
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *mockService) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type mockServiceWithEvents struct {
	mockService
	eventBus *EventBus
}

func (m *mockServiceWithEvents) SetEventBus(bus *EventBus) {
	m.eventBus = bus
}

func TestNewManager(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	if mgr.GetServiceCount() != 0 {
		t.Errorf("Expected 0 services, got %d", mgr.GetServiceCount())
	}
	if mgr.GetEventBus() == nil {
		t.Error("Event bus should be initialized")
	}
}

func TestManager_Register(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	mgr.Register(&mockService{name: "cameras"})
	withEvents := &mockServiceWithEvents{mockService: mockService{name: "recorder"}}
	mgr.Register(withEvents)

	if mgr.GetServiceCount() != 2 {
		t.Errorf("Expected 2 services, got %d", mgr.GetServiceCount())
	}
	status := mgr.GetServiceStatus("cameras")
	if status == nil {
		t.Fatal("Service status should be created")
	}
	if status.GetStatus() != StatusStopped {
		t.Errorf("Expected status %s, got %s", StatusStopped, status.GetStatus())
	}
	if withEvents.eventBus == nil {
		t.Error("Event bus should be set for service with events")
	}
}

func TestManager_StartSequential(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	var order []string
	for _, name := range []string{"cameras", "recorder", "web"} {
		name := name
		mgr.Register(&mockService{name: name, onStart: func() { order = append(order, name) }})
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Shutdown(context.Background())

	if len(order) != 3 || order[0] != "cameras" || order[1] != "recorder" || order[2] != "web" {
		t.Errorf("Unexpected start order: %v", order)
	}
	for name, status := range mgr.GetAllStatuses() {
		if !status.IsRunning() {
			t.Errorf("Service %s should be running, got %s", name, status.GetStatus())
		}
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	first := &mockService{name: "cameras"}
	failing := &mockService{name: "recorder", startError: errors.New("folder not writable")}
	never := &mockService{name: "web"}
	mgr.Register(first)
	mgr.Register(failing)
	mgr.Register(never)

	err := mgr.Start(context.Background())
	if err == nil {
		t.Fatal("Start should fail when a service fails")
	}
	if !errors.Is(err, failing.startError) {
		t.Errorf("Expected wrapped start error, got %v", err)
	}

	if !first.isStopped() {
		t.Error("Already started service should be rolled back")
	}
	if mgr.GetServiceStatus("recorder").GetStatus() != StatusError {
		t.Errorf("Expected failing service in error state, got %s", mgr.GetServiceStatus("recorder").GetStatus())
	}
	if never.started {
		t.Error("Services after the failure should not start")
	}
}

func TestManager_Shutdown_ReverseOrder(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	var mu sync.Mutex
	var stopOrder []string
	for _, name := range []string{"service-1", "service-2", "service-3"} {
		name := name
		mgr.Register(&mockService{name: name, onStop: func() {
			mu.Lock()
			stopOrder = append(stopOrder, name)
			mu.Unlock()
		}})
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stopOrder) != 3 {
		t.Fatalf("Expected 3 services stopped, got %d", len(stopOrder))
	}
	if stopOrder[0] != "service-3" || stopOrder[1] != "service-2" || stopOrder[2] != "service-1" {
		t.Errorf("Expected reverse stop order, got %v", stopOrder)
	}
	for name, status := range mgr.GetAllStatuses() {
		if status.GetStatus() != StatusStopped {
			t.Errorf("Service %s should be stopped, got %s", name, status.GetStatus())
		}
	}
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	svc := &mockService{name: "cameras"}
	mgr.Register(svc)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
}

func TestManager_ShutdownStopError(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "ok"})
	mgr.Register(&mockService{name: "broken", stopError: errors.New("close failed")})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := mgr.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Expected shutdown error")
	}
	if mgr.GetServiceStatus("ok").GetStatus() != StatusStopped {
		t.Error("Healthy service should still be stopped after a sibling fails")
	}
}

func TestManager_Shutdown_Timeout(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "slow-service", stopDelay: 2 * time.Second})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := mgr.Shutdown(shutdownCtx); err == nil {
		t.Error("Shutdown should timeout and return error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown should return at the deadline, took %v", elapsed)
	}
}
