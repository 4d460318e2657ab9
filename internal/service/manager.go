package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// DefaultStopTimeout bounds each service's Stop during Shutdown
const DefaultStopTimeout = 10 * time.Second

// Manager manages the lifecycle of all services
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	statusMu    sync.RWMutex
	eventBus    *EventBus
	mu          sync.Mutex // serializes Register, Start and Shutdown
	started     []Service  // in start order, stopped in reverse
	stopTimeout time.Duration
	monitorStop context.CancelFunc
}

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		services:    make([]Service, 0),
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(100),
		stopTimeout: DefaultStopTimeout,
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager. Services start in
// registration order.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)

	m.statusMu.Lock()
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())
	m.statusMu.Unlock()

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts all registered services one after another. If one fails, the
// services already started are stopped in reverse order and the error is
// returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))
	m.startEventMonitoring()

	for _, svc := range m.services {
		status := m.GetServiceStatus(svc.Name())
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data:   map[string]interface{}{"error": err.Error()},
			})

			rollbackCtx, cancel := context.WithTimeout(context.Background(), m.stopTimeout)
			m.stopStarted(rollbackCtx)
			cancel()
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}

		status.SetStatus(StatusRunning)
		m.started = append(m.started, svc)
		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}

	return nil
}

// startEventMonitoring logs every event at debug level
func (m *Manager) startEventMonitoring() {
	if m.monitorStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.monitorStop = cancel

	ch := m.eventBus.SubscribeAll()
	go func() {
		defer m.eventBus.UnsubscribeAll(ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"data", event.Data,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// stopStarted stops started services in reverse order. Caller holds m.mu.
func (m *Manager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		status := m.GetServiceStatus(svc.Name())

		status.SetStatus(StatusStopping)
		m.logger.Info("Stopping service", "service", svc.Name())

		stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
		err := stopWithDeadline(stopCtx, svc)
		cancel()

		if err != nil {
			status.SetError(err)
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
			m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
		} else {
			status.SetStatus(StatusStopped)
			m.logger.Info("Service stopped", "service", svc.Name())
		}

		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStopped,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}
	m.started = nil
	return errors.Join(errs...)
}

// stopWithDeadline returns when Stop returns or ctx expires, whichever is first
func stopWithDeadline(ctx context.Context, svc Service) error {
	done := make(chan error, 1)
	go func() {
		done <- svc.Stop(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

// Shutdown gracefully shuts down all services in reverse start order.
// It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Shutting down services", "count", len(m.started))

	err := m.stopStarted(ctx)

	if m.monitorStop != nil {
		m.monitorStop()
		m.monitorStop = nil
	}
	m.eventBus.Close()

	if err != nil {
		return fmt.Errorf("shutdown completed with errors: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("shutdown timeout: %w", ctxErr)
	}
	m.logger.Info("All services stopped")
	return nil
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return len(m.statuses)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
