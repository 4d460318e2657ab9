package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]Check       `json:"checks"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// DefaultCheckTimeout bounds a single checker
const DefaultCheckTimeout = 5 * time.Second

// Manager runs the registered checkers concurrently and serves the results
type Manager struct {
	logger       *logger.Logger
	svcManager   *service.Manager
	startTime    time.Time
	checkTimeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates a new health check manager. svcManager may be nil.
func NewManager(log *logger.Logger, svcManager *service.Manager) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		logger:       log,
		svcManager:   svcManager,
		startTime:    time.Now(),
		checkTimeout: DefaultCheckTimeout,
	}
}

// RegisterChecker adds a checker; a later checker with the same name
// replaces the earlier result
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, checker)
	m.mu.Unlock()
}

// RegisterRoutes mounts the health endpoints
func (m *Manager) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", m.handleHealth)
	r.GET("/health/live", m.handleLiveness)
	r.GET("/health/ready", m.handleReadiness)
	r.GET("/health/services", m.handleServices)
}

// Check runs every checker with its own timeout. The worst status wins.
func (m *Manager) Check(ctx context.Context) HealthReport {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make([]Check, len(checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, checker := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, m.checkTimeout)
			defer cancel()
			results[i] = checker.Check(cctx)
			if results[i].Name == "" {
				results[i].Name = checker.Name()
			}
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    make(map[string]Check, len(results)),
		Services:  m.serviceStatuses(),
	}
	for _, check := range results {
		report.Checks[check.Name] = check
		report.Status = worse(report.Status, check.Status)
	}

	if report.Status != StatusHealthy {
		m.logger.Debug("Health check not healthy", "status", report.Status)
	}
	return report
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (m *Manager) serviceStatuses() map[string]interface{} {
	services := make(map[string]interface{})
	if m.svcManager == nil {
		return services
	}
	for name, status := range m.svcManager.GetAllStatuses() {
		services[name] = status.Snapshot()
	}
	return services
}

// httpStatus maps a report to its response code; degraded still answers 200
func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (m *Manager) handleHealth(c *gin.Context) {
	report := m.Check(c.Request.Context())
	c.JSON(httpStatus(report.Status), report)
}

func (m *Manager) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now()})
}

func (m *Manager) handleReadiness(c *gin.Context) {
	report := m.Check(c.Request.Context())
	c.JSON(httpStatus(report.Status), gin.H{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"ready":     report.Status != StatusUnhealthy,
	})
}

func (m *Manager) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services":  m.serviceStatuses(),
		"timestamp": time.Now(),
	})
}
