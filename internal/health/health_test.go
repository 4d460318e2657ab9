package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/storage"
)

type fakeCameras struct {
	running []int
	wanted  int
}

func (f fakeCameras) Indices() []int   { return f.running }
func (f fakeCameras) WantedCount() int { return f.wanted }

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestCameraChecker(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cameras fakeCameras
		want    Status
	}{
		{"none running", fakeCameras{running: nil, wanted: 2}, StatusUnhealthy},
		{"shortfall", fakeCameras{running: []int{0}, wanted: 2}, StatusDegraded},
		{"all running", fakeCameras{running: []int{0, 1}, wanted: 2}, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewCameraChecker(tt.cameras).Check(ctx)
			assert.Equal(t, tt.want, check.Status)
			assert.Equal(t, "cameras", check.Name)
		})
	}
}

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, NewDatabaseChecker(fakePinger{}).Check(ctx).Status)
	assert.Equal(t, StatusUnhealthy, NewDatabaseChecker(fakePinger{err: errors.New("locked")}).Check(ctx).Status)
	assert.Equal(t, StatusDegraded, NewDatabaseChecker(nil).Check(ctx).Status)
}

func TestStorageChecker(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	layout := storage.Layout{ImageFolder: root, VideoFolder: root}

	monitor, err := storage.NewDiskMonitor(root, 100, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, NewStorageChecker(layout, monitor).Check(ctx).Status)

	tight, err := storage.NewDiskMonitor(root, 0.001, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, NewStorageChecker(layout, tight).Check(ctx).Status)

	missing := storage.Layout{ImageFolder: filepath.Join(root, "nope"), VideoFolder: root}
	assert.Equal(t, StatusUnhealthy, NewStorageChecker(missing, monitor).Check(ctx).Status)
}

func TestManagerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mgr := NewManager(logger.NewNopLogger(), nil)
	mgr.RegisterChecker(&SystemChecker{})
	mgr.RegisterChecker(NewCameraChecker(fakeCameras{running: []int{0}, wanted: 2}))

	router := gin.New()
	mgr.RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Len(t, report.Checks, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mgr.RegisterChecker(NewDatabaseChecker(fakePinger{err: errors.New("gone")}))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var ready map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.Equal(t, false, ready["ready"])
}

type slowPinger struct{}

func (slowPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestManagerCheckTimeout(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger(), nil)
	mgr.checkTimeout = 50 * time.Millisecond
	mgr.RegisterChecker(NewDatabaseChecker(slowPinger{}))
	mgr.RegisterChecker(NewCameraChecker(fakeCameras{running: []int{0}, wanted: 1}))

	start := time.Now()
	report := mgr.Check(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["database"].Status)
	assert.Equal(t, StatusHealthy, report.Checks["cameras"].Status)
}
