package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
)

// OverallService is the health service name reporting the whole process
const OverallService = ""

// DeviceSource lists the devices whose health is reported
type DeviceSource interface {
	Devices() []camera.DeviceInfo
}

// DeviceServiceName is the health service name of one device
func DeviceServiceName(index int) string {
	return fmt.Sprintf("camera%d", index)
}

// HealthService serves grpc.health.v1.Health. Each device is its own
// service; the overall service is SERVING while at least one device is.
type HealthService struct {
	*service.ServiceBase
	config   *config.GRPCConfig
	logger   *logger.Logger
	source   DeviceSource
	health   *health.Server
	server   *grpc.Server
	listener net.Listener

	mu      sync.Mutex
	serving map[int]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthService creates the gRPC health service
func NewHealthService(cfg *config.GRPCConfig, source DeviceSource, log *logger.Logger) *HealthService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &HealthService{
		ServiceBase: service.NewServiceBase("grpc-health", log),
		config:      cfg,
		logger:      log,
		source:      source,
		health:      health.NewServer(),
		serving:     make(map[int]bool),
	}
}

// Name returns the service name
func (h *HealthService) Name() string {
	return "grpc-health"
}

// Start seeds the statuses from the current devices, follows camera
// events and starts serving
func (h *HealthService) Start(ctx context.Context) error {
	if !h.config.Enabled {
		h.LogInfo("gRPC health service disabled")
		return nil
	}

	h.GetStatus().SetStatus(service.StatusStarting)

	ln, err := net.Listen("tcp", h.config.Address)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", h.config.Address, err)
		h.GetStatus().SetError(err)
		return err
	}
	h.listener = ln

	if h.source != nil {
		h.mu.Lock()
		for _, dev := range h.source.Devices() {
			h.serving[dev.Index] = dev.State == camera.StateRunning.String() || dev.State == camera.StateStarted.String()
		}
		h.mu.Unlock()
	}
	h.publishStatuses()

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	if bus := h.GetEventBus(); bus != nil {
		h.follow(runCtx, bus)
	}

	h.server = grpc.NewServer()
	healthpb.RegisterHealthServer(h.server, h.health)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			h.LogError("gRPC server error", err, "address", ln.Addr().String())
			h.GetStatus().SetError(err)
		}
	}()

	h.GetStatus().SetStatus(service.StatusRunning)
	h.LogInfo("gRPC health service started", "address", ln.Addr().String())
	return nil
}

// Stop marks every service NOT_SERVING and stops the server, forcing it
// if ctx ends before open Watch streams drain
func (h *HealthService) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}

	h.GetStatus().SetStatus(service.StatusStopping)
	h.LogInfo("Stopping gRPC health service")

	if h.cancel != nil {
		h.cancel()
	}
	h.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		h.server.Stop()
		<-stopped
	}
	h.wg.Wait()

	h.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Addr returns the bound address once started
func (h *HealthService) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// follow applies camera connect and disconnect events until ctx ends
func (h *HealthService) follow(ctx context.Context, bus *service.EventBus) {
	bus.SubscribeWithHandler(ctx, service.EventTypeCameraConnected, func(ctx context.Context, event service.Event) error {
		return h.applyEvent(event, true)
	}, h.onEventError)
	bus.SubscribeWithHandler(ctx, service.EventTypeCameraDisconnected, func(ctx context.Context, event service.Event) error {
		return h.applyEvent(event, false)
	}, h.onEventError)
}

func (h *HealthService) applyEvent(event service.Event, serving bool) error {
	index, ok := event.Data["index"].(int)
	if !ok {
		return fmt.Errorf("event %s has no device index", event.Type)
	}

	h.mu.Lock()
	h.serving[index] = serving
	h.mu.Unlock()

	h.publishStatuses()
	h.LogDebug("Device health changed", "camera", index, "serving", serving)
	return nil
}

func (h *HealthService) onEventError(event service.Event, err error) {
	h.LogWarn("Ignoring camera event", "type", event.Type, "error", err)
}

func (h *HealthService) publishStatuses() {
	h.mu.Lock()
	defer h.mu.Unlock()

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	for index, serving := range h.serving {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if serving {
			status = healthpb.HealthCheckResponse_SERVING
			overall = healthpb.HealthCheckResponse_SERVING
		}
		h.health.SetServingStatus(DeviceServiceName(index), status)
	}
	h.health.SetServingStatus(OverallService, overall)
}
