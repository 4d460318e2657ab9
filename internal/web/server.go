package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/health"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
	"github.com/johnywakim02/remote-stream/internal/web/streaming"
)

//go:embed templates/*.html
var templateFiles embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFiles, "templates/index.html"))

// CameraProvider exposes the running devices
type CameraProvider interface {
	Devices() []camera.DeviceInfo
	FrameDistributor(index int) (*video.FrameDistributor, error)
}

// StorageProvider reports recording storage usage
type StorageProvider interface {
	GetStorageStats(ctx context.Context) (*storage.StorageStats, error)
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
	routesOnce sync.Once
	auth       *Authenticator
	cameras    CameraProvider     // Optional
	storage    StorageProvider    // Optional
	health     *health.Manager    // Optional
	streaming  *streaming.Service // Set with cameras
	version    string
	startTime  time.Time
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(recoveryMiddleware(log))
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		auth:        auth,
		version:     "dev",
		startTime:   time.Now(),
	}, nil
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies wires the camera, storage and health providers. Any of
// them may be nil. Must be called before Start or Handler.
func (s *Server) SetDependencies(cameras CameraProvider, store StorageProvider, healthMgr *health.Manager) {
	s.cameras = cameras
	s.storage = store
	s.health = healthMgr
	if cameras != nil {
		s.streaming = streaming.NewService(cameras, s.logger)
	}
}

// Handler returns the router with every route mounted
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStarting)

	addr := s.config.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", addr, err)
		s.GetStatus().SetError(err)
		return err
	}
	s.listener = ln

	// WriteTimeout stays 0: MJPEG responses run until the viewer leaves
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", ln.Addr().String())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started",
		"address", ln.Addr().String(),
		"auth", s.auth.Enabled(),
	)
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping web server")
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// Name returns the service name
func (s *Server) Name() string {
	return "web-server"
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// setupRoutes mounts the health routes unauthenticated and everything
// else behind the authenticator
func (s *Server) setupRoutes() {
	if s.health != nil {
		s.health.RegisterRoutes(s.router)
	}

	protected := s.router.Group("")
	protected.Use(s.auth.Middleware())
	{
		protected.GET("/", s.handleIndex)
		protected.GET("/video_feed/:id", s.handleVideoFeed)
	}

	api := protected.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/cameras", s.handleListCameras)
		api.GET("/cameras/:id/frame", s.handleSingleFrame)
		api.GET("/storage", s.handleStorage)
		api.POST("/token", s.handleIssueToken)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// Query strings are not logged, they may carry a token
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// recoveryMiddleware turns handler panics into a JSON 500
func recoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("Server error",
			"error", fmt.Sprint(recovered),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	})
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
