package web

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/video"
	"github.com/johnywakim02/remote-stream/internal/web/streaming"
)

type indexPage struct {
	Cameras []camera.DeviceInfo
	Version string
	Token   string
}

// handleIndex renders the viewer page with one feed per device
func (s *Server) handleIndex(c *gin.Context) {
	page := indexPage{
		Version: s.version,
		Token:   c.Query("token"),
	}
	if s.cameras != nil {
		page.Cameras = s.cameras.Devices()
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, page); err != nil {
		s.LogError("Failed to render index", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// handleVideoFeed streams one device as multipart JPEG until the viewer
// disconnects or the device stops
func (s *Server) handleVideoFeed(c *gin.Context) {
	index, ok := s.cameraIndex(c)
	if !ok {
		return
	}

	stream, err := s.streaming.StartStream(c.Request.Context(), index)
	if err != nil {
		s.cameraNotFound(c)
		return
	}
	defer s.streaming.StopStream(index, stream)

	c.Header("Content-Type", video.MultipartContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := streaming.WriteMJPEG(c.Writer, stream); err != nil {
		s.LogDebug("MJPEG stream ended", "camera", index, "error", err)
	}
}

// handleSingleFrame returns the latest JPEG of a device
func (s *Server) handleSingleFrame(c *gin.Context) {
	index, ok := s.cameraIndex(c)
	if !ok {
		return
	}

	frame, err := s.streaming.GetFrame(index)
	if err != nil {
		if errors.Is(err, streaming.ErrCameraNotFound) {
			s.cameraNotFound(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "No frame available"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

// handleListCameras lists every discovered device
func (s *Server) handleListCameras(c *gin.Context) {
	if s.cameras == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera manager not available"})
		return
	}

	devices := s.cameras.Devices()
	c.JSON(http.StatusOK, gin.H{
		"cameras": devices,
		"count":   len(devices),
		"viewers": s.streaming.Viewers(),
	})
}

// handleStorage reports disk usage and catalogued recordings
func (s *Server) handleStorage(c *gin.Context) {
	if s.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage not available"})
		return
	}

	stats, err := s.storage.GetStorageStats(c.Request.Context())
	if err != nil {
		s.LogError("Failed to read storage stats", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read storage stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleIssueToken signs a stream token for the authenticated caller
func (s *Server) handleIssueToken(c *gin.Context) {
	subject := c.GetString(subjectContext)
	if subject == "" {
		subject = "anonymous"
	}

	token, expires, err := s.auth.IssueToken(subject)
	if err != nil {
		s.LogError("Failed to issue token", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	status := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		status = "starting"
	}

	running := 0
	if s.cameras != nil {
		for _, dev := range s.cameras.Devices() {
			if dev.State != camera.StateStopped.String() {
				running++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"uptime":          uptime.Round(time.Second).String(),
		"uptime_seconds":  int64(uptime.Seconds()),
		"version":         s.version,
		"cameras_running": running,
		"auth":            s.auth.Enabled(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// cameraIndex parses :id and answers 404 for anything that is not a
// known device
func (s *Server) cameraIndex(c *gin.Context) (int, bool) {
	if s.streaming == nil {
		s.cameraNotFound(c)
		return 0, false
	}
	index, err := strconv.Atoi(c.Param("id"))
	if err != nil || index < 0 {
		s.cameraNotFound(c)
		return 0, false
	}
	return index, true
}

func (s *Server) cameraNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
}
