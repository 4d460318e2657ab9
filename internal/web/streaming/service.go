package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// ErrCameraNotFound is returned for indices with no distributor
var ErrCameraNotFound = errors.New("camera not found")

// FrameSource resolves a device index to its distributor
type FrameSource interface {
	FrameDistributor(index int) (*video.FrameDistributor, error)
}

// Service hands out MJPEG streams for the web UI and counts viewers
type Service struct {
	logger  *logger.Logger
	source  FrameSource
	viewers map[int]int
	mu      sync.RWMutex
}

// NewService creates a new streaming service
func NewService(source FrameSource, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Service{
		logger:  log,
		source:  source,
		viewers: make(map[int]int),
	}
}

// GetFrame returns the latest frame of a camera as JPEG
func (s *Service) GetFrame(index int) ([]byte, error) {
	dist, err := s.distributor(index)
	if err != nil {
		return nil, err
	}
	data, _, err := dist.LatestJPEG()
	if err != nil {
		return nil, fmt.Errorf("no frame for camera %d: %w", index, err)
	}
	return data, nil
}

// StartStream registers a viewer on a camera. The stream ends when the
// camera stops or ctx is done; the caller must Close it.
func (s *Service) StartStream(ctx context.Context, index int) (*video.Stream, error) {
	dist, err := s.distributor(index)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.viewers[index]++
	s.mu.Unlock()

	s.logger.Info("Started MJPEG stream", "camera", index)
	return dist.Stream(ctx), nil
}

// StopStream releases a viewer registered by StartStream
func (s *Service) StopStream(index int, stream *video.Stream) {
	stream.Close()

	s.mu.Lock()
	if s.viewers[index] > 1 {
		s.viewers[index]--
	} else {
		delete(s.viewers, index)
	}
	s.mu.Unlock()

	s.logger.Info("Stopped MJPEG stream",
		"camera", index,
		"delivered", stream.Delivered(),
		"skipped", stream.Skipped(),
	)
}

// Viewers returns the number of open streams per camera
func (s *Service) Viewers() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]int, len(s.viewers))
	for index, n := range s.viewers {
		out[index] = n
	}
	return out
}

// WriteMJPEG writes multipart JPEG parts from stream to w until the stream
// ends or a write fails. A closed stream is a normal end.
func WriteMJPEG(w io.Writer, stream *video.Stream) error {
	flusher, _ := w.(http.Flusher)
	for {
		chunk, err := stream.Next()
		if err != nil {
			if errors.Is(err, video.ErrStreamClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if _, err := w.Write(chunk.Payload); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Service) distributor(index int) (*video.FrameDistributor, error) {
	dist, err := s.source.FrameDistributor(index)
	if err != nil || dist == nil {
		return nil, fmt.Errorf("%w: %d", ErrCameraNotFound, index)
	}
	return dist, nil
}
