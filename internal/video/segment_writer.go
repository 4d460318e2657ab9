package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// ErrWriterClosed is returned when writing to a closed segment
var ErrWriterClosed = errors.New("segment writer closed")

// SegmentWriter accepts JPEG frames and produces one video file
type SegmentWriter interface {
	WriteFrame(jpegData []byte) error
	// Close flushes buffered frames and finalizes the file
	Close() error
	Path() string
	Frames() int
}

// SegmentWriterFactory opens segment writers
type SegmentWriterFactory interface {
	Open(path string, fps int) (SegmentWriter, error)
}

// FFmpegSegmentFactory encodes segments by piping JPEG frames into ffmpeg
type FFmpegSegmentFactory struct {
	ffmpeg       *FFmpegWrapper
	codec        string
	closeTimeout time.Duration
	logger       *logger.Logger
}

// NewFFmpegSegmentFactory creates a factory using the preferred encoder for codec
func NewFFmpegSegmentFactory(ffmpeg *FFmpegWrapper, codec string, log *logger.Logger) *FFmpegSegmentFactory {
	if codec == "" {
		codec = "h264"
	}
	return &FFmpegSegmentFactory{
		ffmpeg:       ffmpeg,
		codec:        codec,
		closeTimeout: 30 * time.Second,
		logger:       log,
	}
}

// Open starts an ffmpeg process writing an MP4 file to path
func (f *FFmpegSegmentFactory) Open(path string, fps int) (SegmentWriter, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate: %d", fps)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	encoder := f.ffmpeg.GetPreferredEncoder(f.codec)
	args := buildSegmentArgs(path, fps, encoder)

	// The process must outlive any request context so Close can flush it.
	cmd := f.ffmpeg.BuildCommand(context.Background(), args)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	f.logger.Debug("Segment opened", "path", path, "encoder", encoder, "fps", fps)

	return &ffmpegSegment{
		path:         path,
		cmd:          cmd,
		stdin:        stdin,
		stderr:       stderr,
		closeTimeout: f.closeTimeout,
	}, nil
}

// buildSegmentArgs returns ffmpeg arguments for an MJPEG pipe to MP4 encode.
// Fragmented MP4 keeps the file playable if the process dies mid-hour.
func buildSegmentArgs(path string, fps int, encoder string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	if isVAAPI(encoder) {
		args = append(args, "-vaapi_device", "/dev/dri/renderD128")
	}

	args = append(args,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-framerate", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", encoder,
	)

	switch {
	case isVAAPI(encoder):
		args = append(args, "-vf", "format=nv12,hwupload")
	case encoder == "mpeg4":
		args = append(args, "-q:v", "5", "-pix_fmt", "yuv420p")
	case encoder == "h264_nvenc" || encoder == "hevc_nvenc":
		args = append(args, "-preset", "p4", "-pix_fmt", "yuv420p")
	default:
		args = append(args, "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p")
	}

	args = append(args,
		"-r", strconv.Itoa(fps),
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"-y", path,
	)
	return args
}

func isVAAPI(encoder string) bool {
	return encoder == "h264_vaapi" || encoder == "hevc_vaapi"
}

type ffmpegSegment struct {
	path         string
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stderr       *tailBuffer
	closeTimeout time.Duration

	mu     sync.Mutex
	frames int
	closed bool
}

func (s *ffmpegSegment) WriteFrame(jpegData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrWriterClosed
	}
	if _, err := s.stdin.Write(jpegData); err != nil {
		return fmt.Errorf("failed to write frame to ffmpeg: %w (%s)", err, s.stderr.String())
	}
	s.frames++
	return nil
}

func (s *ffmpegSegment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	closeErr := s.stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg exited with error: %w (%s)", err, s.stderr.String())
		}
	case <-time.After(s.closeTimeout):
		_ = s.cmd.Process.Kill()
		<-done
		return fmt.Errorf("ffmpeg did not finish within %v", s.closeTimeout)
	}
	return closeErr
}

func (s *ffmpegSegment) Path() string {
	return s.path
}

func (s *ffmpegSegment) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
