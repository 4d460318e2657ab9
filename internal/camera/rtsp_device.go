package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtpmjpeg"
	"github.com/pion/rtp"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// RTSPOpener maps device index N to the Nth configured RTSP source. Sources
// must publish MJPEG over RTP.
type RTSPOpener struct {
	sources     []string
	dialTimeout time.Duration
	logger      *logger.Logger
}

// NewRTSPOpener creates an opener over the given source URLs
func NewRTSPOpener(sources []string, dialTimeout time.Duration, log *logger.Logger) *RTSPOpener {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &RTSPOpener{sources: sources, dialTimeout: dialTimeout, logger: log}
}

// Backend returns "rtsp"
func (o *RTSPOpener) Backend() string {
	return "rtsp"
}

// Open connects, negotiates the MJPEG track and starts playing
func (o *RTSPOpener) Open(index int) (Device, error) {
	if index < 0 || index >= len(o.sources) {
		return nil, fmt.Errorf("no rtsp source configured for index %d", index)
	}

	u, err := base.ParseURL(o.sources[index])
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	dev := &rtspDevice{
		index:  index,
		url:    u.Host + u.Path,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
		logger: o.logger,
		client: &gortsplib.Client{
			ReadTimeout:  o.dialTimeout,
			WriteTimeout: o.dialTimeout,
		},
	}

	if err := dev.client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dev.url, err)
	}

	desc, _, err := dev.client.Describe(u)
	if err != nil {
		return dev, fmt.Errorf("failed to describe stream: %w", err)
	}

	var mjpegFormat *format.MJPEG
	var mjpegMedia *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if mjpeg, ok := forma.(*format.MJPEG); ok {
				mjpegFormat = mjpeg
				mjpegMedia = media
				break
			}
		}
		if mjpegFormat != nil {
			break
		}
	}
	if mjpegFormat == nil {
		return dev, fmt.Errorf("MJPEG format not found in stream")
	}

	if err := dev.client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return dev, fmt.Errorf("failed to setup stream: %w", err)
	}

	decoder := &rtpmjpeg.Decoder{}
	if err := decoder.Init(); err != nil {
		return dev, fmt.Errorf("failed to init decoder: %w", err)
	}

	dev.client.OnPacketRTP(mjpegMedia, mjpegFormat, func(pkt *rtp.Packet) {
		jpegData, err := decoder.Decode(pkt)
		if err != nil {
			// fragments of an unfinished frame land here too
			return
		}
		dev.deliver(jpegData)
	})

	if _, err := dev.client.Play(nil); err != nil {
		return dev, fmt.Errorf("failed to play stream: %w", err)
	}

	go func() {
		err := dev.client.Wait()
		dev.mu.Lock()
		dev.waitErr = err
		dev.mu.Unlock()
		close(dev.done)
	}()

	dev.mu.Lock()
	dev.playing = true
	dev.mu.Unlock()

	o.logger.Info("RTSP stream connected", "index", index, "url", dev.url)
	return dev, nil
}

type rtspDevice struct {
	index  int
	url    string
	client *gortsplib.Client
	frames chan []byte
	done   chan struct{}
	logger *logger.Logger

	mu        sync.Mutex
	playing   bool
	waitErr   error
	closeOnce sync.Once
}

// deliver keeps only the newest frame: an unread frame is replaced
func (d *rtspDevice) deliver(jpegData []byte) {
	for {
		select {
		case d.frames <- jpegData:
			return
		default:
		}
		select {
		case <-d.frames:
		default:
		}
	}
}

func (d *rtspDevice) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

func (d *rtspDevice) ReadFrame(timeout time.Duration) (*video.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-d.frames:
		return &video.Frame{Data: data, Timestamp: time.Now(), DeviceIndex: d.index}, nil
	case <-d.done:
		d.mu.Lock()
		err := d.waitErr
		d.mu.Unlock()
		if err == nil {
			err = errors.New("stream ended")
		}
		return nil, fmt.Errorf("rtsp session %s closed: %w", d.url, err)
	case <-timer.C:
		return nil, ErrReadTimeout
	}
}

func (d *rtspDevice) Close() error {
	d.closeOnce.Do(func() {
		d.client.Close()
	})
	return nil
}
