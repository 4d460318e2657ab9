package video

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/johnywakim02/remote-stream/internal/logger"
)

// ErrStreamClosed ends a stream whose device has stopped
var ErrStreamClosed = errors.New("stream closed: capture stopped")

// FrameDistributor fans the frames of one device out to any number of
// consumers. It never blocks the producer: consumers pull from the slot and
// skip whatever they were too slow to see.
type FrameDistributor struct {
	index   int
	slot    *FrameSlot
	quality int
	logger  *logger.Logger

	mu      sync.Mutex
	streams map[string]*Stream

	// the last encoded frame is shared by every consumer of the same seq
	encMu   sync.Mutex
	encSeq  uint64
	encData []byte

	encodeErrors atomic.Uint64
}

// DistributorConfig contains distributor configuration
type DistributorConfig struct {
	JPEGQuality int
}

// NewFrameDistributor creates a distributor reading from slot
func NewFrameDistributor(index int, slot *FrameSlot, config DistributorConfig, log *logger.Logger) *FrameDistributor {
	quality := config.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &FrameDistributor{
		index:   index,
		slot:    slot,
		quality: quality,
		logger:  log,
		streams: make(map[string]*Stream),
	}
}

// Index returns the device index served by this distributor
func (d *FrameDistributor) Index() int {
	return d.index
}

// Latest returns the newest frame and its sequence number without blocking
func (d *FrameDistributor) Latest() (*Frame, uint64) {
	return d.slot.Latest()
}

// LatestJPEG returns the newest frame encoded as JPEG
func (d *FrameDistributor) LatestJPEG() ([]byte, uint64, error) {
	frame, seq := d.slot.Latest()
	if frame == nil {
		return nil, seq, ErrEmptyFrame
	}
	data, err := d.Encode(frame, seq)
	return data, seq, err
}

// Closed reports whether the device behind this distributor has stopped
func (d *FrameDistributor) Closed() bool {
	return d.slot.Closed()
}

// Done is closed when the device stops
func (d *FrameDistributor) Done() <-chan struct{} {
	return d.slot.Done()
}

// Encode returns the JPEG form of frame. The result for the most recent
// sequence number is cached so concurrent streams encode each frame once.
func (d *FrameDistributor) Encode(frame *Frame, seq uint64) ([]byte, error) {
	if frame.IsJPEG() {
		return frame.Data, nil
	}

	d.encMu.Lock()
	defer d.encMu.Unlock()

	if seq != 0 && seq == d.encSeq && d.encData != nil {
		return d.encData, nil
	}

	data, err := EncodeJPEG(frame, d.quality)
	if err != nil {
		d.encodeErrors.Add(1)
		return nil, &EncodeError{DeviceIndex: d.index, Seq: seq, Err: err}
	}
	if seq != 0 {
		d.encSeq = seq
		d.encData = data
	}
	return data, nil
}

// Stream registers a new consumer. The stream yields one chunk per newly
// observed sequence number until the device stops or ctx is done.
func (d *FrameDistributor) Stream(ctx context.Context) *Stream {
	s := &Stream{
		ID:      uuid.NewString(),
		Started: time.Now(),
		dist:    d,
		ctx:     ctx,
	}

	d.mu.Lock()
	d.streams[s.ID] = s
	count := len(d.streams)
	d.mu.Unlock()

	d.logger.Debug("Stream opened", "camera", d.index, "stream_id", s.ID, "active_streams", count)
	return s
}

func (d *FrameDistributor) removeStream(s *Stream) {
	d.mu.Lock()
	delete(d.streams, s.ID)
	count := len(d.streams)
	d.mu.Unlock()

	d.logger.Debug("Stream closed",
		"camera", d.index,
		"stream_id", s.ID,
		"delivered", s.Delivered(),
		"skipped", s.Skipped(),
		"active_streams", count,
	)
}

// Stats returns distributor statistics
func (d *FrameDistributor) Stats() FrameStats {
	_, seq := d.slot.Latest()

	d.mu.Lock()
	streams := make([]StreamStats, 0, len(d.streams))
	for _, s := range d.streams {
		streams = append(streams, s.Stats())
	}
	d.mu.Unlock()

	sort.Slice(streams, func(i, j int) bool {
		return streams[i].Started.Before(streams[j].Started)
	})

	return FrameStats{
		DeviceIndex:   d.index,
		LastSeq:       seq,
		Closed:        d.slot.Closed(),
		ActiveStreams: len(streams),
		EncodeErrors:  d.encodeErrors.Load(),
		Streams:       streams,
	}
}

// FrameStats contains distribution statistics for one device
type FrameStats struct {
	DeviceIndex   int           `json:"device_index"`
	LastSeq       uint64        `json:"last_seq"`
	Closed        bool          `json:"closed"`
	ActiveStreams int           `json:"active_streams"`
	EncodeErrors  uint64        `json:"encode_errors"`
	Streams       []StreamStats `json:"streams,omitempty"`
}

// StreamStats describes one consumer
type StreamStats struct {
	ID        string    `json:"id"`
	Started   time.Time `json:"started"`
	LastSeq   uint64    `json:"last_seq"`
	Delivered uint64    `json:"delivered"`
	Skipped   uint64    `json:"skipped"`
}

// Chunk is one encoded frame handed to a consumer
type Chunk struct {
	Seq       uint64
	Timestamp time.Time
	JPEG      []byte
	Payload   []byte // JPEG wrapped as a multipart part
}

// Stream is a pull-based consumer of one device's frames. A Stream is used
// by a single goroutine.
type Stream struct {
	ID      string
	Started time.Time

	dist *FrameDistributor
	ctx  context.Context

	lastSeq   atomic.Uint64
	delivered atomic.Uint64
	skipped   atomic.Uint64
	closeOnce sync.Once
}

// Next blocks until an unseen frame is available and returns it encoded.
// It returns ErrStreamClosed once the device stops and ctx.Err() when the
// consumer goes away. Frames that fail to encode are logged and skipped.
func (s *Stream) Next() (Chunk, error) {
	for {
		last := s.lastSeq.Load()
		frame, seq, err := s.dist.slot.WaitNewer(s.ctx, last)
		if err != nil {
			s.Close()
			if errors.Is(err, ErrSlotClosed) {
				return Chunk{}, ErrStreamClosed
			}
			return Chunk{}, err
		}

		if last != 0 && seq > last+1 {
			s.skipped.Add(seq - last - 1)
		}
		s.lastSeq.Store(seq)

		data, err := s.dist.Encode(frame, seq)
		if err != nil {
			s.skipped.Add(1)
			s.dist.logger.Warn("Skipping frame that failed to encode",
				"camera", s.dist.index,
				"stream_id", s.ID,
				"seq", seq,
				"error", err,
			)
			continue
		}

		s.delivered.Add(1)
		return Chunk{
			Seq:       seq,
			Timestamp: frame.Timestamp,
			JPEG:      data,
			Payload:   MultipartPart(data),
		}, nil
	}
}

// Close unregisters the stream. It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.dist.removeStream(s)
	})
}

// Delivered returns how many frames the consumer received
func (s *Stream) Delivered() uint64 {
	return s.delivered.Load()
}

// Skipped returns how many sequence numbers the consumer never saw
func (s *Stream) Skipped() uint64 {
	return s.skipped.Load()
}

// Stats returns a snapshot of the stream counters
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		ID:        s.ID,
		Started:   s.Started,
		LastSeq:   s.lastSeq.Load(),
		Delivered: s.delivered.Load(),
		Skipped:   s.skipped.Load(),
	}
}
