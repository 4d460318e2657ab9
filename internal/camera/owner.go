package camera

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/video"
)

// State is a CaptureOwner lifecycle state
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultReadTimeout bounds a single device read when none is configured
const DefaultReadTimeout = 5 * time.Second

// StopFunc is called once when an owner's producer loop exits. err is nil
// for a requested stop.
type StopFunc func(index int, err error)

// CaptureOwner exclusively owns one device handle and runs the single
// producer loop that reads it. Consumers read frames from Slot, never
// from the device.
type CaptureOwner struct {
	device      DeviceIndex
	opener      DeviceOpener
	slot        *video.FrameSlot
	readTimeout time.Duration
	logger      *logger.Logger
	onStop      StopFunc

	// mu guards transitions and the handle. CaptureFrame holds it across
	// the read so Start cannot begin while a one-shot read is in flight.
	mu       sync.Mutex
	state    atomic.Int32
	handle   Device
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	closeErr error

	errMu   sync.Mutex
	lastErr error
}

// NewCaptureOwner creates an owner in the Created state. The device is not
// opened until Start or CaptureFrame.
func NewCaptureOwner(device DeviceIndex, opener DeviceOpener, slot *video.FrameSlot, readTimeout time.Duration, log *logger.Logger) *CaptureOwner {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &CaptureOwner{
		device:      device,
		opener:      opener,
		slot:        slot,
		readTimeout: readTimeout,
		logger:      log.With("camera", device.Index),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// OnStop registers a callback run when the producer loop exits
func (o *CaptureOwner) OnStop(fn StopFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStop = fn
}

// Index returns the device index
func (o *CaptureOwner) Index() int {
	return o.device.Index
}

// Label returns the display label
func (o *CaptureOwner) Label() string {
	return o.device.Label
}

// Slot returns the frame slot the producer publishes into
func (o *CaptureOwner) Slot() *video.FrameSlot {
	return o.slot
}

// State returns the current lifecycle state
func (o *CaptureOwner) State() State {
	return State(o.state.Load())
}

// Done is closed once the owner reaches Stopped and its handle is released
func (o *CaptureOwner) Done() <-chan struct{} {
	return o.done
}

// Err returns the error that stopped the owner, if any
func (o *CaptureOwner) Err() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.lastErr
}

func (o *CaptureOwner) setErr(err error) {
	o.errMu.Lock()
	o.lastErr = err
	o.errMu.Unlock()
}

// Start opens the device (unless CaptureFrame already did) and launches the
// producer loop. An open failure is final for this owner.
func (o *CaptureOwner) Start() error {
	o.mu.Lock()
	switch o.State() {
	case StateStarted, StateRunning:
		o.mu.Unlock()
		return ErrOwnerRunning
	case StateStopped:
		o.mu.Unlock()
		return ErrOwnerStopped
	}

	if o.handle == nil {
		handle, err := o.open()
		if err != nil {
			o.state.Store(int32(StateStopped))
			o.setErr(err)
			o.mu.Unlock()
			o.slot.Close()
			o.doneOnce.Do(func() { close(o.done) })
			return err
		}
		o.handle = handle
	}

	handle := o.handle
	o.state.Store(int32(StateStarted))
	o.mu.Unlock()

	o.logger.Info("Capture started", "label", o.device.Label)
	go o.run(handle)
	return nil
}

// open returns a ready handle or a DeviceOpenError. Caller holds mu.
func (o *CaptureOwner) open() (Device, error) {
	handle, err := o.opener.Open(o.device.Index)
	if err == nil && !handle.Ready() {
		err = errors.New("device not ready")
	}
	if err != nil {
		if handle != nil {
			_ = handle.Close()
		}
		return nil, &DeviceOpenError{Index: o.device.Index, Err: err}
	}
	return handle, nil
}

func (o *CaptureOwner) run(handle Device) {
	var stopErr error
	defer func() {
		o.finish(handle, stopErr)
	}()

	o.state.CompareAndSwap(int32(StateStarted), int32(StateRunning))

	for {
		select {
		case <-o.stopCh:
			return
		default:
		}

		frame, err := handle.ReadFrame(o.readTimeout)
		if err != nil {
			select {
			case <-o.stopCh:
				return
			default:
			}
			stopErr = &FrameReadError{
				Index:   o.device.Index,
				Err:     err,
				Timeout: errors.Is(err, ErrReadTimeout),
			}
			o.logger.Error("Capture stopped after read failure", "error", stopErr)
			return
		}

		frame.DeviceIndex = o.device.Index
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		o.slot.Publish(frame)
	}
}

// finish releases the handle and ends every stream on the slot
func (o *CaptureOwner) finish(handle Device, stopErr error) {
	closeErr := handle.Close()
	if closeErr != nil {
		o.logger.Warn("Failed to release camera", "error", closeErr)
	}

	o.mu.Lock()
	o.handle = nil
	o.closeErr = closeErr
	o.state.Store(int32(StateStopped))
	onStop := o.onStop
	o.mu.Unlock()

	if stopErr != nil {
		o.setErr(stopErr)
	}
	o.slot.Close()

	o.logger.Info("Capture stopped", "label", o.device.Label, "frames", o.lastSeq())
	if onStop != nil {
		onStop(o.device.Index, stopErr)
	}
	o.doneOnce.Do(func() { close(o.done) })
}

func (o *CaptureOwner) lastSeq() uint64 {
	_, seq := o.slot.Latest()
	return seq
}

// Stop signals the producer loop and waits for it to release the device.
// The loop notices the signal after its current read, so Stop returns
// within one read timeout. Stop is idempotent and returns the handle's
// close error from the first call only.
func (o *CaptureOwner) Stop() error {
	o.mu.Lock()
	switch o.State() {
	case StateCreated:
		handle := o.handle
		o.handle = nil
		o.state.Store(int32(StateStopped))
		o.mu.Unlock()

		var err error
		if handle != nil {
			err = handle.Close()
		}
		o.slot.Close()
		o.doneOnce.Do(func() { close(o.done) })
		return err
	case StateStopped:
		o.mu.Unlock()
		<-o.done
		return nil
	}

	o.stopOnce.Do(func() { close(o.stopCh) })
	o.mu.Unlock()

	<-o.done

	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.closeErr
	o.closeErr = nil
	return err
}

// CaptureFrame performs one synchronous read outside the producer loop. It
// is only allowed before Start; the handle it opens is kept for Start.
func (o *CaptureOwner) CaptureFrame() (*video.Frame, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.State() {
	case StateStarted, StateRunning:
		return nil, ErrOwnerRunning
	case StateStopped:
		return nil, ErrOwnerStopped
	}

	if o.handle == nil {
		handle, err := o.open()
		if err != nil {
			return nil, err
		}
		o.handle = handle
	}

	frame, err := o.handle.ReadFrame(o.readTimeout)
	if err != nil {
		return nil, &FrameReadError{
			Index:   o.device.Index,
			Err:     err,
			Timeout: errors.Is(err, ErrReadTimeout),
		}
	}
	frame.DeviceIndex = o.device.Index
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	return frame, nil
}
