package video

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotClosed is returned once the producer behind a slot has stopped
var ErrSlotClosed = errors.New("frame slot closed")

// FrameSlot is a single-writer, multi-reader latest-value cell. Each Publish
// overwrites the previous frame and bumps a strictly increasing sequence
// number; readers that fall behind skip the frames they missed.
type FrameSlot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	seq    uint64
	closed bool
	done   chan struct{}
}

// NewFrameSlot creates an empty slot. Sequence numbers start at 1.
func NewFrameSlot() *FrameSlot {
	s := &FrameSlot{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Publish stores frame as the latest value and wakes every waiter.
// Publishing into a closed slot is ignored.
func (s *FrameSlot) Publish(frame *Frame) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.seq
	}
	s.frame = frame
	s.seq++
	s.cond.Broadcast()
	return s.seq
}

// Latest returns the newest frame and its sequence number without blocking.
// Before the first publish it returns (nil, 0).
func (s *FrameSlot) Latest() (*Frame, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq
}

// WaitNewer blocks until a frame with sequence greater than after is
// available, the slot closes, or ctx is done.
func (s *FrameSlot) WaitNewer(ctx context.Context, after uint64) (*Frame, uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.seq <= after && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, s.seq, err
	}
	if s.closed {
		return nil, s.seq, ErrSlotClosed
	}
	return s.frame, s.seq, nil
}

// Close marks the producer as gone. Waiters return ErrSlotClosed; Latest
// keeps returning the last frame.
func (s *FrameSlot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Broadcast()
}

// Closed reports whether Close has been called
func (s *FrameSlot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the slot closes
func (s *FrameSlot) Done() <-chan struct{} {
	return s.done
}
