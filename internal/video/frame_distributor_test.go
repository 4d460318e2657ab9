package video

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameDistributor_Latest(t *testing.T) {
	slot, dist := setupTestDistributor(t, 2)

	frame, seq := dist.Latest()
	assert.Nil(t, frame)
	assert.Equal(t, uint64(0), seq)

	_, _, err := dist.LatestJPEG()
	assert.ErrorIs(t, err, ErrEmptyFrame)

	slot.Publish(testRawFrame(2, 128))
	data, seq, err := dist.LatestJPEG()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 2, dist.Index())
}

func TestFrameDistributor_JPEGPassThrough(t *testing.T) {
	slot, dist := setupTestDistributor(t, 0)
	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	slot.Publish(&Frame{Data: payload})

	data, _, err := dist.LatestJPEG()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFrameDistributor_EncodeCachedPerSeq(t *testing.T) {
	slot, dist := setupTestDistributor(t, 0)
	frame := testRawFrame(0, 50)
	seq := slot.Publish(frame)

	first, err := dist.Encode(frame, seq)
	require.NoError(t, err)
	second, err := dist.Encode(frame, seq)
	require.NoError(t, err)
	assert.Same(t, &first[0], &second[0], "same seq should reuse the encoded bytes")
}

func TestStream_DeliversEachTransitionToEveryConsumer(t *testing.T) {
	slot, dist := setupTestDistributor(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const frames = 20
	streams := []*Stream{dist.Stream(ctx), dist.Stream(ctx)}
	assert.Equal(t, 2, dist.Stats().ActiveStreams)

	seen := make([][]uint64, len(streams))
	var wg sync.WaitGroup
	for i, s := range streams {
		wg.Add(1)
		go func(i int, s *Stream) {
			defer wg.Done()
			for {
				chunk, err := s.Next()
				if err != nil {
					assert.ErrorIs(t, err, ErrStreamClosed)
					return
				}
				seen[i] = append(seen[i], chunk.Seq)
			}
		}(i, s)
	}

	// Publish only after each consumer has caught up so that every
	// transition is observable.
	for n := 1; n <= frames; n++ {
		slot.Publish(testRawFrame(0, uint8(n)))
		require.Eventually(t, func() bool {
			for _, s := range streams {
				if s.Stats().LastSeq < uint64(n) {
					return false
				}
			}
			return true
		}, 2*time.Second, time.Millisecond)
	}
	slot.Close()
	wg.Wait()

	for i := range streams {
		require.Len(t, seen[i], frames, "consumer %d", i)
		for j, seq := range seen[i] {
			assert.Equal(t, uint64(j+1), seq)
		}
		assert.Equal(t, uint64(frames), streams[i].Delivered())
		assert.Equal(t, uint64(0), streams[i].Skipped())
	}
	assert.Equal(t, 0, dist.Stats().ActiveStreams)
}

func TestStream_SlowConsumerSkipsWithoutBlockingProducer(t *testing.T) {
	slot, dist := setupTestDistributor(t, 0)
	s := dist.Stream(context.Background())
	defer s.Close()

	slot.Publish(testRawFrame(0, 1))
	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), chunk.Seq)

	// the consumer is idle while the producer races ahead
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			slot.Publish(testRawFrame(0, uint8(i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked on a slow consumer")
	}

	chunk, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(101), chunk.Seq)
	assert.Equal(t, uint64(99), s.Skipped())
}

func TestStream_EndsWhenDeviceStops(t *testing.T) {
	slot, dist := setupTestDistributor(t, 0)
	s := dist.Stream(context.Background())

	result := make(chan error, 1)
	go func() {
		_, err := s.Next()
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	slot.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("stream did not terminate after stop")
	}
	assert.True(t, dist.Closed())
}

func TestStream_EndsWhenConsumerCancels(t *testing.T) {
	_, dist := setupTestDistributor(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	s := dist.Stream(ctx)

	result := make(chan error, 1)
	go func() {
		_, err := s.Next()
		result <- err
	}()

	cancel()
	select {
	case err := <-result:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("stream did not terminate after cancel")
	}
	assert.Equal(t, 0, dist.Stats().ActiveStreams)
}

func TestStream_SkipsFramesThatFailToEncode(t *testing.T) {
	slot, dist := setupTestDistributor(t, 4)
	s := dist.Stream(context.Background())
	defer s.Close()

	slot.Publish(brokenFrame(4))
	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Publish(testRawFrame(4, 9))
	}()

	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), chunk.Seq)
	assert.Equal(t, uint64(1), s.Skipped())
	assert.Equal(t, uint64(1), dist.Stats().EncodeErrors)

	var encErr *EncodeError
	_, err = dist.Encode(brokenFrame(4), 7)
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, uint64(7), encErr.Seq)
}

func TestStream_ChunkIsMultipartPart(t *testing.T) {
	slot, dist := setupTestDistributor(t, 0)
	s := dist.Stream(context.Background())
	defer s.Close()

	slot.Publish(&Frame{Data: []byte("JPEG")})
	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\nJPEG\r\n", string(chunk.Payload))
	assert.Equal(t, []byte("JPEG"), chunk.JPEG)
}

func TestFrameDistributor_NilLoggerFallsBackToNop(t *testing.T) {
	slot := NewFrameSlot()
	dist := NewFrameDistributor(1, slot, DistributorConfig{}, nil)
	require.NotNil(t, dist.logger)

	s := dist.Stream(context.Background())
	slot.Publish(brokenFrame(1))
	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Publish(testRawFrame(1, 30))
	}()

	// the skipped frame and the close both log at debug
	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), chunk.Seq)
	s.Close()
	assert.Equal(t, 0, dist.Stats().ActiveStreams)
}
