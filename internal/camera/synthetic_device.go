package camera

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/johnywakim02/remote-stream/internal/video"
)

var testPatternBars = []color.RGBA{
	{235, 235, 235, 255},
	{235, 235, 16, 255},
	{16, 235, 235, 255},
	{16, 235, 16, 255},
	{235, 16, 235, 255},
	{235, 16, 16, 255},
	{16, 16, 235, 255},
	{16, 16, 16, 255},
}

// SyntheticOpener produces color-bar test pattern devices for a fixed set of
// indices. Other indices fail to open, like an empty /dev/videoN slot.
type SyntheticOpener struct {
	available map[int]bool
	width     int
	height    int
	fps       int
}

// NewSyntheticOpener creates an opener for the given indices
func NewSyntheticOpener(available []int, width, height, fps int) *SyntheticOpener {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	if fps <= 0 {
		fps = 15
	}
	set := make(map[int]bool, len(available))
	for _, idx := range available {
		set[idx] = true
	}
	return &SyntheticOpener{available: set, width: width, height: height, fps: fps}
}

// Backend returns "synthetic"
func (o *SyntheticOpener) Backend() string {
	return "synthetic"
}

// Open returns a pattern device for available indices
func (o *SyntheticOpener) Open(index int) (Device, error) {
	if !o.available[index] {
		return nil, fmt.Errorf("no synthetic device at index %d", index)
	}
	return &syntheticDevice{
		index:    index,
		width:    o.width,
		height:   o.height,
		interval: time.Second / time.Duration(o.fps),
	}, nil
}

type syntheticDevice struct {
	index    int
	width    int
	height   int
	interval time.Duration

	mu     sync.Mutex
	count  int
	last   time.Time
	closed bool
}

func (d *syntheticDevice) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

func (d *syntheticDevice) ReadFrame(timeout time.Duration) (*video.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("device %d is closed", d.index)
	}

	wait := time.Until(d.last.Add(d.interval))
	if wait > timeout {
		time.Sleep(timeout)
		return nil, ErrReadTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	d.count++
	d.last = time.Now()
	return &video.Frame{
		Image:       d.render(d.count),
		Width:       d.width,
		Height:      d.height,
		Timestamp:   d.last,
		DeviceIndex: d.index,
	}, nil
}

// render draws vertical color bars with a white marker column that moves
// one step per frame
func (d *syntheticDevice) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	barWidth := d.width / len(testPatternBars)
	if barWidth == 0 {
		barWidth = 1
	}
	marker := (n * 4) % d.width

	for x := 0; x < d.width; x++ {
		c := testPatternBars[min(x/barWidth, len(testPatternBars)-1)]
		if x >= marker && x < marker+4 {
			c = color.RGBA{255, 255, 255, 255}
		}
		for y := 0; y < d.height; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func (d *syntheticDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
