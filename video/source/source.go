package source

import (
	"image"
	"time"
)

// Frame is one sampled image awaiting write. It owns its pixel buffer until
// Release hands it back to the pool it came from.
type Frame struct {
	Image *image.RGBA
	// Tick is the genlock tick the frame was sampled on.
	Tick uint64
	// Duplicate is set on frames re-emitted to cover a dropped tick.
	Duplicate bool

	pool     *FramePool
	released bool
}

func (f *Frame) Release() {
	if f.released {
		panic("frame already released")
	}
	f.released = true
	if f.pool != nil {
		f.pool.put(f.Image)
	}
	f.Image = nil
}

func (f *Frame) Released() bool {
	return f.released
}

// Surface is the render target frames are sampled from.
type Surface interface {
	// Allocate (re)creates the render target at the given resolution.
	Allocate(width, height int) error

	// Size returns the current render target resolution.
	Size() image.Point

	// Sample copies the most recently rendered image into dst, which has
	// the size of the render target.
	Sample(dst *image.RGBA) error

	// Release frees the render target.
	Release()
}

// Simulation is the host whose simulated time the capture paces.
type Simulation interface {
	// SetFrameDelta sets how much simulated time the next Advance covers.
	SetFrameDelta(d time.Duration)

	// SetPaused stops or resumes the advance of simulated time.
	SetPaused(paused bool)

	// Advance renders the next frame. It is a no-op while paused.
	Advance()
}

// AudioSource produces interleaved PCM samples.
type AudioSource interface {
	SampleRate() int
	Channels() int

	// ReadSamples fills buf with interleaved samples and returns how many
	// were written.
	ReadSamples(buf []int) (int, error)
}

// OverlayTarget receives the current image of an overlay layer.
type OverlayTarget interface {
	SetOverlay(name string, img image.Image)
}
