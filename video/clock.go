package video

import (
	"math"
	"sync"
	"time"

	"genlock/video/source"
)

// Clock reports monotonic wall-clock time.
type Clock interface {
	// Now returns the time elapsed since the clock was started.
	Now() time.Duration
}

type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() time.Duration {
	return time.Since(c.start)
}

// ClockSource pairs the wall clock with the simulated time advanced per
// captured frame. The capture rate governs how often frames are sampled;
// the advance rate governs how much simulated time passes between samples.
type ClockSource struct {
	Wall Clock

	sim         source.Simulation
	advanceRate float64
	paused      bool

	l sync.Mutex
}

func NewClockSource(wall Clock, sim source.Simulation, advanceRate float64) *ClockSource {
	return &ClockSource{
		Wall:        wall,
		sim:         sim,
		advanceRate: advanceRate,
	}
}

func (c *ClockSource) Now() time.Duration {
	return c.Wall.Now()
}

func (c *ClockSource) AdvanceRate() float64 {
	c.l.Lock()
	defer c.l.Unlock()
	return c.advanceRate
}

// SetAdvanceRate ignores non-positive rates.
func (c *ClockSource) SetAdvanceRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return
	}
	c.l.Lock()
	defer c.l.Unlock()
	c.advanceRate = rate
}

// FrameDelta is the simulated time covered by one captured frame.
func (c *ClockSource) FrameDelta() time.Duration {
	return time.Duration(float64(time.Second) / c.AdvanceRate())
}

// Apply sets the simulation's per-frame time delta. It runs once per tick.
func (c *ClockSource) Apply() {
	c.sim.SetFrameDelta(c.FrameDelta())
}

func (c *ClockSource) Pause() {
	c.l.Lock()
	c.paused = true
	c.l.Unlock()
	c.sim.SetPaused(true)
}

func (c *ClockSource) Resume() {
	c.l.Lock()
	c.paused = false
	c.l.Unlock()
	c.sim.SetPaused(false)
}

func (c *ClockSource) Paused() bool {
	c.l.Lock()
	defer c.l.Unlock()
	return c.paused
}
