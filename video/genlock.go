package video

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrInvalidRate is returned by SetRate for rates that are not positive.
var ErrInvalidRate = errors.New("genlock rate must be positive")

// Tick describes one genlock release.
type Tick struct {
	// Index is the tick count after the release.
	Index uint64
	// At is the wall-clock time observed at the release.
	At time.Duration
	// Dropped is the number of ideal ticks skipped by a resynchronization.
	Dropped uint64
}

// Genlock paces the capture loop.
type Genlock interface {
	// WaitForNextTick blocks until the next tick is due.
	WaitForNextTick() Tick

	// SetRate changes the tick rate from the next wait on. It is safe to
	// call from any goroutine.
	SetRate(rate float64) error

	Rate() float64
}

// SoftwareGenlock approximates an external sync signal from the system clock:
// a coarse sleep for the bulk of the wait followed by a busy-poll of the clock
// for the last few milliseconds.
type SoftwareGenlock struct {
	// Margin is taken off every sleep so scheduler granularity does not
	// oversleep past the target.
	Margin time.Duration

	clock   Clock
	sleep   func(time.Duration)
	metrics *Metrics
	log     *log.Entry

	requested atomic.Uint64 // math.Float64bits of the requested rate

	// Owned by the waiting goroutine.
	rate  float64
	tick  uint64
	epoch time.Duration
}

func NewSoftwareGenlock(clock Clock, rate float64) *SoftwareGenlock {
	g := &SoftwareGenlock{
		Margin: 10 * time.Millisecond,
		clock:  clock,
		sleep:  time.Sleep,
		log:    log.WithField("component", "genlock"),
	}
	g.requested.Store(math.Float64bits(rate))
	return g
}

func (g *SoftwareGenlock) SetRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return ErrInvalidRate
	}
	g.requested.Store(math.Float64bits(rate))
	return nil
}

func (g *SoftwareGenlock) Rate() float64 {
	return math.Float64frombits(g.requested.Load())
}

// Reset restarts the tick count with tick 0 at epoch, so ideal instants are
// measured from there rather than from the first wait. It must not be called
// concurrently with WaitForNextTick.
func (g *SoftwareGenlock) Reset(epoch time.Duration) {
	g.rate = g.Rate()
	g.tick = 0
	g.epoch = epoch
}

// TickCount returns the current tick count. It must only be read from the
// goroutine calling WaitForNextTick.
func (g *SoftwareGenlock) TickCount() uint64 {
	return g.tick
}

// ideal is the wall-clock instant of tick n.
func (g *SoftwareGenlock) ideal(n uint64) time.Duration {
	return g.epoch + time.Duration(float64(n)/g.rate*float64(time.Second))
}

// resync recomputes the tick count from wall-clock time.
func (g *SoftwareGenlock) resync(t time.Duration) uint64 {
	return uint64(math.Round((t - g.epoch).Seconds() * g.rate))
}

func (g *SoftwareGenlock) WaitForNextTick() Tick {
	if rate := g.Rate(); rate != g.rate {
		if g.rate != 0 {
			g.log.Infof("Genlock rate changed from %v to %v, restarting tick count", g.rate, rate)
		}
		g.rate = rate
		g.tick = 0
		g.epoch = g.clock.Now()
	}

	interval := time.Duration(float64(time.Second) / g.rate)
	next := g.ideal(g.tick + 1)

	t := g.clock.Now()
	if t > next {
		// Running behind; resynchronize without waiting. Startup jitter is
		// expected on the very first tick.
		prev := g.tick
		g.tick = g.resync(t)
		var dropped uint64
		if prev != 0 {
			dropped = g.tick - prev - 1
			g.log.Warnf("Frame drop: rendering too slow (at %.3fs)", t.Seconds())
			g.metrics.drop(dropped)
		}
		g.metrics.tick()
		return Tick{Index: g.tick, At: t, Dropped: dropped}
	}

	if sleep := next - t - g.Margin; sleep > 0 {
		g.sleep(sleep)
	}

	// Busy-loop the remaining time for accuracy.
	for t = g.clock.Now(); t < next; t = g.clock.Now() {
	}
	g.tick++
	g.metrics.tick()

	over := t - next
	if over > interval/10 {
		if over > interval {
			prev := g.tick
			g.tick = g.resync(t)
			dropped := g.tick - prev
			g.log.Warnf("Frame drop: waiting for genlock too slow (at %.3fs)", t.Seconds())
			g.metrics.drop(dropped)
			return Tick{Index: g.tick, At: t, Dropped: dropped}
		}
		g.log.Warnf("Waited %.0f%% past next genlock (at %.3fs)", float64(over)/float64(interval)*100, t.Seconds())
		g.metrics.overshoot()
	}
	return Tick{Index: g.tick, At: t}
}
