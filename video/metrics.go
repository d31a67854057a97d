package video

import (
	"time"

	"github.com/prep/average"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	fpsWindow      = 5 * time.Second
	fpsGranularity = time.Second
)

// Metrics exports capture progress to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Ticks         prometheus.Counter
	Drops         prometheus.Counter
	Overshoots    prometheus.Counter
	Flushes       prometheus.Counter
	FlushDuration prometheus.Histogram
	FramesWritten prometheus.Counter
	Buffered      prometheus.Gauge
	ResidentBytes prometheus.Gauge

	fps *average.SlidingWindow
}

func NewMetrics() *Metrics {
	return &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genlock", Name: "ticks_total",
			Help: "Genlock ticks released.",
		}),
		Drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genlock", Name: "frame_drops_total",
			Help: "Genlock ticks skipped because capture fell behind.",
		}),
		Overshoots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genlock", Name: "overshoots_total",
			Help: "Ticks released more than 10% of an interval late.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genlock", Name: "flushes_total",
			Help: "Synchronous buffer flushes triggered by the memory guardian.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "genlock", Name: "flush_duration_seconds",
			Help:    "Time the simulation was paused for a buffer flush.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genlock", Name: "frames_written_total",
			Help: "Frames written to disk.",
		}),
		Buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "genlock", Name: "buffered_frames",
			Help: "Frames held in memory awaiting write.",
		}),
		ResidentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "genlock", Name: "resident_memory_bytes",
			Help: "Process resident memory sampled around flushes.",
		}),
		fps: average.MustNew(fpsWindow, fpsGranularity),
	}
}

// Register adds every collector to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Ticks, m.Drops, m.Overshoots, m.Flushes, m.FlushDuration,
		m.FramesWritten, m.Buffered, m.ResidentBytes,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the fps averaging goroutine.
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.fps.Stop()
}

func (m *Metrics) tick() {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.fps.Add(1)
}

func (m *Metrics) drop(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.Drops.Add(float64(n))
}

func (m *Metrics) overshoot() {
	if m == nil {
		return
	}
	m.Overshoots.Inc()
}

func (m *Metrics) flushed(d time.Duration) {
	if m == nil {
		return
	}
	m.Flushes.Inc()
	m.FlushDuration.Observe(d.Seconds())
}

func (m *Metrics) written() {
	if m == nil {
		return
	}
	m.FramesWritten.Inc()
}

func (m *Metrics) buffered(n int) {
	if m == nil {
		return
	}
	m.Buffered.Set(float64(n))
}

func (m *Metrics) resident(b uint64) {
	if m == nil {
		return
	}
	m.ResidentBytes.Set(float64(b))
}

// ObservedFPS is the tick rate averaged over the last few seconds.
func (m *Metrics) ObservedFPS() float64 {
	if m == nil {
		return 0
	}
	return m.fps.Average(fpsWindow)
}
