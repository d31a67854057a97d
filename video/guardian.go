package video

import (
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// FrameLimit is the number of frames in a chunk of the given duration.
func FrameLimit(chunkSeconds, rate float64) int {
	limit := int(chunkSeconds * rate)
	if limit < 1 {
		limit = 1
	}
	return limit
}

// MemoryGuardian bounds the frame buffer. Once per tick it checks occupancy
// and, at the limit, pauses the simulation, drains the whole buffer to disk
// and resumes. Simulated time visibly stutters across a flush.
type MemoryGuardian struct {
	// AfterFlush runs once the simulation has resumed.
	AfterFlush func()
	// Memory, when set, is sampled around each flush.
	Memory MemorySampler

	buf     *FrameBuffer
	writer  *FrameWriter
	clock   *ClockSource
	limit   int
	flushes int
	metrics *Metrics
	log     *log.Entry
}

func NewMemoryGuardian(buf *FrameBuffer, writer *FrameWriter, clock *ClockSource, limit int) *MemoryGuardian {
	return &MemoryGuardian{
		buf:    buf,
		writer: writer,
		clock:  clock,
		limit:  limit,
		log:    log.WithField("component", "memory"),
	}
}

func (g *MemoryGuardian) Limit() int {
	return g.limit
}

// Flushes is the number of flushes triggered so far.
func (g *MemoryGuardian) Flushes() int {
	return g.flushes
}

// Check flushes the buffer if it holds at least Limit frames. It reports
// whether a flush ran. A write error leaves the remaining frames buffered.
func (g *MemoryGuardian) Check() (bool, error) {
	n := g.buf.Len()
	if n < g.limit {
		return false, nil
	}

	before := g.resident()
	start := g.clock.Now()

	g.clock.Pause()
	err := g.buf.Flush(g.writer)
	g.clock.Resume()

	elapsed := g.clock.Now() - start
	g.flushes++
	g.metrics.flushed(elapsed)

	after := g.resident()
	if before > 0 && after > 0 {
		g.log.Infof("Flushed %d frames in %v (resident %v -> %v)", n, elapsed, humanize.Bytes(before), humanize.Bytes(after))
	} else {
		g.log.Infof("Flushed %d frames in %v", n, elapsed)
	}
	if err != nil {
		return true, err
	}

	if g.AfterFlush != nil {
		g.AfterFlush()
	}
	return true, nil
}

func (g *MemoryGuardian) resident() uint64 {
	if g.Memory == nil {
		return 0
	}
	rss, err := g.Memory.Resident()
	if err != nil {
		g.log.Debugf("Unable to sample resident memory: %v", err)
		return 0
	}
	g.metrics.resident(rss)
	return rss
}
