package video

import (
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genlock/video/sink"
	"genlock/video/source"
)

type failEncoder struct {
	err   error
	after int
	calls int
}

func (e *failEncoder) Encode(w io.Writer, img image.Image) error {
	e.calls++
	if e.calls > e.after {
		return e.err
	}
	_, err := w.Write([]byte{0})
	return err
}

func (e *failEncoder) Ext() string { return "bin" }

func newTestWriter(t *testing.T, enc sink.Encoder) (*FrameWriter, *Filesystem) {
	if enc == nil {
		var err error
		enc, err = sink.NewImageEncoder("png", 0)
		require.NoError(t, err)
	}
	fs, err := NewFilesystem(t.TempDir(), "test", enc.Ext())
	require.NoError(t, err)
	return NewFrameWriter(fs, enc), fs
}

func TestFrameBufferFIFO(t *testing.T) {
	pool := source.NewFramePool(2, 2)
	b := NewFrameBuffer()

	_, err := b.Dequeue()
	require.ErrorIs(t, err, ErrBufferEmpty)

	for i := uint64(1); i <= 200; i++ {
		f := pool.Get()
		f.Tick = i
		b.Enqueue(f)
	}
	require.Equal(t, 200, b.Len())

	for i := uint64(1); i <= 200; i++ {
		f, err := b.Dequeue()
		require.NoError(t, err)
		require.Equal(t, i, f.Tick)
		f.Release()
	}
	require.Zero(t, b.Len())
}

func TestFrameBufferAccounting(t *testing.T) {
	pool := source.NewFramePool(2, 2)
	w, fs := newTestWriter(t, nil)
	b := NewFrameBuffer()

	for i := 0; i < 10; i++ {
		b.Enqueue(pool.Get())
	}
	require.NoError(t, b.WriteOldest(w))
	require.NoError(t, b.WriteOldest(w))
	b.Clear()
	for i := 0; i < 3; i++ {
		b.Enqueue(pool.Get())
	}

	require.Equal(t, uint64(2), b.Written())
	require.Equal(t, uint64(8), b.Discarded())
	require.Equal(t, 3, b.Len())
	require.Equal(t, uint64(13), b.Total())

	require.NoError(t, b.Flush(w))
	require.Equal(t, b.Total(), b.Written()+b.Discarded())

	records, err := fs.Frames()
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		require.Equal(t, uint64(i+1), r.Sequence)
	}
	require.Equal(t, pool.Allocated(), pool.Idle())
}

func TestFrameBufferWriteErrorKeepsFrame(t *testing.T) {
	pool := source.NewFramePool(2, 2)
	enc := &failEncoder{err: errors.New("disk full"), after: 1}
	w, _ := newTestWriter(t, enc)
	b := NewFrameBuffer()
	for i := 0; i < 3; i++ {
		b.Enqueue(pool.Get())
	}

	err := b.Flush(w)
	require.ErrorIs(t, err, enc.err)
	require.Equal(t, uint64(1), b.Written())
	require.Equal(t, 2, b.Len())

	f, err := b.Peek()
	require.NoError(t, err)
	require.False(t, f.Released())
}

func TestFrameLimit(t *testing.T) {
	require.Equal(t, 30, FrameLimit(1, 30))
	require.Equal(t, 15, FrameLimit(0.5, 30))
	require.Equal(t, 1, FrameLimit(0.001, 30))
	require.Equal(t, 29, FrameLimit(1, 29.97))
}

func TestGuardianFlushesOncePerChunk(t *testing.T) {
	sim := source.NewPattern("test")
	clock := NewClockSource(newFakeClock(time.Millisecond), sim, 30)
	pool := source.NewFramePool(2, 2)
	w, _ := newTestWriter(t, nil)
	b := NewFrameBuffer()

	g := NewMemoryGuardian(b, w, clock, FrameLimit(1, 30))
	var after int
	g.AfterFlush = func() {
		require.False(t, sim.Paused())
		after++
	}

	for tick := 1; tick <= 35; tick++ {
		b.Enqueue(pool.Get())
		flushed, err := g.Check()
		require.NoError(t, err)
		require.Equal(t, tick == 30, flushed, "tick %d", tick)
		require.Less(t, b.Len(), g.Limit())
		if tick == 30 {
			require.Zero(t, b.Len())
		}
	}

	require.Equal(t, 1, g.Flushes())
	require.Equal(t, 1, after)
	require.Equal(t, uint64(30), b.Written())
	require.Equal(t, 5, b.Len())
}

type pauseSpy struct {
	*source.Pattern
	events []bool
}

func (p *pauseSpy) SetPaused(paused bool) {
	p.events = append(p.events, paused)
	p.Pattern.SetPaused(paused)
}

func TestGuardianPausesAroundFlush(t *testing.T) {
	sim := &pauseSpy{Pattern: source.NewPattern("test")}
	clock := NewClockSource(newFakeClock(time.Millisecond), sim, 30)
	pool := source.NewFramePool(2, 2)
	enc := &failEncoder{err: errors.New("disk full"), after: 2}
	w, _ := newTestWriter(t, enc)
	b := NewFrameBuffer()

	g := NewMemoryGuardian(b, w, clock, 4)
	g.AfterFlush = func() { t.Fatal("AfterFlush called after a failed flush") }
	g.Memory = memorySamplerFunc(func() (uint64, error) { return 64 << 20, nil })

	for i := 0; i < 4; i++ {
		b.Enqueue(pool.Get())
	}
	flushed, err := g.Check()
	require.True(t, flushed)
	require.ErrorIs(t, err, enc.err)
	require.Equal(t, []bool{true, false}, sim.events)
	require.False(t, clock.Paused())
	require.Equal(t, 2, b.Len())
}

type memorySamplerFunc func() (uint64, error)

func (f memorySamplerFunc) Resident() (uint64, error) { return f() }
