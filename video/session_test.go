package video

import (
	"errors"
	"image"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genlock/config"
	"genlock/video/sink"
	"genlock/video/source"
)

// scriptGenlock releases ticks immediately, from a script and then in
// sequence. onWait runs on the capture goroutine before each release.
type scriptGenlock struct {
	ticks  []Tick
	n      int
	onWait func(n int)
}

func (g *scriptGenlock) WaitForNextTick() Tick {
	g.n++
	if g.onWait != nil {
		g.onWait(g.n)
	}
	if g.n <= len(g.ticks) {
		return g.ticks[g.n-1]
	}
	return Tick{Index: uint64(g.n)}
}

func (g *scriptGenlock) SetRate(rate float64) error { return nil }
func (g *scriptGenlock) Rate() float64              { return 30 }

type listenerSpy struct {
	mu      sync.Mutex
	started int
	totals  []uint64
	stopped []Stats
	fatal   []error
}

func (l *listenerSpy) CaptureStarted(s Stats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
}

func (l *listenerSpy) TickCompleted(tick, total uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals = append(l.totals, total)
}

func (l *listenerSpy) CaptureStopped(s Stats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = append(l.stopped, s)
}

func (l *listenerSpy) FatalError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fatal = append(l.fatal, err)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.CaptureRate = 30
	cfg.AdvanceRate = 30
	cfg.Width = 16
	cfg.Height = 8
	cfg.OutputDir = t.TempDir()
	cfg.CaptureID = "shot"
	return cfg
}

type sessionHarness struct {
	session  *Session
	genlock  *scriptGenlock
	pattern  *source.Pattern
	listener *listenerSpy
}

// newHarness builds a session that requests a stop while waiting for tick
// stopAt, so exactly stopAt ticks are captured. A zero stopAt never stops.
func newHarness(t *testing.T, cfg *config.Config, stopAt int, opts Options) *sessionHarness {
	h := &sessionHarness{
		genlock:  &scriptGenlock{},
		pattern:  source.NewPattern("test"),
		listener: &listenerSpy{},
	}
	if opts.Surface == nil {
		opts.Surface = h.pattern
	}
	opts.Clock = newFakeClock(time.Millisecond)
	opts.Genlock = h.genlock
	opts.Listener = h.listener

	s, err := NewSession(cfg, opts)
	require.NoError(t, err)
	h.session = s
	h.genlock.onWait = func(n int) {
		if stopAt > 0 && n == stopAt {
			require.NoError(t, s.Stop(nil))
		}
	}
	return h
}

func TestSessionCapturesAndDrains(t *testing.T) {
	cfg := testConfig(t)
	cfg.Thumbnail = true
	h := newHarness(t, cfg, 0, Options{})
	s := h.session

	var completed []Stats
	h.genlock.onWait = func(n int) {
		if n == 46 {
			require.NoError(t, s.Stop(func(st Stats) { completed = append(completed, st) }))
			// Repeated requests are ignored, including their callback.
			require.NoError(t, s.Stop(func(Stats) { t.Fatal("second callback invoked") }))
			require.Equal(t, Recording, s.State())
		}
	}

	require.ErrorIs(t, s.Stop(nil), ErrNotRecording)
	require.Equal(t, Idle, s.State())
	require.NoError(t, s.Start())
	require.NoError(t, s.Wait())
	require.Equal(t, Idle, s.State())

	// The stop is honored after the tick in flight.
	require.Len(t, completed, 1)
	st := completed[0]
	require.Equal(t, uint64(46), st.Ticks)
	require.Equal(t, uint64(46), st.Written)
	require.Equal(t, uint64(46), st.Produced)
	require.Zero(t, st.Buffered)
	require.Zero(t, st.Discarded)
	require.Equal(t, 1, st.Flushes)
	require.NotEmpty(t, st.RunID)
	require.Equal(t, st, s.Stats())

	fs, err := NewFilesystem(cfg.OutputDir, cfg.CaptureID, "png")
	require.NoError(t, err)
	records, err := fs.Frames()
	require.NoError(t, err)
	require.Len(t, records, 46)
	for i, r := range records {
		require.Equal(t, uint64(i+1), r.Sequence)
	}
	_, err = os.Stat(fs.ThumbPath())
	require.NoError(t, err)

	require.Equal(t, uint64(46), h.pattern.Frames())
	require.Equal(t, 46*(time.Second/30), h.pattern.SimTime())
	require.Equal(t, image.Point{}, h.pattern.Size())

	require.Equal(t, 1, h.listener.started)
	require.Len(t, h.listener.totals, 46)
	for i, total := range h.listener.totals {
		require.Equal(t, uint64(i+1), total)
	}
	require.Len(t, h.listener.stopped, 1)
	require.Empty(t, h.listener.fatal)

	require.ErrorIs(t, s.Stop(nil), ErrNotRecording)
	require.ErrorIs(t, s.Start(), ErrFinished)
}

func TestSessionWithoutPassesStillPaces(t *testing.T) {
	cfg := testConfig(t)
	cfg.FramesPass = false
	cfg.OutputDir = ""
	h := newHarness(t, cfg, 10, Options{})

	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Wait())

	st := h.session.Stats()
	require.Equal(t, uint64(10), st.Ticks)
	require.Zero(t, st.Produced)
	require.Equal(t, uint64(10), h.pattern.Frames())
	require.Len(t, h.listener.stopped, 1)
}

func TestSessionAudioOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.FramesPass = false
	cfg.AudioPass = true
	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 1
	h := newHarness(t, cfg, 15, Options{Audio: source.NewTone(48000, 1, 440)})

	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Wait())

	st := h.session.Stats()
	require.Equal(t, uint64(15*1600), st.AudioFrames)
	info, err := os.Stat(cfg.OutputDir + "/shot.wav")
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(15*1600*2))

	fs, err := NewFilesystem(cfg.OutputDir, cfg.CaptureID, "png")
	require.NoError(t, err)
	records, err := fs.Frames()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSessionWriteErrorIsFatal(t *testing.T) {
	cfg := testConfig(t)
	enc := &failEncoder{err: errors.New("disk full"), after: 5}
	h := newHarness(t, cfg, 0, Options{Encoder: enc})

	require.NoError(t, h.session.Start())
	err := h.session.Wait()
	require.ErrorIs(t, err, enc.err)
	require.Equal(t, Idle, h.session.State())

	st := h.session.Stats()
	require.Equal(t, uint64(30), st.Ticks)
	require.Equal(t, uint64(5), st.Written)
	require.Equal(t, uint64(25), st.Discarded)
	require.Zero(t, st.Buffered)

	require.Len(t, h.listener.fatal, 1)
	require.Empty(t, h.listener.stopped)
	require.Len(t, h.listener.totals, 29)
}

type flakySurface struct {
	*source.Pattern
	failAt int
	n      int
}

func (f *flakySurface) Sample(dst *image.RGBA) error {
	f.n++
	if f.n == f.failAt {
		return errSample
	}
	return f.Pattern.Sample(dst)
}

func TestSessionSampleErrorIsFatal(t *testing.T) {
	cfg := testConfig(t)
	surface := &flakySurface{Pattern: source.NewPattern("flaky"), failAt: 3}
	h := newHarness(t, cfg, 0, Options{Surface: surface})

	require.NoError(t, h.session.Start())
	require.ErrorIs(t, h.session.Wait(), errSample)
	require.Equal(t, uint64(2), h.session.Stats().Discarded)
}

func TestSessionDuplicatePolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.DropPolicy = config.DropDuplicate
	h := newHarness(t, cfg, 4, Options{})
	h.genlock.ticks = []Tick{
		{Index: 1},
		{Index: 2},
		{Index: 5, Dropped: 2},
		{Index: 6},
	}

	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Wait())

	st := h.session.Stats()
	require.Equal(t, uint64(2), st.Dropped)
	require.Equal(t, uint64(2), st.Duplicated)
	require.Equal(t, uint64(6), st.Written)
}

func TestSessionDuplicatePolicyKeepsAudioAligned(t *testing.T) {
	cfg := testConfig(t)
	cfg.DropPolicy = config.DropDuplicate
	cfg.AudioPass = true
	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 1
	h := newHarness(t, cfg, 4, Options{Audio: source.NewTone(48000, 1, 440)})
	h.genlock.ticks = []Tick{
		{Index: 1},
		{Index: 2},
		{Index: 5, Dropped: 2},
		{Index: 6},
	}

	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Wait())

	st := h.session.Stats()
	require.Equal(t, uint64(6), st.Written)
	require.Equal(t, st.Written*48000/30, st.AudioFrames)
	require.Empty(t, st.FailedStreams)
}

func TestSessionRenumberPolicy(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, 3, Options{})
	h.genlock.ticks = []Tick{{Index: 1}, {Index: 4, Dropped: 2}, {Index: 5}}

	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Wait())

	st := h.session.Stats()
	require.Equal(t, uint64(2), st.Dropped)
	require.Zero(t, st.Duplicated)
	require.Equal(t, uint64(3), st.Written)
}

func TestSessionReallocatesRenderTarget(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, 0, Options{})
	h.genlock.onWait = func(n int) {
		switch n {
		case 3:
			require.NoError(t, h.pattern.Allocate(4, 4))
		case 5:
			require.NoError(t, h.session.Stop(nil))
		}
	}

	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Wait())
	require.Equal(t, uint64(5), h.session.Stats().Written)
}

func TestSessionStepsRegisteredStreams(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, 0, Options{})
	var calls []string
	stream := &fakeStream{name: "x", log: &calls}
	require.NoError(t, h.session.Register("x", stream))

	h.genlock.onWait = func(n int) {
		switch n {
		case 1:
			require.ErrorIs(t, h.session.Start(), ErrNotIdle)
			require.ErrorIs(t, h.session.Register("late", stream), ErrNotIdle)
		case 4:
			require.NoError(t, h.session.Stop(nil))
		}
	}

	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Wait())
	require.Equal(t, []string{"x:begin", "x:step", "x:step", "x:step", "x:step", "x:stop", "x:release"}, calls)
	require.False(t, stream.active)
}

func TestNewSessionRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.CaptureRate = -1
	_, err := NewSession(cfg, Options{Surface: source.NewPattern("x")})
	require.ErrorIs(t, err, config.ErrInvalid)

	cfg = testConfig(t)
	cfg.AudioPass = true
	_, err = NewSession(cfg, Options{Surface: source.NewPattern("x")})
	require.ErrorIs(t, err, config.ErrInvalid)

	cfg = testConfig(t)
	_, err = NewSession(cfg, Options{})
	require.ErrorIs(t, err, config.ErrInvalid)

	cfg = testConfig(t)
	blocker := cfg.OutputDir + "/file"
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.OutputDir = blocker + "/sub"
	_, err = NewSession(cfg, Options{Surface: source.NewPattern("x")})
	require.ErrorIs(t, err, config.ErrInvalid)
}

// hookEncoder runs onEncode before every frame it encodes.
type hookEncoder struct {
	sink.Encoder
	onEncode func()
}

func (e *hookEncoder) Encode(w io.Writer, img image.Image) error {
	e.onEncode()
	return e.Encoder.Encode(w, img)
}

func TestSessionStopWhileDrainingIsIgnored(t *testing.T) {
	cfg := testConfig(t)
	png, err := sink.NewImageEncoder("png", 0)
	require.NoError(t, err)
	enc := &hookEncoder{Encoder: png}
	h := newHarness(t, cfg, 0, Options{Encoder: enc})
	s := h.session

	var completed []Stats
	h.genlock.onWait = func(n int) {
		if n == 5 {
			require.NoError(t, s.Stop(func(st Stats) { completed = append(completed, st) }))
		}
	}

	var states []State
	var stopErrs []error
	late := 0
	enc.onEncode = func() {
		states = append(states, s.State())
		stopErrs = append(stopErrs, s.Stop(func(Stats) { late++ }))
	}

	require.NoError(t, s.Start())
	require.NoError(t, s.Wait())

	// Fewer ticks than one chunk: every write happens in the drain.
	require.Len(t, states, 5)
	for i := range states {
		require.Equal(t, Draining, states[i])
		require.NoError(t, stopErrs[i])
	}
	require.Zero(t, late)
	require.Len(t, completed, 1)
	require.Equal(t, uint64(5), completed[0].Written)
	require.Equal(t, uint64(5), s.Stats().Written)
	require.Len(t, h.listener.stopped, 1)
	require.Equal(t, Idle, s.State())
}
