package video

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"genlock/config"
	"genlock/util"
	"genlock/video/process"
	"genlock/video/sink"
	"genlock/video/source"
)

var (
	ErrNotIdle      = errors.New("capture session is not idle")
	ErrNotRecording = errors.New("capture session is not recording")
	ErrFinished     = errors.New("capture session already ran")
)

type State int32

const (
	Idle State = iota
	Recording
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Draining:
		return "draining"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Stats is a snapshot of session progress.
type Stats struct {
	RunID     string
	CaptureID string

	// Ticks counts loop iterations; LastTick is the genlock index of the
	// latest one.
	Ticks    uint64
	LastTick uint64
	Dropped  uint64
	// Duplicated counts frames repeated to cover dropped ticks.
	Duplicated uint64

	Produced  uint64
	Written   uint64
	Discarded uint64
	Buffered  int
	Flushes   int

	AudioFrames   uint64
	FailedStreams []string

	Started  time.Time
	Duration time.Duration
}

// Listener receives session lifecycle notifications on the capture
// goroutine. Implementations must not block.
type Listener interface {
	CaptureStarted(s Stats)
	TickCompleted(tick, total uint64)
	CaptureStopped(s Stats)
	FatalError(err error)
}

// Options are the collaborators of a session. Surface is required; the others
// default from the configuration where they can.
type Options struct {
	Surface source.Surface
	// Simulation defaults to Surface if it implements source.Simulation.
	Simulation source.Simulation
	// Overlays defaults to Surface if it implements source.OverlayTarget.
	Overlays source.OverlayTarget
	// Audio is required when the audio pass is enabled.
	Audio source.AudioSource

	Clock   Clock
	Genlock Genlock
	Encoder sink.Encoder

	Listener Listener
	Metrics  *Metrics
	Memory   MemorySampler
}

// Session runs one capture: it paces the simulation on the genlock, buffers
// sampled frames, steps the auxiliary streams and drains everything to disk
// on stop. A session runs at most once.
type Session struct {
	cfg      *config.Config
	runID    string
	surface  source.Surface
	sim      source.Simulation
	clock    *ClockSource
	genlock  Genlock
	pool     *source.FramePool
	buf      *FrameBuffer
	writer   *FrameWriter
	guardian *MemoryGuardian
	aux      *AuxCoordinator
	audio    *AudioRecorder
	thumbs   *process.ThumbnailProducer
	listener Listener
	metrics  *Metrics
	log      *log.Entry

	state   atomic.Int32
	stopReq atomic.Bool
	done    *util.Event

	// Owned by the capture goroutine.
	last       *source.Frame
	ticks      uint64
	lastTick   uint64
	dropped    uint64
	duplicated uint64
	startAt    time.Duration
	logEvery   uint64

	l          sync.Mutex
	started    bool
	stopping   bool
	onComplete func(Stats)
	stats      Stats
}

// NewSession validates cfg and prepares every component. Nothing is opened
// or started until Start.
func NewSession(cfg *config.Config, opts Options) (*Session, error) {
	cfg = cfg.Clone()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Surface == nil {
		return nil, fmt.Errorf("%w: no surface to capture from", config.ErrInvalid)
	}
	sim := opts.Simulation
	if sim == nil {
		var ok bool
		if sim, ok = opts.Surface.(source.Simulation); !ok {
			return nil, fmt.Errorf("%w: no simulation to pace", config.ErrInvalid)
		}
	}
	if cfg.AudioPass && opts.Audio == nil {
		return nil, fmt.Errorf("%w: audio pass enabled without an audio source", config.ErrInvalid)
	}
	overlays := opts.Overlays
	if len(cfg.Overlays) > 0 && overlays == nil {
		var ok bool
		if overlays, ok = opts.Surface.(source.OverlayTarget); !ok {
			return nil, fmt.Errorf("%w: overlays configured but surface cannot composite them", config.ErrInvalid)
		}
	}

	wall := opts.Clock
	if wall == nil {
		wall = NewSystemClock()
	}

	runID := uuid.NewString()
	s := &Session{
		cfg:      cfg,
		runID:    runID,
		surface:  opts.Surface,
		sim:      sim,
		clock:    NewClockSource(wall, sim, cfg.AdvanceRate),
		genlock:  opts.Genlock,
		buf:      NewFrameBuffer(),
		aux:      NewAuxCoordinator(),
		listener: opts.Listener,
		metrics:  opts.Metrics,
		done:     util.NewEvent(),
		logEvery: uint64(FrameLimit(10, cfg.CaptureRate)),
		log: log.WithFields(log.Fields{
			"capture_id": cfg.CaptureID,
			"run":        runID,
		}),
	}
	s.buf.metrics = opts.Metrics

	if s.genlock == nil {
		g := NewSoftwareGenlock(wall, cfg.CaptureRate)
		g.Margin = cfg.SleepMargin
		s.genlock = g
	}
	if g, ok := s.genlock.(*SoftwareGenlock); ok {
		g.metrics = opts.Metrics
	}

	var fs *Filesystem
	if cfg.FramesPass || cfg.AudioPass {
		enc := opts.Encoder
		if enc == nil && cfg.FramesPass {
			var err error
			if enc, err = sink.NewFrameEncoder(cfg.ImageFormat, cfg.JPEGQuality); err != nil {
				return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
			}
		}
		ext := cfg.ImageFormat
		if enc != nil {
			ext = enc.Ext()
		}
		var err error
		if fs, err = NewFilesystem(cfg.OutputDir, cfg.CaptureID, ext); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		if cfg.FramesPass {
			s.writer = NewFrameWriter(fs, enc)
			s.writer.Opaque = !cfg.IncludeAlpha
			s.writer.metrics = opts.Metrics
		}
	}

	if cfg.FramesPass {
		limit := FrameLimit(cfg.ChunkSeconds, cfg.CaptureRate)
		s.pool = source.NewFramePool(cfg.Width, cfg.Height)
		s.pool.WarnAllocated = 2*limit + 8
		s.guardian = NewMemoryGuardian(s.buf, s.writer, s.clock, limit)
		s.guardian.Memory = opts.Memory
		s.guardian.metrics = opts.Metrics
		s.guardian.AfterFlush = s.aux.AfterFlush
	}

	if cfg.AudioPass {
		path := cfg.Audio.Path
		if path == "" {
			path = fs.AudioPath()
		}
		s.audio = NewAudioRecorder(path, opts.Audio, cfg.AdvanceRate)
		s.aux.Register("audio", s.audio)
	}
	for _, o := range cfg.Overlays {
		s.aux.Register("overlay:"+o.Name, NewOverlayStream(o.Name, o.Dir, o.Batch, overlays))
	}

	s.stats = Stats{RunID: runID, CaptureID: cfg.CaptureID}
	return s, nil
}

// Register adds an auxiliary stream after the configured ones. It must be
// called before Start.
func (s *Session) Register(name string, stream AuxStream) error {
	s.l.Lock()
	defer s.l.Unlock()
	if s.started {
		return ErrNotIdle
	}
	s.aux.Register(name, stream)
	return nil
}

func (s *Session) RunID() string {
	return s.runID
}

func (s *Session) Config() *config.Config {
	return s.cfg.Clone()
}

// Genlock returns the scheduler pacing this session, for live rate changes.
func (s *Session) Genlock() Genlock {
	return s.genlock
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	s.log.Debugf("Session %v -> %v", old, st)
}

// Stats returns the progress as of the last completed tick.
func (s *Session) Stats() Stats {
	s.l.Lock()
	defer s.l.Unlock()
	st := s.stats
	st.FailedStreams = append([]string(nil), s.stats.FailedStreams...)
	return st
}

// Start begins recording. It returns once the capture goroutine runs.
func (s *Session) Start() error {
	s.l.Lock()
	if s.started {
		s.l.Unlock()
		if s.State() != Idle {
			return ErrNotIdle
		}
		return ErrFinished
	}
	s.started = true
	s.stats.Started = time.Now()
	s.l.Unlock()

	if err := s.surface.Allocate(s.cfg.Width, s.cfg.Height); err != nil {
		err = fmt.Errorf("allocate render target: %w", err)
		s.done.Notify(err)
		return err
	}
	if s.writer != nil && s.cfg.Thumbnail {
		s.thumbs = process.NewThumbnailProducer()
		s.writer.Thumbs = s.thumbs
	}
	s.aux.Begin()
	s.clock.Apply()
	s.startAt = s.clock.Now()
	if g, ok := s.genlock.(*SoftwareGenlock); ok {
		g.Reset(s.startAt)
	}

	s.setState(Recording)
	s.log.Infof("Capture started at %v fps (advance %v fps, %dx%d, frames=%v audio=%v)",
		s.cfg.CaptureRate, s.cfg.AdvanceRate, s.cfg.Width, s.cfg.Height, s.cfg.FramesPass, s.cfg.AudioPass)

	go s.run()
	return nil
}

// Stop requests the capture to end at the next tick boundary. The buffer is
// then drained and onComplete, if set, is called with the final stats. Only
// the first call has an effect.
func (s *Session) Stop(onComplete func(Stats)) error {
	s.l.Lock()
	defer s.l.Unlock()
	if !s.started || s.State() == Idle {
		return ErrNotRecording
	}
	if s.stopping {
		return nil
	}
	s.stopping = true
	s.onComplete = onComplete
	s.stopReq.Store(true)
	s.log.Info("Capture stop requested")
	return nil
}

// Wait blocks until the session is back to Idle after Start and returns the
// error that ended it, if any.
func (s *Session) Wait() error {
	return s.done.Wait()
}

func (s *Session) run() {
	if s.listener != nil {
		s.listener.CaptureStarted(s.Stats())
	}
	for !s.stopReq.Load() {
		tick := s.genlock.WaitForNextTick()
		if err := s.step(tick); err != nil {
			s.fail(err)
			return
		}
	}
	s.drain()
}

func (s *Session) step(tick Tick) error {
	s.ticks++
	s.lastTick = tick.Index
	s.dropped += tick.Dropped

	if s.cfg.FramesPass {
		dup := s.duplicated
		if err := s.capture(tick); err != nil {
			return err
		}
		if n := s.duplicated - dup; n > 0 {
			s.aux.Pad(n)
		}
	}

	s.aux.Step()
	s.clock.Apply()
	s.sim.Advance()

	if s.guardian != nil {
		if _, err := s.guardian.Check(); err != nil {
			return err
		}
	}

	if s.ticks%s.logEvery == 0 {
		s.log.Infof("Captured %d ticks, %d frames written, %d buffered (%.1f fps observed)",
			s.ticks, s.buf.Written(), s.buf.Len(), s.metrics.ObservedFPS())
	}

	s.publish()
	if s.listener != nil {
		s.listener.TickCompleted(tick.Index, s.buf.Total())
	}
	return nil
}

// capture samples the surface into a pooled frame and buffers it.
func (s *Session) capture(tick Tick) error {
	want := image.Point{X: s.cfg.Width, Y: s.cfg.Height}
	if size := s.surface.Size(); size != want {
		s.log.Warnf("Render target is %v, expected %v; reallocating", size, want)
		if err := s.surface.Allocate(want.X, want.Y); err != nil {
			return fmt.Errorf("allocate render target: %w", err)
		}
	}

	f := s.pool.Get()
	if err := s.surface.Sample(f.Image); err != nil {
		f.Release()
		return fmt.Errorf("sample frame: %w", err)
	}
	f.Tick = tick.Index

	if tick.Dropped == 0 || s.cfg.DropPolicy != config.DropDuplicate {
		s.buf.Enqueue(f)
		s.last = f
		return nil
	}

	// Cover the dropped ticks with the previous frame while it is still
	// buffered, otherwise with the one just sampled.
	n := tick.Dropped
	if limit := uint64(s.guardian.Limit()); n > limit {
		n = limit
	}
	from := s.last
	if from == nil || from.Released() {
		s.buf.Enqueue(f)
		from = f
	}
	for i := uint64(0); i < n; i++ {
		d := s.pool.Copy(from.Image)
		d.Tick = from.Tick
		d.Duplicate = true
		s.buf.Enqueue(d)
	}
	if from != f {
		s.buf.Enqueue(f)
	}
	s.duplicated += n
	s.last = f
	s.log.Debugf("Duplicated %d frames for %d dropped ticks", n, tick.Dropped)
	return nil
}

func (s *Session) drain() {
	s.setState(Draining)
	s.aux.Stop()

	if s.cfg.FramesPass {
		s.log.Infof("Draining %d buffered frames", s.buf.Len())
		for s.buf.Len() > 0 {
			if err := s.buf.WriteOldest(s.writer); err != nil {
				s.fail(err)
				return
			}
			// Let the runtime reclaim the frame just written.
			runtime.Gosched()
		}
	}

	s.publish()
	st := s.Stats()
	s.release()
	s.setState(Idle)
	s.log.Infof("Capture stopped: %d ticks, %d frames written, %d dropped ticks",
		st.Ticks, st.Written, st.Dropped)

	s.l.Lock()
	onComplete := s.onComplete
	s.l.Unlock()
	if onComplete != nil {
		onComplete(st)
	}
	if s.listener != nil {
		s.listener.CaptureStopped(st)
	}
	s.done.Notify(nil)
}

// fail abandons the capture. Buffered frames are discarded.
func (s *Session) fail(err error) {
	s.log.Errorf("Capture failed: %v", err)
	s.aux.Stop()
	s.buf.Clear()
	s.publish()
	s.release()
	s.setState(Idle)
	if s.listener != nil {
		s.listener.FatalError(err)
	}
	s.done.Notify(err)
}

func (s *Session) release() {
	s.surface.Release()
	if s.pool != nil {
		s.pool.Close()
	}
	if s.thumbs != nil {
		s.thumbs.Close()
	}
	s.last = nil
}

// publish refreshes the snapshot returned by Stats.
func (s *Session) publish() {
	s.l.Lock()
	defer s.l.Unlock()
	st := &s.stats
	st.Ticks = s.ticks
	st.LastTick = s.lastTick
	st.Dropped = s.dropped
	st.Duplicated = s.duplicated
	st.Produced = s.buf.Total()
	st.Written = s.buf.Written()
	st.Discarded = s.buf.Discarded()
	st.Buffered = s.buf.Len()
	if s.guardian != nil {
		st.Flushes = s.guardian.Flushes()
	}
	if s.audio != nil {
		st.AudioFrames = s.audio.SampleFrames()
	}
	st.Duration = s.clock.Now() - s.startAt
	st.FailedStreams = s.aux.Failed()
}
