package video

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	log "github.com/sirupsen/logrus"

	"genlock/video/source"
)

const audioBitDepth = 16

// AudioRecorder captures the audio channel to a 16-bit PCM WAV file. Each
// step pulls exactly the samples covering one frame of simulated time, so
// the track stays aligned with the frames whatever the wall-clock pacing.
type AudioRecorder struct {
	path        string
	src         source.AudioSource
	advanceRate float64

	file    *os.File
	enc     *wav.Encoder
	buf     []int
	steps   uint64
	emitted uint64 // sample frames
	stopped bool
	log     *log.Entry
}

func NewAudioRecorder(path string, src source.AudioSource, advanceRate float64) *AudioRecorder {
	return &AudioRecorder{
		path:        path,
		src:         src,
		advanceRate: advanceRate,
		log:         log.WithField("component", "audio"),
	}
}

func (a *AudioRecorder) Begin() error {
	if a.file != nil {
		return nil
	}
	f, err := os.Create(a.path)
	if err != nil {
		return err
	}
	a.file = f
	a.enc = wav.NewEncoder(f, a.src.SampleRate(), audioBitDepth, a.src.Channels(), 1)
	a.log.Infof("Recording audio to %v (%d Hz, %d channels)", a.path, a.src.SampleRate(), a.src.Channels())
	return nil
}

// due is the number of sample frames covering n frames of simulated time.
func (a *AudioRecorder) due(n uint64) uint64 {
	return uint64(float64(n) * float64(a.src.SampleRate()) / a.advanceRate)
}

func (a *AudioRecorder) StepForward() error {
	if !a.IsActive() {
		return fmt.Errorf("audio recorder is not recording")
	}
	a.steps++
	n := a.pending()
	if n == 0 {
		return nil
	}

	read, err := a.src.ReadSamples(a.buf)
	if err != nil {
		return err
	}
	// Pad a short read with silence to keep the track aligned.
	for i := read; i < n; i++ {
		a.buf[i] = 0
	}
	return a.write()
}

// Pad writes silence for n repeated frames so the track stays as long as the
// frame sequence.
func (a *AudioRecorder) Pad(n uint64) error {
	if !a.IsActive() {
		return fmt.Errorf("audio recorder is not recording")
	}
	a.steps += n
	if a.pending() == 0 {
		return nil
	}
	for i := range a.buf {
		a.buf[i] = 0
	}
	return a.write()
}

// pending sizes buf for the samples owed up to the current step and returns
// their count.
func (a *AudioRecorder) pending() int {
	frames := int(a.due(a.steps) - a.emitted)
	if frames <= 0 {
		a.buf = a.buf[:0]
		return 0
	}
	n := frames * a.src.Channels()
	if cap(a.buf) < n {
		a.buf = make([]int, n)
	}
	a.buf = a.buf[:n]
	return n
}

func (a *AudioRecorder) write() error {
	channels := a.src.Channels()
	frames := len(a.buf) / channels
	err := a.enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: a.src.SampleRate()},
		Data:           a.buf,
		SourceBitDepth: audioBitDepth,
	})
	if err != nil {
		return err
	}
	a.emitted += uint64(frames)
	return nil
}

func (a *AudioRecorder) IsActive() bool {
	return a.enc != nil && !a.stopped
}

// SampleFrames is the number of sample frames written so far.
func (a *AudioRecorder) SampleFrames() uint64 {
	return a.emitted
}

// Stop finalizes the WAV header and closes the file.
func (a *AudioRecorder) Stop() error {
	if a.stopped || a.enc == nil {
		a.stopped = true
		return nil
	}
	a.stopped = true
	err := a.enc.Close()
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	a.log.Infof("Audio stopped after %d sample frames", a.emitted)
	return err
}

func (a *AudioRecorder) Release() error {
	a.enc = nil
	a.file = nil
	a.buf = nil
	return nil
}
