package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid capture configuration")

const (
	FormatPNG  = "png"
	FormatJPEG = "jpg"

	// DropRenumber leaves dropped ticks out of the output; sequence numbers
	// stay contiguous and the nominal frame count falls behind wall time.
	DropRenumber = "renumber"
	// DropDuplicate repeats the previous frame once per dropped tick.
	DropDuplicate = "duplicate"

	DefaultChunkSeconds = 1.0
	DefaultSleepMargin  = 10 * time.Millisecond
	DefaultJPEGQuality  = 95
	DefaultSampleRate   = 48000
	DefaultChannels     = 2
	DefaultOverlayBatch = 30
)

type AudioConfig struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	// Path of the WAV file. Defaults to {output_dir}/{capture_id}.wav.
	Path string `json:"path"`
}

type OverlayConfig struct {
	Name string `json:"name"`
	// Dir holds the layer as an ordered image sequence.
	Dir string `json:"dir"`
	// Batch is the number of images held in memory at once.
	Batch int `json:"batch"`
}

// Config is the resolved capture configuration. A session copies it on
// construction and never observes later changes, except for CaptureRate
// which may be forwarded to a running genlock.
type Config struct {
	CaptureRate float64 `json:"capture_rate"`
	AdvanceRate float64 `json:"advance_rate"`

	Width        int  `json:"width"`
	Height       int  `json:"height"`
	IncludeAlpha bool `json:"include_alpha"`

	OutputDir   string `json:"output_dir"`
	CaptureID   string `json:"capture_id"`
	ImageFormat string `json:"image_format"`
	JPEGQuality int    `json:"jpeg_quality"`
	Thumbnail   bool   `json:"thumbnail"`

	AudioPass  bool `json:"audio_pass"`
	FramesPass bool `json:"frames_pass"`

	// ChunkSeconds worth of frames may accumulate before the buffer is
	// flushed to disk.
	ChunkSeconds float64       `json:"chunk_seconds"`
	SleepMargin  time.Duration `json:"sleep_margin_ns"`
	DropPolicy   string        `json:"drop_policy"`

	Audio    AudioConfig     `json:"audio"`
	Overlays []OverlayConfig `json:"overlays"`

	Listen     string `json:"listen"`
	HistoryDSN string `json:"history_dsn"`
	LogLevel   string `json:"log_level"`
}

// Default returns a 60 fps 1080p frame capture into ./frames.
func Default() *Config {
	return &Config{
		CaptureRate:  60,
		AdvanceRate:  60,
		Width:        1920,
		Height:       1080,
		OutputDir:    "frames",
		CaptureID:    "capture",
		ImageFormat:  FormatPNG,
		JPEGQuality:  DefaultJPEGQuality,
		FramesPass:   true,
		ChunkSeconds: DefaultChunkSeconds,
		SleepMargin:  DefaultSleepMargin,
		DropPolicy:   DropRenumber,
		Audio: AudioConfig{
			SampleRate: DefaultSampleRate,
			Channels:   DefaultChannels,
		},
		LogLevel: "info",
	}
}

// Normalize fills optional fields left empty by a partial JSON document.
func (c *Config) Normalize() {
	if c.AdvanceRate == 0 {
		c.AdvanceRate = c.CaptureRate
	}
	if c.ImageFormat == "" {
		c.ImageFormat = FormatPNG
	}
	c.ImageFormat = strings.ToLower(strings.TrimPrefix(c.ImageFormat, "."))
	if c.ImageFormat == "jpeg" {
		c.ImageFormat = FormatJPEG
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.ChunkSeconds == 0 {
		c.ChunkSeconds = DefaultChunkSeconds
	}
	if c.SleepMargin == 0 {
		c.SleepMargin = DefaultSleepMargin
	}
	if c.DropPolicy == "" {
		c.DropPolicy = DropRenumber
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = DefaultChannels
	}
	for i := range c.Overlays {
		if c.Overlays[i].Batch == 0 {
			c.Overlays[i].Batch = DefaultOverlayBatch
		}
	}
}

// finitePositive rejects NaN and infinities along with non-positive values.
func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Validate reports the first field that cannot be used to start a session.
func (c *Config) Validate() error {
	switch {
	case !finitePositive(c.CaptureRate):
		return fmt.Errorf("%w: capture rate must be positive, got %v", ErrInvalid, c.CaptureRate)
	case !finitePositive(c.AdvanceRate):
		return fmt.Errorf("%w: advance rate must be positive, got %v", ErrInvalid, c.AdvanceRate)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: resolution must be positive, got %dx%d", ErrInvalid, c.Width, c.Height)
	case !finitePositive(c.ChunkSeconds):
		return fmt.Errorf("%w: chunk duration must be positive, got %v", ErrInvalid, c.ChunkSeconds)
	case c.SleepMargin < 0:
		return fmt.Errorf("%w: sleep margin must not be negative", ErrInvalid)
	case c.CaptureID == "":
		return fmt.Errorf("%w: capture id is empty", ErrInvalid)
	case strings.ContainsAny(c.CaptureID, `/\`):
		return fmt.Errorf("%w: capture id %q contains a path separator", ErrInvalid, c.CaptureID)
	case (c.FramesPass || c.AudioPass) && c.OutputDir == "":
		return fmt.Errorf("%w: output directory is empty", ErrInvalid)
	}

	switch c.ImageFormat {
	case FormatPNG, FormatJPEG:
	default:
		return fmt.Errorf("%w: unsupported image format %q", ErrInvalid, c.ImageFormat)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg quality must be within 1-100, got %d", ErrInvalid, c.JPEGQuality)
	}

	switch c.DropPolicy {
	case DropRenumber, DropDuplicate:
	default:
		return fmt.Errorf("%w: unknown drop policy %q", ErrInvalid, c.DropPolicy)
	}

	if c.AudioPass && (c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0) {
		return fmt.Errorf("%w: audio needs a positive sample rate and channel count", ErrInvalid)
	}
	for _, o := range c.Overlays {
		if o.Dir == "" {
			return fmt.Errorf("%w: overlay %q has no directory", ErrInvalid, o.Name)
		}
		if o.Batch <= 0 {
			return fmt.Errorf("%w: overlay %q batch must be positive", ErrInvalid, o.Name)
		}
	}
	return nil
}

// Clone returns a deep copy so a session can hold its own immutable view.
func (c *Config) Clone() *Config {
	n := *c
	n.Overlays = append([]OverlayConfig(nil), c.Overlays...)
	return &n
}

// FrameInterval is the nominal wall-clock time between two captured frames.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.CaptureRate)
}
