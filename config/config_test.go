package config

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, time.Second/60, c.FrameInterval())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero capture rate":     func(c *Config) { c.CaptureRate = 0 },
		"negative advance rate": func(c *Config) { c.AdvanceRate = -1 },
		"zero width":            func(c *Config) { c.Width = 0 },
		"empty capture id":      func(c *Config) { c.CaptureID = "" },
		"separator in id":       func(c *Config) { c.CaptureID = "a/b" },
		"empty output dir":      func(c *Config) { c.OutputDir = "" },
		"bad format":            func(c *Config) { c.ImageFormat = "gif" },
		"bad drop policy":       func(c *Config) { c.DropPolicy = "gap" },
		"zero chunk":            func(c *Config) { c.ChunkSeconds = 0 },
		"nan capture rate":      func(c *Config) { c.CaptureRate = math.NaN() },
		"nan advance rate":      func(c *Config) { c.AdvanceRate = math.NaN() },
		"nan chunk":             func(c *Config) { c.ChunkSeconds = math.NaN() },
		"infinite capture rate": func(c *Config) { c.CaptureRate = math.Inf(1) },
		"overlay without dir":   func(c *Config) { c.Overlays = []OverlayConfig{{Name: "o", Batch: 1}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestNoPassesNeedsNoOutputDir(t *testing.T) {
	c := Default()
	c.FramesPass = false
	c.OutputDir = ""
	require.NoError(t, c.Validate())
}

func TestNormalize(t *testing.T) {
	c := &Config{CaptureRate: 30, ImageFormat: ".JPEG", Overlays: []OverlayConfig{{Dir: "x"}}}
	c.Normalize()
	require.Equal(t, 30.0, c.AdvanceRate)
	require.Equal(t, FormatJPEG, c.ImageFormat)
	require.Equal(t, DefaultChunkSeconds, c.ChunkSeconds)
	require.Equal(t, DefaultSleepMargin, c.SleepMargin)
	require.Equal(t, DropRenumber, c.DropPolicy)
	require.Equal(t, DefaultOverlayBatch, c.Overlays[0].Batch)
}

func TestCloneIsDeep(t *testing.T) {
	c := Default()
	c.Overlays = []OverlayConfig{{Name: "a", Dir: "a", Batch: 1}}
	n := c.Clone()
	n.Overlays[0].Name = "b"
	require.Equal(t, "a", c.Overlays[0].Name)
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"capture_rate": 30, "advance_rate": 0, "capture_id": "shot"}`), 0644))

	c, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, 30.0, c.CaptureRate)
	require.Equal(t, 30.0, c.AdvanceRate)
	require.Equal(t, "shot", c.CaptureID)
	require.Equal(t, 1920, c.Width)
}

func TestFromFileUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"fps": 30}`), 0644))

	_, err := FromFile(path)
	require.Error(t, err)
}

func TestLoadReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"capture_rate": 30}`), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan float64, 1)
	OnChange(func(old, new *Config) {
		select {
		case changed <- new.CaptureRate:
		default:
		}
	})

	require.NoError(t, Load(ctx, path))
	require.Equal(t, 30.0, Get().CaptureRate)

	// The watcher goroutine may not have registered yet; keep rewriting
	// until the change is picked up.
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, os.WriteFile(path, []byte(`{"capture_rate": 60}`), 0644))
		select {
		case rate := <-changed:
			require.Equal(t, 60.0, rate)
			require.Equal(t, 60.0, Get().CaptureRate)
			return
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("configuration change not observed")
		}
	}
}
