package video

import (
	log "github.com/sirupsen/logrus"
)

// AuxStream is a secondary time-dependent stream stepped in lock-step with
// the captured frames. Stop and Release must tolerate repeated calls.
type AuxStream interface {
	Begin() error
	StepForward() error
	IsActive() bool
	Stop() error
	Release() error
}

// BatchLoader is implemented by streams that keep a bounded window of their
// input in memory and refill it after a buffer flush.
type BatchLoader interface {
	LoadNextBatch() error
}

// Padder is implemented by streams that must stay aligned with the frame
// count when frames are repeated to cover dropped ticks.
type Padder interface {
	Pad(frames uint64) error
}

type auxEntry struct {
	name   string
	stream AuxStream
	failed bool
}

// AuxCoordinator steps registered streams in registration order. A stream
// whose hook fails is skipped from then on; the capture carries on.
type AuxCoordinator struct {
	streams []*auxEntry
	begun   bool
	stopped bool
	log     *log.Entry
}

func NewAuxCoordinator() *AuxCoordinator {
	return &AuxCoordinator{
		log: log.WithField("component", "aux"),
	}
}

// Register appends s. Streams must be registered before Begin.
func (c *AuxCoordinator) Register(name string, s AuxStream) {
	c.streams = append(c.streams, &auxEntry{name: name, stream: s})
}

func (c *AuxCoordinator) Len() int {
	return len(c.streams)
}

func (c *AuxCoordinator) fail(e *auxEntry, hook string, err error) {
	e.failed = true
	c.log.WithField("stream", e.name).Errorf("Auxiliary stream %v failed, skipping it: %v", hook, err)
}

func (c *AuxCoordinator) Begin() {
	if c.begun {
		return
	}
	c.begun = true
	for _, e := range c.streams {
		if err := e.stream.Begin(); err != nil {
			c.fail(e, "begin", err)
		}
	}
}

// Step advances every healthy stream by one frame.
func (c *AuxCoordinator) Step() {
	for _, e := range c.streams {
		if e.failed {
			continue
		}
		if err := e.stream.StepForward(); err != nil {
			c.fail(e, "step", err)
		}
	}
}

// Pad extends every healthy padder by n frames without advancing the rest.
func (c *AuxCoordinator) Pad(n uint64) {
	for _, e := range c.streams {
		if e.failed || !e.stream.IsActive() {
			continue
		}
		if p, ok := e.stream.(Padder); ok {
			if err := p.Pad(n); err != nil {
				c.fail(e, "pad", err)
			}
		}
	}
}

// AfterFlush refills active batch loaders.
func (c *AuxCoordinator) AfterFlush() {
	for _, e := range c.streams {
		if e.failed || !e.stream.IsActive() {
			continue
		}
		if l, ok := e.stream.(BatchLoader); ok {
			if err := l.LoadNextBatch(); err != nil {
				c.fail(e, "batch load", err)
			}
		}
	}
}

// Stop stops then releases every stream, failed ones included. Only the
// first call has an effect.
func (c *AuxCoordinator) Stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	for _, e := range c.streams {
		l := c.log.WithField("stream", e.name)
		if err := e.stream.Stop(); err != nil {
			l.Errorf("Failed to stop auxiliary stream: %v", err)
		}
		if err := e.stream.Release(); err != nil {
			l.Errorf("Failed to release auxiliary stream: %v", err)
		}
	}
}

// Failed lists the names of streams that have been skipped.
func (c *AuxCoordinator) Failed() []string {
	var names []string
	for _, e := range c.streams {
		if e.failed {
			names = append(names, e.name)
		}
	}
	return names
}
