package notify

import (
	"sync"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"genlock/video"
)

// Notifier fans session events out to every registered listener, in
// registration order, on the capture goroutine.
type Notifier struct {
	listeners []video.Listener
	run       string

	l sync.Mutex
}

// Add registers l for subsequent events.
func (n *Notifier) Add(l video.Listener) {
	n.l.Lock()
	defer n.l.Unlock()
	n.listeners = append(n.listeners, l)
}

func (n *Notifier) snapshot() []video.Listener {
	n.l.Lock()
	defer n.l.Unlock()
	return append([]video.Listener(nil), n.listeners...)
}

// Run is the identifier of the capture in progress, if any.
func (n *Notifier) Run() string {
	n.l.Lock()
	defer n.l.Unlock()
	return n.run
}

func (n *Notifier) CaptureStarted(s video.Stats) {
	n.l.Lock()
	n.run = s.RunID
	n.l.Unlock()

	log.Infof("Capture %v started (run %v)", s.CaptureID, s.RunID)
	for _, l := range n.snapshot() {
		l.CaptureStarted(s)
	}
}

func (n *Notifier) TickCompleted(tick, total uint64) {
	for _, l := range n.snapshot() {
		l.TickCompleted(tick, total)
	}
}

func (n *Notifier) CaptureStopped(s video.Stats) {
	n.l.Lock()
	n.run = ""
	n.l.Unlock()

	log.Debugf("Capture stopped: %v", spew.Sdump(s))
	for _, l := range n.snapshot() {
		l.CaptureStopped(s)
	}
}

func (n *Notifier) FatalError(err error) {
	n.l.Lock()
	run := n.run
	n.run = ""
	n.l.Unlock()

	log.Errorf("Capture run %v failed: %v", run, err)
	for _, l := range n.snapshot() {
		l.FatalError(err)
	}
}
