package serve

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"genlock/video"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second

	clientBacklog = 16
)

const (
	EventStarted = "started"
	EventTick    = "tick"
	EventStopped = "stopped"
	EventFailed  = "failed"
)

// Progress is the message pushed to websocket clients.
type Progress struct {
	Event string `json:"event"`
	RunID string `json:"run_id,omitempty"`

	Tick  uint64 `json:"tick,omitempty"`
	Total uint64 `json:"total,omitempty"`

	Stats *video.Stats `json:"stats,omitempty"`
	Error string       `json:"error,omitempty"`
}

// ProgressUpdater streams session progress to websocket clients. It is a
// video.Listener; slow clients miss messages rather than stalling capture.
type ProgressUpdater struct {
	// TickEvery sends one tick message per this many ticks.
	TickEvery uint64

	upgrader websocket.Upgrader
	cs       map[chan *Progress]bool
	addc     chan chan *Progress
	delc     chan chan *Progress
	countc   chan chan int
	notify   chan *Progress
	run      string
}

func NewProgressUpdater() *ProgressUpdater {
	m := &ProgressUpdater{
		TickEvery: 10,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cs:     make(map[chan *Progress]bool),
		addc:   make(chan chan *Progress),
		delc:   make(chan chan *Progress),
		countc: make(chan chan int),
		notify: make(chan *Progress, clientBacklog),
	}
	go func() {
		for {
			select {
			case c := <-m.addc:
				m.cs[c] = true
			case c := <-m.delc:
				delete(m.cs, c)
			case c := <-m.countc:
				c <- len(m.cs)
			case p := <-m.notify:
				for k := range m.cs {
					select {
					case k <- p:
					default:
						// Client is behind; drop.
					}
				}
			}
		}
	}()
	return m
}

// Clients returns the number of connected websocket clients.
func (m *ProgressUpdater) Clients() int {
	c := make(chan int)
	m.countc <- c
	return <-c
}

func (m *ProgressUpdater) CaptureStarted(s video.Stats) {
	m.run = s.RunID
	m.notify <- &Progress{Event: EventStarted, RunID: s.RunID, Stats: &s}
}

func (m *ProgressUpdater) TickCompleted(tick, total uint64) {
	if m.TickEvery > 1 && tick%m.TickEvery != 0 {
		return
	}
	select {
	case m.notify <- &Progress{Event: EventTick, RunID: m.run, Tick: tick, Total: total}:
	default:
	}
}

func (m *ProgressUpdater) CaptureStopped(s video.Stats) {
	m.notify <- &Progress{Event: EventStopped, RunID: s.RunID, Stats: &s}
}

func (m *ProgressUpdater) FatalError(err error) {
	m.notify <- &Progress{Event: EventFailed, RunID: m.run, Error: err.Error()}
}

func (m *ProgressUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for progress stream: %v", err)
		}
		return
	}
	go m.serve(ws)
}

func (m *ProgressUpdater) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to progress socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from progress socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	notifyc := make(chan *Progress, clientBacklog)
	m.addc <- notifyc
	defer func() { m.delc <- notifyc }()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case p := <-notifyc:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(p); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
