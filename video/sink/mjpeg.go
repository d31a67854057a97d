package sink

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"sync"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

// MJPEG multi-streaming, based on implementation by saljam:
// https://github.com/saljam/mjpeg/blob/master/stream.go

const boundaryWord = "MJPEGBOUNDARY"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"X-Timestamp: 0.000000\r\n" +
	"\r\n"

type MJPEGServer struct {
	m map[string]*MJPEGStream

	lock sync.Mutex
}

func NewMJPEGServer() *MJPEGServer {
	return &MJPEGServer{
		m: make(map[string]*MJPEGStream),
	}
}

// NewStream registers a stream under name. Creating a second stream with the
// same name replaces the first.
func (s *MJPEGServer) NewStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.m[name]; ok {
		log.Warnf("Replacing MJPEG stream %v", name)
	}

	ms := &MJPEGStream{
		name:    name,
		m:       make(map[chan []byte]bool),
		parent:  s,
		Quality: 75,
	}

	s.m[name] = ms
	return ms
}

func (s *MJPEGServer) getStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.m[name]
}

// ServeHTTP implements http.Handler interface, serving MJPEG.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.Form.Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	stream := s.getStream(name)
	if stream == nil {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream connected to %v", name)
	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	c := make(chan []byte, 1)
	stream.lock.Lock()
	stream.m[c] = true
	stream.lock.Unlock()

	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	defer func() {
		stream.lock.Lock()
		delete(stream.m, c)
		stream.lock.Unlock()
		log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream disconnected from %v", name)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case b := <-c:
			if _, err := w.Write(b); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

type MJPEGStream struct {
	Quality int

	name string
	m    map[chan []byte]bool
	buf  bytes.Buffer

	parent *MJPEGServer
	lock   sync.Mutex
}

// Viewers returns the number of connected clients.
func (s *MJPEGStream) Viewers() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.m)
}

// Put encodes img and offers it to every connected client. Clients still
// busy with the previous image skip this one.
func (s *MJPEGStream) Put(img image.Image) {
	if s.Viewers() == 0 {
		// Nobody is listening; don't bother encoding.
		return
	}

	var jpeg bytes.Buffer
	if err := imaging.Encode(&jpeg, img, imaging.JPEG, imaging.JPEGQuality(s.Quality)); err != nil {
		log.Errorf("Error encoding to JPG for MJPEG stream %v: %v", s.name, err)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.buf.Reset()
	fmt.Fprintf(&s.buf, headerf, jpeg.Len())
	s.buf.Write(jpeg.Bytes())

	for c := range s.m {
		// Each client gets its own copy since delivery is asynchronous.
		frame := append([]byte(nil), s.buf.Bytes()...)
		select {
		case c <- frame:
		default:
			// Skip listeners not ready for next frame.
		}
	}
}

func (s *MJPEGStream) Close() {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()
	if s.parent.m[s.name] == s {
		delete(s.parent.m, s.name)
	}
}
