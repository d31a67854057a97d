package serve

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"genlock/notify"
	"genlock/video"
)

// SessionStatus is the part of a session the status page reports on.
type SessionStatus interface {
	State() video.State
	Stats() video.Stats
}

type StatusResponse struct {
	State       string
	Stats       video.Stats
	ObservedFPS float64

	FramesOnDisk int
	BytesOnDisk  int64
	SizeOnDisk   string

	Runs []notify.CaptureRun `json:",omitempty"`
}

type StatusServer struct {
	Session SessionStatus
	FS      *video.Filesystem
	Metrics *video.Metrics
	// History, when set, adds recent runs to the response.
	History *notify.History
}

func (s *StatusServer) BuildResponse(runs int) (*StatusResponse, error) {
	resp := &StatusResponse{
		State:       s.Session.State().String(),
		Stats:       s.Session.Stats(),
		ObservedFPS: s.Metrics.ObservedFPS(),
	}
	if s.FS != nil {
		records, err := s.FS.Frames()
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			resp.BytesOnDisk += r.Size
		}
		resp.FramesOnDisk = len(records)
		resp.SizeOnDisk = humanize.Bytes(uint64(resp.BytesOnDisk))
	}
	if s.History != nil && runs > 0 {
		var err error
		if resp.Runs, err = s.History.Runs(runs); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs := 10
	if v := r.Form.Get("runs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid runs", http.StatusBadRequest)
			return
		}
		runs = n
	}

	resp, err := s.BuildResponse(runs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	js, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
