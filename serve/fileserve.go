package serve

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"genlock/video"
)

type FileServer struct {
	FS          *video.Filesystem
	PathFunc    func(r *http.Request) (string, error)
	ContentType string
}

// NewFrameServer serves the frame whose sequence number is given by ?seq=.
func NewFrameServer(fs *video.Filesystem) *FileServer {
	return &FileServer{
		FS: fs,
		PathFunc: func(r *http.Request) (string, error) {
			seq, err := strconv.ParseUint(r.Form.Get("seq"), 10, 64)
			if err != nil || seq == 0 {
				return "", fmt.Errorf("invalid sequence number %q", r.Form.Get("seq"))
			}
			return fs.FramePath(seq), nil
		},
		ContentType: contentType(fs.Ext),
	}
}

func NewThumbServer(fs *video.Filesystem) *FileServer {
	return &FileServer{
		FS: fs,
		PathFunc: func(r *http.Request) (string, error) {
			return fs.ThumbPath(), nil
		},
		ContentType: "image/jpeg",
	}
}

func contentType(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	}
	return "application/octet-stream"
}

func (s *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path, err := s.PathFunc(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("No file found for %v", r.URL.RawQuery), http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Add("Content-Type", s.ContentType)
	io.Copy(w, f)
}
