package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	ExtTemp = ".temp"

	// SequenceDigits is the zero padding of frame sequence numbers.
	SequenceDigits = 5
)

// FrameRecord is a frame file found on disk.
type FrameRecord struct {
	Sequence uint64
	Path     string
	Size     int64
}

// Filesystem names the files of one capture under BasePath.
type Filesystem struct {
	BasePath  string
	CaptureID string
	Ext       string
}

// NewFilesystem creates path if needed and checks that it is writable.
func NewFilesystem(path, captureID, ext string) (*Filesystem, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	probe, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("output directory %v is not writable: %w", path, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &Filesystem{
		BasePath:  path,
		CaptureID: captureID,
		Ext:       ext,
	}, nil
}

// Ensure recreates the output directory if it was removed.
func (f *Filesystem) Ensure() error {
	return os.MkdirAll(f.BasePath, 0755)
}

// FramePath is {base}/{capture_id}_{seq:05d}.{ext}.
func (f *Filesystem) FramePath(seq uint64) string {
	return filepath.Join(f.BasePath, fmt.Sprintf("%s_%0*d.%s", f.CaptureID, SequenceDigits, seq, f.Ext))
}

func (f *Filesystem) ThumbPath() string {
	return filepath.Join(f.BasePath, f.CaptureID+"_thumb.jpg")
}

func (f *Filesystem) AudioPath() string {
	return filepath.Join(f.BasePath, f.CaptureID+".wav")
}

// parseSequence extracts the sequence number from a frame file name.
func (f *Filesystem) parseSequence(name string) (uint64, bool) {
	prefix := f.CaptureID + "_"
	suffix := "." + f.Ext
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	digits := name[len(prefix) : len(name)-len(suffix)]
	if len(digits) < SequenceDigits {
		return 0, false
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Frames lists the frame files of this capture, in sequence order.
func (f *Filesystem) Frames() ([]FrameRecord, error) {
	entries, err := os.ReadDir(f.BasePath)
	if err != nil {
		return nil, err
	}

	var records []FrameRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := f.parseSequence(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		records = append(records, FrameRecord{
			Sequence: seq,
			Path:     filepath.Join(f.BasePath, e.Name()),
			Size:     info.Size(),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Sequence < records[j].Sequence
	})
	return records, nil
}
