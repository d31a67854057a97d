package video

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"genlock/video/process"
	"genlock/video/sink"
	"genlock/video/source"
)

// FrameWriter serializes frames to sequentially numbered files. Failures are
// returned to the caller and never retried.
type FrameWriter struct {
	// Opaque flattens alpha before encoding, for RGB output.
	Opaque bool
	// Thumbs, when set, receives a copy of the first frame written.
	Thumbs *process.ThumbnailProducer

	fs      *Filesystem
	enc     sink.Encoder
	written uint64
	metrics *Metrics
	log     *log.Entry
}

func NewFrameWriter(fs *Filesystem, enc sink.Encoder) *FrameWriter {
	return &FrameWriter{
		fs:  fs,
		enc: enc,
		log: log.WithField("capture_id", fs.CaptureID),
	}
}

// Written is the number of frames this writer put on disk.
func (w *FrameWriter) Written() uint64 {
	return w.written
}

// Write encodes f to the file for seq and releases f on success.
func (w *FrameWriter) Write(f *source.Frame, seq uint64) error {
	if err := w.fs.Ensure(); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if w.Opaque {
		flatten(f.Image)
	}

	path := w.fs.FramePath(seq)
	if err := w.writeFile(path, f.Image); err != nil {
		return fmt.Errorf("write frame %0*d: %w", SequenceDigits, seq, err)
	}
	w.log.Debugf("Wrote frame %0*d to %v", SequenceDigits, seq, path)

	if w.Thumbs != nil && w.written == 0 {
		w.Thumbs.Process(imaging.Clone(f.Image), w.fs.ThumbPath())
	}

	f.Release()
	w.written++
	w.metrics.written()
	return nil
}

func (w *FrameWriter) writeFile(path string, img image.Image) error {
	tmp := path + ExtTemp
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := w.enc.Encode(out, img); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// flatten makes every pixel opaque so encoders drop the alpha channel.
func flatten(img *image.RGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
