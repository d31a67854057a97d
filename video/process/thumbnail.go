package process

import (
	"image"
	"os"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

const (
	ThumbWidth  = 320
	ThumbHeight = 180
	ExtTemp     = ".temp"

	thumbBacklog = 8
)

// ThumbnailProducer writes thumbnails on a background goroutine so the
// capture path only pays for a copy of the source image.
type ThumbnailProducer struct {
	c    chan *workItem
	done chan bool
}

type workItem struct {
	img image.Image
	dst string
}

func NewThumbnailProducer() *ThumbnailProducer {
	f := &ThumbnailProducer{
		c:    make(chan *workItem, thumbBacklog),
		done: make(chan bool),
	}
	go func() {
		defer close(f.done)
		for w := range f.c {
			if err := WriteThumb(w.dst, w.img); err != nil {
				log.Errorf("Failed to generate thumbnail %v: %v", w.dst, err)
				continue
			}
			log.Infof("Thumbnail written to %v", w.dst)
		}
	}()
	return f
}

// Process queues a thumbnail of img. The producer keeps img, so callers
// pass a copy of any buffer they reuse.
func (f *ThumbnailProducer) Process(img image.Image, dst string) {
	w := &workItem{
		img: img,
		dst: dst,
	}
	select {
	case f.c <- w:
	default:
		log.Warnf("Thumbnail %v dropped due to backlog", dst)
	}
}

// Close waits for queued thumbnails to be written.
func (f *ThumbnailProducer) Close() {
	close(f.c)
	<-f.done
}

// WriteThumb writes a JPEG thumbnail of input to path, going through a
// temporary file so readers never observe a partial image.
func WriteThumb(path string, input image.Image) error {
	thumb := imaging.Fit(input, ThumbWidth, ThumbHeight, imaging.Lanczos)

	f, err := os.Create(path + ExtTemp)
	if err != nil {
		return err
	}
	if err := imaging.Encode(f, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		f.Close()
		os.Remove(path + ExtTemp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path + ExtTemp)
		return err
	}
	return os.Rename(path+ExtTemp, path)
}
