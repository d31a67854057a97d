package video

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"genlock/video/source"
)

var overlayExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// OverlayStream plays an image sequence from a directory as a layer, one
// image per tick. Only Batch images are decoded at a time.
type OverlayStream struct {
	Name  string
	Dir   string
	Batch int

	target source.OverlayTarget
	files  []string
	next   int // index in files of the first image not yet loaded
	batch  []image.Image
	pos    int
	begun  bool
	done   bool
	log    *log.Entry
}

func NewOverlayStream(name, dir string, batch int, target source.OverlayTarget) *OverlayStream {
	return &OverlayStream{
		Name:   name,
		Dir:    dir,
		Batch:  batch,
		target: target,
		log:    log.WithField("overlay", name),
	}
}

func (o *OverlayStream) Begin() error {
	if o.begun {
		return nil
	}
	entries, err := os.ReadDir(o.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !overlayExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		o.files = append(o.files, filepath.Join(o.Dir, e.Name()))
	}
	sort.Strings(o.files)
	if len(o.files) == 0 {
		return fmt.Errorf("no images in %v", o.Dir)
	}
	o.begun = true
	o.log.Infof("Overlay %v has %d images", o.Name, len(o.files))
	return o.LoadNextBatch()
}

// LoadNextBatch drops the images already shown and decodes up to Batch more.
func (o *OverlayStream) LoadNextBatch() error {
	o.batch = append(o.batch[:0], o.batch[o.pos:]...)
	o.pos = 0
	for len(o.batch) < o.Batch && o.next < len(o.files) {
		img, err := imaging.Open(o.files[o.next])
		if err != nil {
			return err
		}
		o.batch = append(o.batch, img)
		o.next++
	}
	return nil
}

func (o *OverlayStream) StepForward() error {
	if !o.IsActive() {
		return nil
	}
	if o.pos >= len(o.batch) {
		if err := o.LoadNextBatch(); err != nil {
			return err
		}
	}
	if o.pos >= len(o.batch) {
		o.done = true
		o.target.SetOverlay(o.Name, nil)
		o.log.Infof("Overlay %v finished", o.Name)
		return nil
	}
	o.target.SetOverlay(o.Name, o.batch[o.pos])
	o.batch[o.pos] = nil
	o.pos++
	return nil
}

func (o *OverlayStream) IsActive() bool {
	return o.begun && !o.done
}

// Shown is the number of images handed to the target.
func (o *OverlayStream) Shown() int {
	return o.next - len(o.batch) + o.pos
}

func (o *OverlayStream) Stop() error {
	if o.begun && !o.done {
		o.target.SetOverlay(o.Name, nil)
	}
	o.done = true
	return nil
}

func (o *OverlayStream) Release() error {
	o.batch = nil
	o.pos = 0
	o.files = nil
	return nil
}
