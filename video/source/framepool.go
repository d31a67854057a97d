package source

import (
	"image"
	"image/draw"
	"sync"

	log "github.com/sirupsen/logrus"
)

// FramePool recycles RGBA buffers of a single resolution. Buffers of a
// different size are dropped on put, which makes a resolution change safe.
type FramePool struct {
	// WarnAllocated logs once when more buffers than this are outstanding.
	// Zero disables the warning.
	WarnAllocated int

	size      image.Point
	allocated int
	warned    bool
	available []*image.RGBA

	l sync.Mutex
}

func NewFramePool(width, height int) *FramePool {
	return &FramePool{
		size: image.Point{X: width, Y: height},
	}
}

// Get returns a frame whose buffer has the pool resolution. Its pixels are
// not cleared.
func (p *FramePool) Get() *Frame {
	p.l.Lock()
	defer p.l.Unlock()

	var img *image.RGBA
	if n := len(p.available); n > 0 {
		img, p.available = p.available[n-1], p.available[:n-1]
	} else {
		img = image.NewRGBA(image.Rectangle{Max: p.size})
		p.allocated += 1
		if p.WarnAllocated > 0 && p.allocated > p.WarnAllocated && !p.warned {
			p.warned = true
			log.Warnf("Frame pool holds %d buffers of %v; is a frame not being released?", p.allocated, p.size)
		}
	}
	return &Frame{Image: img, pool: p}
}

func (p *FramePool) put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.l.Lock()
	defer p.l.Unlock()
	if img.Rect.Size() != p.size {
		p.allocated -= 1
		return
	}
	p.available = append(p.available, img)
}

// Allocated returns the number of buffers created and not yet dropped.
func (p *FramePool) Allocated() int {
	p.l.Lock()
	defer p.l.Unlock()
	return p.allocated
}

// Idle returns the number of buffers ready for reuse.
func (p *FramePool) Idle() int {
	p.l.Lock()
	defer p.l.Unlock()
	return len(p.available)
}

// Close drops every idle buffer so the memory can be reclaimed.
func (p *FramePool) Close() {
	p.l.Lock()
	defer p.l.Unlock()
	p.allocated -= len(p.available)
	p.available = nil
}

// Copy returns a pooled frame holding a copy of img's pixels.
func (p *FramePool) Copy(img *image.RGBA) *Frame {
	f := p.Get()
	if img.Rect.Size() == f.Image.Rect.Size() && img.Stride == f.Image.Stride {
		copy(f.Image.Pix, img.Pix)
	} else {
		draw.Draw(f.Image, f.Image.Rect, img, img.Rect.Min, draw.Src)
	}
	return f
}
