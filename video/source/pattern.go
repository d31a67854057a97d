package source

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"genlock/video/process"
)

// Pattern is a synthetic simulation rendering moving color bars stamped
// with its frame count and simulated time. It stands in for a real engine
// when capturing from the command line and in tests.
type Pattern struct {
	Name string

	delta   time.Duration
	paused  bool
	simTime time.Duration
	frames  uint64
	target  *image.RGBA

	overlays map[string]image.Image

	l sync.Mutex
}

func NewPattern(name string) *Pattern {
	return &Pattern{
		Name:     name,
		delta:    time.Second / 60,
		overlays: make(map[string]image.Image),
	}
}

func (p *Pattern) Allocate(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid render target size %dx%d", width, height)
	}
	p.l.Lock()
	defer p.l.Unlock()
	p.target = image.NewRGBA(image.Rect(0, 0, width, height))
	p.render()
	return nil
}

func (p *Pattern) Size() image.Point {
	p.l.Lock()
	defer p.l.Unlock()
	if p.target == nil {
		return image.Point{}
	}
	return p.target.Rect.Size()
}

func (p *Pattern) Sample(dst *image.RGBA) error {
	p.l.Lock()
	defer p.l.Unlock()
	if p.target == nil {
		return fmt.Errorf("render target not allocated")
	}
	if dst.Rect.Size() != p.target.Rect.Size() {
		return fmt.Errorf("sample size %v does not match render target %v", dst.Rect.Size(), p.target.Rect.Size())
	}
	draw.Draw(dst, dst.Rect, p.target, image.Point{}, draw.Src)
	return nil
}

func (p *Pattern) Release() {
	p.l.Lock()
	defer p.l.Unlock()
	p.target = nil
}

func (p *Pattern) SetFrameDelta(d time.Duration) {
	p.l.Lock()
	defer p.l.Unlock()
	p.delta = d
}

func (p *Pattern) SetPaused(paused bool) {
	p.l.Lock()
	defer p.l.Unlock()
	p.paused = paused
}

func (p *Pattern) Paused() bool {
	p.l.Lock()
	defer p.l.Unlock()
	return p.paused
}

func (p *Pattern) Advance() {
	p.l.Lock()
	defer p.l.Unlock()
	if p.paused {
		return
	}
	p.simTime += p.delta
	p.frames += 1
	if p.target != nil {
		p.render()
	}
}

// SimTime returns the simulated time elapsed so far.
func (p *Pattern) SimTime() time.Duration {
	p.l.Lock()
	defer p.l.Unlock()
	return p.simTime
}

// Frames returns how many times the simulation advanced.
func (p *Pattern) Frames() uint64 {
	p.l.Lock()
	defer p.l.Unlock()
	return p.frames
}

// SetOverlay places img, scaled to a quarter of the target width, in the
// bottom right corner on subsequent renders. A nil img removes the layer.
func (p *Pattern) SetOverlay(name string, img image.Image) {
	p.l.Lock()
	defer p.l.Unlock()
	if img == nil {
		delete(p.overlays, name)
		return
	}
	if p.target != nil {
		w := p.target.Rect.Dx() / 4
		if w > 0 && img.Bounds().Dx() != w {
			img = imaging.Resize(img, w, 0, imaging.Linear)
		}
	}
	p.overlays[name] = img
}

func (p *Pattern) render() {
	b := p.target.Rect
	secs := p.simTime.Seconds()

	const bars = 8
	barW := b.Dx()/bars + 1
	shift := int(secs*float64(b.Dx())/4) % b.Dx()
	for x := 0; x < b.Dx(); x++ {
		i := ((x + shift) / barW) % bars
		c := barColor(i)
		for y := 0; y < b.Dy(); y++ {
			off := y*p.target.Stride + x*4
			p.target.Pix[off+0] = c.R
			p.target.Pix[off+1] = c.G
			p.target.Pix[off+2] = c.B
			p.target.Pix[off+3] = c.A
		}
	}

	names := make([]string, 0, len(p.overlays))
	for name := range p.overlays {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o := p.overlays[name]
		ob := o.Bounds()
		r := image.Rect(b.Max.X-ob.Dx(), b.Max.Y-ob.Dy(), b.Max.X, b.Max.Y)
		draw.Draw(p.target, r, o, ob.Min, draw.Over)
	}

	process.DrawLabel(p.target, fmt.Sprintf("%s  frame %05d  t=%.3fs", p.Name, p.frames, secs))
}

func barColor(i int) color.RGBA {
	// Hue wheel in eight steps.
	h := float64(i) / 8 * 2 * math.Pi
	return color.RGBA{
		R: uint8(127 + 127*math.Cos(h)),
		G: uint8(127 + 127*math.Cos(h-2*math.Pi/3)),
		B: uint8(127 + 127*math.Cos(h+2*math.Pi/3)),
		A: 255,
	}
}
