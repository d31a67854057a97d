package video

import (
	"image"

	"github.com/disintegration/imaging"

	"genlock/video/source"
)

// Publisher accepts preview images. sink.MJPEGStream implements it.
type Publisher interface {
	Viewers() int
	Put(img image.Image)
}

// PreviewStream publishes a downscaled copy of the surface every Every
// ticks. Nothing is sampled while no viewer is connected.
type PreviewStream struct {
	Every int
	Width int

	surface source.Surface
	out     Publisher
	buf     *image.RGBA
	n       int
	active  bool
	sent    int
}

func NewPreviewStream(surface source.Surface, out Publisher) *PreviewStream {
	return &PreviewStream{
		Every:   10,
		Width:   640,
		surface: surface,
		out:     out,
	}
}

func (p *PreviewStream) Begin() error {
	if p.Every < 1 {
		p.Every = 1
	}
	p.active = true
	return nil
}

func (p *PreviewStream) StepForward() error {
	if !p.active {
		return nil
	}
	p.n++
	if p.n%p.Every != 0 || p.out.Viewers() == 0 {
		return nil
	}

	size := p.surface.Size()
	if size.X == 0 || size.Y == 0 {
		return nil
	}
	if p.buf == nil || p.buf.Rect.Size() != size {
		p.buf = image.NewRGBA(image.Rectangle{Max: size})
	}
	if err := p.surface.Sample(p.buf); err != nil {
		return err
	}

	var img image.Image = p.buf
	if p.Width > 0 && size.X > p.Width {
		img = imaging.Resize(p.buf, p.Width, 0, imaging.Box)
	}
	p.out.Put(img)
	p.sent++
	return nil
}

func (p *PreviewStream) IsActive() bool {
	return p.active
}

// Sent is the number of images published.
func (p *PreviewStream) Sent() int {
	return p.sent
}

func (p *PreviewStream) Stop() error {
	p.active = false
	return nil
}

func (p *PreviewStream) Release() error {
	p.buf = nil
	return nil
}
