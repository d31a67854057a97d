package process

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorText = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBG   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// DrawLabel burns text into the top left corner of img on a black box.
func DrawLabel(img draw.Image, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorText),
		Face: face,
	}

	pad := 2
	width := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()

	b := img.Bounds()
	box := image.Rect(0, 0, width+pad*2, height+pad*2).Add(b.Min).Intersect(b)
	draw.Draw(img, box, image.NewUniform(colorBG), image.Point{}, draw.Src)

	d.Dot = fixed.P(b.Min.X+pad, b.Min.Y+pad+face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}
