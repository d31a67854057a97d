package sink

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
)

// Flushes stall the simulation, so favor write speed over file size.
const defaultPNGCompression = png.BestSpeed

// ImageEncoder encodes frames as PNG or JPEG.
type ImageEncoder struct {
	Format      imaging.Format
	JPEGQuality int
}

// NewImageEncoder maps a configured format name ("png", "jpg") to an encoder.
func NewImageEncoder(format string, jpegQuality int) (*ImageEncoder, error) {
	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return nil, err
	}
	switch f {
	case imaging.PNG, imaging.JPEG:
	default:
		return nil, fmt.Errorf("unsupported frame format %q", format)
	}
	return &ImageEncoder{Format: f, JPEGQuality: jpegQuality}, nil
}

func (e *ImageEncoder) Encode(w io.Writer, img image.Image) error {
	switch e.Format {
	case imaging.JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(e.JPEGQuality))
	default:
		return imaging.Encode(w, img, e.Format, imaging.PNGCompressionLevel(defaultPNGCompression))
	}
}

func (e *ImageEncoder) Ext() string {
	if e.Format == imaging.JPEG {
		return "jpg"
	}
	return "png"
}
