package sink

import (
	"image"
	"io"
)

// Encoder serializes a single frame image.
type Encoder interface {
	// Encode writes img to w. The caller keeps ownership of img.
	Encode(w io.Writer, img image.Image) error

	// Ext is the file extension of the encoded format, without the dot.
	Ext() string
}
