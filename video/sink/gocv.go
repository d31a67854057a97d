//go:build gocv

package sink

import (
	"image"
	"io"

	"gocv.io/x/gocv"
)

// GoCVEncoder encodes frames through OpenCV, which is considerably faster
// than the pure Go encoders for large PNG frames. Build with -tags gocv.
type GoCVEncoder struct {
	FileExt gocv.FileExt
}

func NewGoCVEncoder(format string) *GoCVEncoder {
	if format == "jpg" || format == "jpeg" {
		return &GoCVEncoder{FileExt: gocv.JPEGFileExt}
	}
	return &GoCVEncoder{FileExt: gocv.PNGFileExt}
}

func (e *GoCVEncoder) Encode(w io.Writer, img image.Image) error {
	m, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return err
	}
	defer m.Close()

	buf, err := gocv.IMEncode(e.FileExt, m)
	if err != nil {
		return err
	}
	defer buf.Close()

	_, err = w.Write(buf.GetBytes())
	return err
}

func (e *GoCVEncoder) Ext() string {
	return string(e.FileExt[1:])
}
