//go:build !gocv

package sink

// NewFrameEncoder returns the encoder used for captured frames.
func NewFrameEncoder(format string, jpegQuality int) (Encoder, error) {
	return NewImageEncoder(format, jpegQuality)
}
