//go:build gocv

package sink

// NewFrameEncoder prefers the OpenCV encoder when built with -tags gocv.
func NewFrameEncoder(format string, jpegQuality int) (Encoder, error) {
	if _, err := NewImageEncoder(format, jpegQuality); err != nil {
		return nil, err
	}
	return NewGoCVEncoder(format), nil
}
