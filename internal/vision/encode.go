package vision

import (
	"bytes"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is used for every annotated output.
const DefaultJPEGQuality = 90

// WriteJPEG encodes img to w.
func WriteJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// EncodeJPEG returns img as JPEG bytes.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJPEG(&buf, img, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
