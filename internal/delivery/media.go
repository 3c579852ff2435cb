package delivery

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

const (
	imageMaxSide  = 1200
	imageMaxBytes = 5 * 1024 * 1024
)

var jpegQualities = []int{85, 75, 65, 55, 45, 35}

// shrinkImage fits data into imageMaxSide and re-encodes it as JPEG under
// imageMaxBytes. Small images are returned unchanged.
func shrinkImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= imageMaxSide && h <= imageMaxSide && len(data) <= imageMaxBytes {
		return data, nil
	}
	if w > imageMaxSide || h > imageMaxSide {
		img = imaging.Fit(img, imageMaxSide, imageMaxSide, imaging.Lanczos)
	}

	for _, q := range jpegQualities {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("encode jpeg (q=%d): %w", q, err)
		}
		if buf.Len() <= imageMaxBytes {
			return buf.Bytes(), nil
		}
	}
	return nil, fmt.Errorf("image too large even at lowest quality (%dx%d)", w, h)
}
