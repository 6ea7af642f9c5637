package assets

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const thumbnailMaxSize = 512

// Thumbnail downscales an image to a JPEG preview. Used when a vendor returns
// a model without a thumbnail: the job's source image stands in as preview.
func Thumbnail(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	var thumb image.Image = src
	if bounds.Dx() > thumbnailMaxSize || bounds.Dy() > thumbnailMaxSize {
		thumb = imaging.Fit(src, thumbnailMaxSize, thumbnailMaxSize, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}
