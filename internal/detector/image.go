package detector

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned for data that cannot be decoded as an image.
var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// Prepared is an image ready to be sent to the embedding service.
type Prepared struct {
	Data   []byte // JPEG
	Width  int    // original width
	Height int    // original height
	// Scale is original size divided by sent size, 1 when not resized.
	Scale float64
}

// PrepareImage decodes data, shrinks it to fit within maxSize and re-encodes
// it as JPEG. A non-positive maxSize disables resizing.
func PrepareImage(data []byte, maxSize int) (*Prepared, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	p := &Prepared{Width: width, Height: height, Scale: 1}

	out := img
	if maxSize > 0 && (width > maxSize || height > maxSize) {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxSize
			newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
			p.Scale = float64(width) / float64(newWidth)
		} else {
			newHeight = maxSize
			newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
			p.Scale = float64(height) / float64(newHeight)
		}

		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	p.Data = buf.Bytes()
	return p, nil
}
