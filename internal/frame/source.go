package frame

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	// Extra still-image formats beyond the stdlib's jpeg/png/gif.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source is anything a frame can be drawn from. Frame reports false when no
// frame is currently available (paused, ended or not yet started).
type Source interface {
	Frame() (image.Image, bool)
}

// Still is a fixed image source. Configuring one disables live capture.
type Still struct {
	img image.Image
}

// NewStill wraps an already decoded image.
func NewStill(img image.Image) *Still {
	return &Still{img: img}
}

// LoadStill decodes an image file, honoring its EXIF orientation.
func LoadStill(path string) (*Still, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to load still image %s: %w", path, err)
	}
	return &Still{img: img}, nil
}

// Frame implements Source.
func (s *Still) Frame() (image.Image, bool) {
	return s.img, s.img != nil
}

// Bounds returns the size of the underlying image.
func (s *Still) Bounds() image.Rectangle {
	if s.img == nil {
		return image.Rectangle{}
	}
	return s.img.Bounds()
}

var _ Source = (*Still)(nil)
