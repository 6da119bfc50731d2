// Package frame owns the pipeline's pixel buffer and the sources frames are
// drawn from: still images and live capture streams.
package frame

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// BytesPerPixel is the interleaved RGBA stride of one pixel.
const BytesPerPixel = 4

// Manager owns the fixed-size RGBA buffer every cycle writes into.
// The buffer is allocated once and overwritten in place on each successful
// capture; a failed capture leaves the previous contents intact.
type Manager struct {
	width   int
	height  int
	buf     []byte
	staging *image.RGBA
	view    *image.RGBA
}

// AcquireBuffer allocates a Manager whose buffer holds exactly
// 4*width*height bytes.
func AcquireBuffer(width, height int) (*Manager, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", width, height)
	}

	rect := image.Rect(0, 0, width, height)
	buf := make([]byte, BytesPerPixel*width*height)
	return &Manager{
		width:   width,
		height:  height,
		buf:     buf,
		staging: image.NewRGBA(rect),
		view:    &image.RGBA{Pix: buf, Stride: BytesPerPixel * width, Rect: rect},
	}, nil
}

// Width returns the capture width in pixels.
func (m *Manager) Width() int { return m.width }

// Height returns the capture height in pixels.
func (m *Manager) Height() int { return m.height }

// Len returns the buffer length in bytes.
func (m *Manager) Len() int { return len(m.buf) }

// Image returns an RGBA view over the owned buffer without copying.
func (m *Manager) Image() *image.RGBA { return m.view }

// Capture draws the current frame of src, scaled to the capture size, into
// the staging surface and then copies it into the owned buffer. It returns
// false without touching the buffer when src has no frame to give.
func (m *Manager) Capture(src Source) bool {
	if src == nil {
		return false
	}
	img, ok := src.Frame()
	if !ok || img == nil || img.Bounds().Empty() {
		return false
	}

	draw.ApproxBiLinear.Scale(m.staging, m.staging.Rect, img, img.Bounds(), draw.Src, nil)
	copy(m.buf, m.staging.Pix)
	return true
}

// Snapshot returns a copy of the buffer as an independent image.
func (m *Manager) Snapshot() *image.RGBA {
	out := image.NewRGBA(m.view.Rect)
	copy(out.Pix, m.buf)
	return out
}
