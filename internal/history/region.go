package history

import "math"

// Region is a rectangle in frame pixel coordinates.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Face box compensation. The detector bounds the inner facial features
// rather than the whole face.
const (
	shiftXRatio = 0.075
	shiftYRatio = 0.04
	growRatio   = 1.15
)

// FullFrame returns the region covering a whole width x height frame.
func FullFrame(width, height int) Region {
	return Region{Width: float64(width), Height: float64(height)}
}

// Adjust widens a raw detector box to cover the full face: x moves left by
// 7.5% of the width, y moves down by 4% of the height and both sides grow
// by 15%.
func (r Region) Adjust() Region {
	return Region{
		X:      r.X - shiftXRatio*r.Width,
		Y:      r.Y + shiftYRatio*r.Height,
		Width:  growRatio * r.Width,
		Height: growRatio * r.Height,
	}
}

// Within reports whether r lies inside a width x height frame.
func (r Region) Within(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 &&
		r.X+r.Width <= float64(width) &&
		r.Y+r.Height <= float64(height)
}

// Clamp intersects r with a width x height frame. Regions already inside the
// frame are returned untouched; clamped sides never shrink below one pixel.
func (r Region) Clamp(width, height int) Region {
	if r.Within(width, height) {
		return r
	}
	fw, fh := float64(width), float64(height)

	x0 := math.Min(math.Max(r.X, 0), fw-1)
	y0 := math.Min(math.Max(r.Y, 0), fh-1)
	x1 := math.Min(r.X+r.Width, fw)
	y1 := math.Min(r.Y+r.Height, fh)
	if x1-x0 < 1 {
		x1 = x0 + 1
	}
	if y1-y0 < 1 {
		y1 = y0 + 1
	}
	return Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Array returns the region as [x, y, width, height].
func (r Region) Array() [4]float64 {
	return [4]float64{r.X, r.Y, r.Width, r.Height}
}
