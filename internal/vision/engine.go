// Package vision adapts external face-detection and expression-recognition
// engines to the pipeline.
package vision

import (
	"context"
	"errors"
	"image"

	"facepulse/internal/history"
)

var (
	// ErrVisionUnavailable means the engine is unreachable or not initialized.
	ErrVisionUnavailable = errors.New("vision engine unavailable")
	// ErrMalformedOutput means the engine answered with an unusable payload.
	ErrMalformedOutput = errors.New("vision engine returned malformed output")
)

// DetectParams are the cascade tuning knobs forwarded with every detection.
type DetectParams struct {
	// Interval is the number of scales skipped between full scans.
	Interval int `json:"interval"`
	// MinNeighbors is the minimum number of overlapping hits for a region.
	MinNeighbors int `json:"min_neighbors"`
}

// DefaultDetectParams are the fixed tuning parameters of the pipeline.
var DefaultDetectParams = DetectParams{Interval: 5, MinNeighbors: 1}

// Candidate is a region reported by the detector together with its score.
type Candidate struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Region drops the confidence score.
func (c Candidate) Region() history.Region {
	return history.Region{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height}
}

// Engine is the external detection/recognition primitive.
//
// Recognize operates on the face the engine last detected; cropping and
// alignment are the engine's business.
type Engine interface {
	Name() string
	Ready() bool
	Detect(ctx context.Context, gray image.Image, params DetectParams) ([]Candidate, error)
	Recognize(ctx context.Context) ([]float32, error)
	Close() error
}
