package vision

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Adapter presents an Engine as two queries over the frame buffer.
type Adapter struct {
	engine Engine
	params DetectParams
}

// NewAdapter wraps engine. A nil engine yields an adapter that always
// reports ErrVisionUnavailable.
func NewAdapter(engine Engine, params DetectParams) *Adapter {
	return &Adapter{engine: engine, params: params}
}

// Params returns the tuning parameters sent with each detection.
func (a *Adapter) Params() DetectParams { return a.params }

// EngineName returns the wrapped engine's name, or "none".
func (a *Adapter) EngineName() string {
	if a.engine == nil {
		return "none"
	}
	return a.engine.Name()
}

// DetectRegions runs detection on a grayscale copy of frame. The frame itself
// is never modified.
func (a *Adapter) DetectRegions(ctx context.Context, frame *image.RGBA) ([]Candidate, error) {
	if a.engine == nil || !a.engine.Ready() {
		return nil, ErrVisionUnavailable
	}

	gray := imaging.Grayscale(frame)
	candidates, err := a.engine.Detect(ctx, gray, a.params)
	if err != nil {
		return nil, fmt.Errorf("%s detect: %w", a.engine.Name(), classify(err))
	}
	return candidates, nil
}

// RecognizeExpressions asks the engine for the expression intensities of the
// face it last detected.
func (a *Adapter) RecognizeExpressions(ctx context.Context) (Expressions, error) {
	if a.engine == nil || !a.engine.Ready() {
		return Expressions{}, ErrVisionUnavailable
	}

	raw, err := a.engine.Recognize(ctx)
	if err != nil {
		return Expressions{}, fmt.Errorf("%s recognize: %w", a.engine.Name(), classify(err))
	}
	e, ok := reshape(raw)
	if !ok {
		return Expressions{}, fmt.Errorf("%w: got %d expression values, want %d", ErrMalformedOutput, len(raw), NumExpressions)
	}
	return e, nil
}

// Close releases the engine.
func (a *Adapter) Close() error {
	if a.engine == nil {
		return nil
	}
	return a.engine.Close()
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrVisionUnavailable), errors.Is(err, ErrMalformedOutput):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrVisionUnavailable, err)
	default:
		return err
	}
}
