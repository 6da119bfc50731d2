package pipeline

import (
	"facepulse/internal/history"
	"facepulse/internal/vision"
)

// selectRegion picks the face region for a frame. Candidates narrower than a
// tenth of the frame are ignored; of the rest the most confident wins, ties
// going to the earliest. The winner is adjusted to cover the whole face and
// clamped to the frame. With no usable candidate the policy's recovery
// region is returned and recovered is true.
//
// selectRegion never records into the policy.
func selectRegion(candidates []vision.Candidate, policy *history.Policy, width, height int) (region Region, recovered bool) {
	minWidth := float64(width) / 10

	best := -1
	for i, c := range candidates {
		if c.Width < minWidth {
			continue
		}
		if best < 0 || c.Confidence > candidates[best].Confidence {
			best = i
		}
	}

	if best < 0 {
		return policy.Recover(), true
	}
	return candidates[best].Region().Adjust().Clamp(width, height), false
}
