package ws

import (
	"time"

	"facepulse/internal/vision"
)

// ResultMessage represents one completed cycle broadcast
type ResultMessage struct {
	Type        string             `json:"type"` // "result"
	SessionID   string             `json:"session_id"`
	Seq         uint64             `json:"seq"`
	Timestamp   time.Time          `json:"timestamp"`
	FrameWidth  int                `json:"frame_width"`
	FrameHeight int                `json:"frame_height"`
	Region      [4]float64         `json:"region"` // [x, y, w, h] in pixels
	Expressions map[string]float64 `json:"expressions"`
	Dominant    string             `json:"dominant"`
	Recovered   bool               `json:"recovered"`
	Frame       string             `json:"frame,omitempty"` // Base64 encoded WebP frame
}

// NewResultMessage creates a new result message
func NewResultMessage(sessionID string, seq uint64, ts time.Time, frameWidth, frameHeight int) *ResultMessage {
	return &ResultMessage{
		Type:        "result",
		SessionID:   sessionID,
		Seq:         seq,
		Timestamp:   ts,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
	}
}

// SetExpressions fills the expression map and the dominant label
func (m *ResultMessage) SetExpressions(e vision.Expressions) {
	m.Expressions = e.Map()
	m.Dominant, _ = e.Dominant()
}

// SetFrame sets the base64-encoded frame data
func (m *ResultMessage) SetFrame(frameBase64 string) {
	m.Frame = frameBase64
}
