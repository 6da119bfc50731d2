package ws

import (
	"bytes"
	"encoding/base64"
	"image"

	"github.com/chai2010/webp"

	"facepulse/internal/monitoring"
	"facepulse/internal/pipeline"
)

// Broadcaster turns pipeline results into hub messages. In the pipeline it
// is subscribed with EventBus.SubscribeAsync so frame encoding stays off the
// cycle goroutine.
type Broadcaster struct {
	hub     *Hub
	quality float32
}

// NewBroadcaster creates a broadcaster. quality is the WebP quality used for
// attached frames (0-100).
func NewBroadcaster(hub *Hub, quality float32) *Broadcaster {
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	return &Broadcaster{hub: hub, quality: quality}
}

// OnResult implements pipeline.ResultHandler
func (b *Broadcaster) OnResult(result *pipeline.Result) {
	if result == nil || !b.hub.HasClients(result.SessionID) {
		return
	}

	msg := NewResultMessage(result.SessionID, result.Seq, result.Timestamp, result.Width, result.Height)
	msg.Region = result.Region.Array()
	msg.Recovered = result.Recovered
	msg.SetExpressions(result.Expressions)

	if result.Frame != nil {
		encoded, err := encodeFrame(result.Frame, b.quality)
		if err != nil {
			monitoring.Logf("[WS] Failed to encode frame: %v", err)
		} else {
			msg.SetFrame(encoded)
		}
	}

	b.hub.BroadcastResult(msg)
}

func encodeFrame(img image.Image, quality float32) (string, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

var _ pipeline.ResultHandler = (*Broadcaster)(nil)
