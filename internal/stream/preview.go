// Package stream serves an annotated MJPEG preview of pipeline results.
package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"facepulse/internal/monitoring"
	"facepulse/internal/pipeline"
)

var (
	trackedColor   = color.RGBA{0, 255, 0, 255}   // region selected from a detection
	recoveredColor = color.RGBA{255, 165, 0, 255} // region recovered from history
)

// Preview renders every result frame with its face region and dominant
// expression and fans the JPEG out to MJPEG clients. Results without a
// frame are ignored.
type Preview struct {
	quality int

	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	current []byte
	frameMu sync.RWMutex
}

var _ pipeline.ResultHandler = (*Preview)(nil)

// NewPreview creates a new preview. quality is the JPEG quality, 85 when
// out of range.
func NewPreview(quality int) *Preview {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Preview{
		quality: quality,
		clients: make(map[chan []byte]bool),
	}
}

// OnResult implements pipeline.ResultHandler.
func (p *Preview) OnResult(result *pipeline.Result) {
	if result == nil || result.Frame == nil {
		return
	}

	jpegData, err := p.annotate(result)
	if err != nil {
		monitoring.Logf("[Preview] Failed to encode frame %d: %v", result.Seq, err)
		return
	}

	p.frameMu.Lock()
	p.current = jpegData
	p.frameMu.Unlock()

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for ch := range p.clients {
		select {
		case ch <- jpegData:
		default:
			// Slow client, drop this frame.
		}
	}
}

// annotate draws on a copy; the result frame is shared with other handlers.
func (p *Preview) annotate(result *pipeline.Result) ([]byte, error) {
	bounds := result.Frame.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, result.Frame, bounds.Min, draw.Src)

	boxColor := trackedColor
	if result.Recovered {
		boxColor = recoveredColor
	}
	r := result.Region
	x, y, w, h := int(r.X), int(r.Y), int(r.Width), int(r.Height)
	drawBox(rgba, x, y, w, h, boxColor, 2)

	label, score := result.Expressions.Dominant()
	drawLabel(rgba, x, y-14, fmt.Sprintf("%s %.0f%%", label, score*100), boxColor)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, rgba, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ClientCount returns the number of connected MJPEG clients
func (p *Preview) ClientCount() int {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return len(p.clients)
}

// Current returns the latest annotated JPEG, or nil before the first frame.
func (p *Preview) Current() []byte {
	p.frameMu.RLock()
	defer p.frameMu.RUnlock()
	return p.current
}

// ServeHTTP streams annotated frames as multipart MJPEG until the client
// goes away.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := make(chan []byte, 5)
	p.clientsMu.Lock()
	p.clients[clientCh] = true
	p.clientsMu.Unlock()

	defer func() {
		p.clientsMu.Lock()
		delete(p.clients, clientCh)
		p.clientsMu.Unlock()
	}()

	monitoring.Logf("[Preview] Client connected from %s", r.RemoteAddr)
	flusher.Flush()

	if frame := p.Current(); frame != nil {
		writePart(w, frame)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			monitoring.Logf("[Preview] Client disconnected from %s", r.RemoteAddr)
			return
		case frame := <-clientCh:
			writePart(w, frame)
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) {
	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
	w.Write(frame)
	fmt.Fprintf(w, "\r\n")
}

// SnapshotHandler serves the latest annotated frame as a single JPEG.
func (p *Preview) SnapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frame := p.Current()
		if frame == nil {
			http.Error(w, "No frame available", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
		w.Write(frame)
	})
}

func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w; i++ {
			setIn(img, i, y+t, c)
			setIn(img, i, y+h-1-t, c)
		}
		for j := y; j < y+h; j++ {
			setIn(img, x+t, j, c)
			setIn(img, x+w-1-t, j, c)
		}
	}
}

func setIn(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawLabel draws text on a dark background, kept inside the image.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := 0; dy < 14; dy++ {
		for dx := 0; dx < textWidth+4; dx++ {
			setIn(img, x+dx, y+dy, bg)
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 11)},
	}
	d.DrawString(label)
}
