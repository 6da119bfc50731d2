package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facepulse/internal/frame"
	"facepulse/internal/schedule"
	"facepulse/internal/vision"
)

var epoch0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

type fakeStream struct {
	mu        sync.Mutex
	img       image.Image
	ready     chan struct{}
	readyOnce sync.Once
	paused    bool
	ended     bool
	stopped   bool
	frames    uint64
}

func newFakeStream(img image.Image) *fakeStream {
	return &fakeStream{img: img, ready: make(chan struct{})}
}

func (s *fakeStream) markReady() { s.readyOnce.Do(func() { close(s.ready) }) }

func (s *fakeStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.ended || s.img == nil {
		return nil, false
	}
	s.frames++
	return s.img, true
}

func (s *fakeStream) FramesReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *fakeStream) setFrame(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}

func (s *fakeStream) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

func (s *fakeStream) Ready() <-chan struct{} { return s.ready }

func (s *fakeStream) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *fakeStream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *fakeStream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.ended = true
	s.mu.Unlock()
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

var _ frame.Stream = (*fakeStream)(nil)

type fakeCapability struct {
	mu        sync.Mutex
	err       error
	autoReady bool
	streams   []*fakeStream
}

func (c *fakeCapability) Name() string { return "fake-camera" }

func (c *fakeCapability) Acquire(_ context.Context, width, height int) (frame.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := newFakeStream(testImage(width/2, height/2))
	if c.autoReady {
		s.markReady()
	}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCapability) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeCapability) acquired() []*fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeStream(nil), c.streams...)
}

func (c *fakeCapability) last(t *testing.T) *fakeStream {
	t.Helper()
	streams := c.acquired()
	require.NotEmpty(t, streams)
	return streams[len(streams)-1]
}

type fakeEngine struct {
	mu          sync.Mutex
	ready       bool
	candidates  []vision.Candidate
	expressions []float32
	recogErr    error
	detects     int
	recognizes  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		ready:       true,
		expressions: []float32{0.05, 0.05, 0.05, 0.6, 0.1, 0.1, 0.05},
	}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *fakeEngine) setReady(ready bool) {
	e.mu.Lock()
	e.ready = ready
	e.mu.Unlock()
}

func (e *fakeEngine) setCandidates(c ...vision.Candidate) {
	e.mu.Lock()
	e.candidates = c
	e.mu.Unlock()
}

func (e *fakeEngine) Detect(context.Context, image.Image, vision.DetectParams) ([]vision.Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detects++
	return append([]vision.Candidate(nil), e.candidates...), nil
}

func (e *fakeEngine) Recognize(context.Context) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recognizes++
	if e.recogErr != nil {
		return nil, e.recogErr
	}
	return e.expressions, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) detectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detects
}

type callRecorder struct {
	mu      sync.Mutex
	regions []Region
	exprs   []vision.Expressions
}

func (r *callRecorder) callback(region Region, e vision.Expressions) {
	r.mu.Lock()
	r.regions = append(r.regions, region)
	r.exprs = append(r.exprs, e)
	r.mu.Unlock()
}

func (r *callRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regions)
}

func (r *callRecorder) last(t *testing.T) Region {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.regions)
	return r.regions[len(r.regions)-1]
}

// leakyScheduler hands out handles whose Cancel never takes effect, like a
// timer that already fired.
type leakyScheduler struct {
	*schedule.ManualScheduler
}

type leakyHandle struct{}

func (leakyHandle) Cancel() bool { return false }

func (s leakyScheduler) AfterFunc(d time.Duration, fn func()) schedule.Handle {
	s.ManualScheduler.AfterFunc(d, fn)
	return leakyHandle{}
}

var errDenied = errors.New("permission denied")
