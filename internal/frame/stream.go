package frame

import (
	"image"
	"sync"
	"sync/atomic"
)

// liveStream holds the state shared by every live capture backend: the most
// recent decoded frame, the readiness signal and the pause/end flags.
type liveStream struct {
	mu     sync.RWMutex
	latest image.Image

	ready     chan struct{}
	readyOnce sync.Once

	paused atomic.Bool
	ended  atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once

	frames atomic.Uint64
}

func newLiveStream() *liveStream {
	return &liveStream{
		ready:  make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// publish stores img as the current frame. Frames arriving while paused are
// dropped.
func (s *liveStream) publish(img image.Image) {
	if s.paused.Load() || s.ended.Load() {
		return
	}
	s.mu.Lock()
	s.latest = img
	s.mu.Unlock()
	s.frames.Add(1)
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *liveStream) Frame() (image.Image, bool) {
	if s.paused.Load() || s.ended.Load() {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest != nil
}

func (s *liveStream) Ready() <-chan struct{} { return s.ready }

func (s *liveStream) Pause() { s.paused.Store(true) }

func (s *liveStream) Paused() bool { return s.paused.Load() }

func (s *liveStream) Ended() bool { return s.ended.Load() }

// FramesReceived returns the number of frames accepted so far.
func (s *liveStream) FramesReceived() uint64 { return s.frames.Load() }

// release marks the stream ended and wakes the capture loop. It reports
// whether this call performed the release.
func (s *liveStream) release() bool {
	released := false
	s.stopOnce.Do(func() {
		s.paused.Store(true)
		s.ended.Store(true)
		close(s.stopCh)
		s.mu.Lock()
		s.latest = nil
		s.mu.Unlock()
		released = true
	})
	return released
}
