// Package pipeline drives the capture → detect → recognize cycle and keeps
// the controller state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"facepulse/internal/frame"
	"facepulse/internal/history"
	"facepulse/internal/monitoring"
	"facepulse/internal/schedule"
	"facepulse/internal/vision"
)

// Controller runs capture cycles against a still image or a live stream.
//
// Exactly one cycle runs at a time. Live cycles reschedule themselves
// through the Scheduler once they finish, so the cadence is the cycle
// duration plus Interval. Every Start on a live source opens a new epoch;
// callbacks scheduled under an older epoch do nothing.
type Controller struct {
	cfg     Config
	adapter *vision.Adapter
	buffer  *frame.Manager
	history *history.Policy
	sched   schedule.Scheduler
	now     func() time.Time
	source  string

	lifecycleMu sync.Mutex // serializes Start/Stop
	cycleMu     sync.Mutex // held for the duration of a cycle
	dataMu      sync.Mutex // guards buffer and history writes

	mu             sync.RWMutex
	state          State
	epoch          uint64
	stream         frame.Stream
	ready          bool
	pending        schedule.Handle
	readyTimer     schedule.Handle
	abortReady     chan struct{}
	callback       Callback
	sessionID      string
	seq            uint64
	captureFailing bool
	stats          Stats
}

// New creates a controller. It fails with frame.ErrSourceUnavailable when
// neither a still source nor a capture capability is configured.
func New(cfg Config, adapter *vision.Adapter) (*Controller, error) {
	if adapter == nil {
		return nil, errors.New("pipeline: vision adapter is required")
	}
	if cfg.Still == nil && cfg.Capability == nil {
		return nil, fmt.Errorf("pipeline: %w", frame.ErrSourceUnavailable)
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.RealScheduler{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	buffer, err := frame.AcquireBuffer(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	source := cfg.SourceName
	if source == "" {
		if cfg.Still != nil {
			source = "still"
		} else {
			source = cfg.Capability.Name()
		}
	}

	c := &Controller{
		cfg:      cfg,
		adapter:  adapter,
		buffer:   buffer,
		history:  history.New(cfg.Width, cfg.Height),
		sched:    cfg.Scheduler,
		now:      cfg.Now,
		source:   source,
		state:    StateIdle,
		callback: cfg.Callback,
	}
	return c, nil
}

// IsStill reports whether the controller runs on a still image.
func (c *Controller) IsStill() bool { return c.cfg.Still != nil }

// SetCallback replaces the per-cycle callback. A nil callback disables it.
func (c *Controller) SetCallback(fn Callback) {
	c.mu.Lock()
	c.callback = fn
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID returns the ID of the current or most recent session.
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// History returns the retained regions, oldest first.
func (c *Controller) History() []Region {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.history.Regions()
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	stats := c.stats
	stats.SessionID = c.sessionID
	stats.State = c.state.String()
	if c.stream != nil {
		stats.FramesReceived = c.stream.FramesReceived()
	}
	c.mu.RUnlock()

	stats.Source = c.source
	stats.Engine = c.adapter.EngineName()
	c.dataMu.Lock()
	stats.HistoryLen = c.history.Len()
	c.dataMu.Unlock()
	return stats
}

// Start begins capturing. For a still source every call runs exactly one
// cycle before returning and schedules nothing. For a live source it acquires
// the stream; cycles begin once the stream reports its first frame. Errors
// are logged, never returned.
func (c *Controller) Start() {
	if c.IsStill() {
		c.startStill()
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.startLive()
}

func (c *Controller) startStill() {
	c.mu.Lock()
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	c.state = StateAwaitingFirstFrame
	epoch := c.epoch
	sessionID := c.sessionID
	c.mu.Unlock()

	monitoring.Logf("[Pipeline] Running single cycle on still source (session %s)", sessionID)
	c.runCycle(epoch)
}

func (c *Controller) startLive() {
	c.mu.Lock()
	if c.stream != nil {
		c.mu.Unlock()
		return
	}
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	stream, err := c.cfg.Capability.Acquire(context.Background(), c.cfg.Width, c.cfg.Height)
	if err != nil {
		monitoring.Logf("[Pipeline] Failed to acquire %s stream: %v", c.cfg.Capability.Name(), err)
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return
	}

	abort := make(chan struct{})

	c.mu.Lock()
	c.stream = stream
	c.ready = false
	c.abortReady = abort
	c.state = StateIdle
	c.captureFailing = false
	c.sessionID = uuid.NewString()
	c.seq = 0
	if c.cfg.ReadyTimeout > 0 {
		c.readyTimer = c.sched.AfterFunc(c.cfg.ReadyTimeout, func() { c.readyExpired(epoch) })
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	monitoring.Logf("[Pipeline] Acquired %s stream (%dx%d, session %s), waiting for first frame",
		c.cfg.Capability.Name(), c.cfg.Width, c.cfg.Height, sessionID)

	go c.awaitReady(epoch, stream, abort)
}

// awaitReady moves the controller to AwaitingFirstFrame once stream has a
// frame and schedules the first cycle.
func (c *Controller) awaitReady(epoch uint64, stream frame.Stream, abort <-chan struct{}) {
	select {
	case <-stream.Ready():
	case <-abort:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.stream != stream {
		return
	}
	if c.readyTimer != nil {
		c.readyTimer.Cancel()
		c.readyTimer = nil
	}
	c.ready = true
	c.state = StateAwaitingFirstFrame
	c.pending = c.sched.AfterFunc(0, func() { c.runCycle(epoch) })
	monitoring.Logf("[Pipeline] Stream ready, starting detection")
}

func (c *Controller) readyExpired(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.ready || c.stream == nil {
		c.mu.Unlock()
		return
	}
	stream := c.stream
	c.releaseLocked()
	c.state = StateIdle
	c.mu.Unlock()

	stream.Stop()
	monitoring.Logf("[Pipeline] %v: no frame within %s", frame.ErrAcquisitionDenied, c.cfg.ReadyTimeout)
}

// Stop pauses and releases the live stream. A cycle already running
// finishes but does not reschedule; a scheduled one does nothing. Stop is a
// no-op for still sources.
func (c *Controller) Stop() {
	if c.IsStill() {
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	stream := c.stream
	c.releaseLocked()
	c.state = StateStopped
	c.mu.Unlock()

	if stream != nil {
		stream.Pause()
		stream.Stop()
		monitoring.Logf("[Pipeline] Stopped stream (session %s)", c.SessionID())
	}
}

// Close stops the controller and drops the face history once any running
// cycle has finished. A later Start begins with an empty history.
func (c *Controller) Close() {
	c.Stop()

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	c.dataMu.Lock()
	c.history.Reset()
	c.dataMu.Unlock()
}

// releaseLocked invalidates the current epoch and drops the stream binding
// together with anything scheduled for it. c.mu must be held.
func (c *Controller) releaseLocked() {
	c.epoch++
	if c.stream != nil {
		c.stats.FramesReceived = c.stream.FramesReceived()
	}
	if c.pending != nil {
		c.pending.Cancel()
		c.pending = nil
	}
	if c.readyTimer != nil {
		c.readyTimer.Cancel()
		c.readyTimer = nil
	}
	if c.abortReady != nil {
		close(c.abortReady)
		c.abortReady = nil
	}
	c.stream = nil
	c.ready = false
}

// runCycle performs one capture → select → recognize → callback pass.
func (c *Controller) runCycle(epoch uint64) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	var src frame.Source = c.cfg.Still
	stream := c.stream
	if !c.IsStill() {
		if stream == nil {
			c.mu.Unlock()
			return
		}
		src = stream
	}
	first := c.state == StateAwaitingFirstFrame
	if first {
		c.state = StateDetecting
	}
	c.mu.Unlock()

	c.dataMu.Lock()
	captured := c.buffer.Capture(src)
	c.dataMu.Unlock()
	if !captured {
		c.captureFailed(epoch, first, stream)
		return
	}

	ctx := context.Background()
	if c.cfg.EngineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.EngineTimeout)
		defer cancel()
	}

	candidates, err := c.adapter.DetectRegions(ctx, c.buffer.Image())
	if err != nil {
		c.visionFailed(epoch, first, err)
		return
	}
	c.dataMu.Lock()
	region, recovered := selectRegion(candidates, c.history, c.cfg.Width, c.cfg.Height)
	c.dataMu.Unlock()

	expressions, err := c.adapter.RecognizeExpressions(ctx)
	if err != nil {
		c.visionFailed(epoch, first, err)
		return
	}
	if !recovered {
		c.dataMu.Lock()
		c.history.Record(region)
		c.dataMu.Unlock()
	}

	c.mu.Lock()
	c.captureFailing = false
	c.seq++
	seq := c.seq
	cb := c.callback
	sessionID := c.sessionID
	ts := c.now()
	c.stats.CyclesCompleted++
	c.stats.LastCycleAt = ts
	if recovered {
		c.stats.Recoveries++
	}
	c.mu.Unlock()

	if cb != nil {
		c.invoke(cb, region, expressions)
	}

	if c.cfg.Bus != nil {
		result := &Result{
			SessionID:   sessionID,
			Seq:         seq,
			Timestamp:   ts,
			Source:      c.source,
			Width:       c.cfg.Width,
			Height:      c.cfg.Height,
			Region:      region,
			Expressions: expressions,
			Recovered:   recovered,
			First:       first,
		}
		if c.cfg.PublishFrames {
			c.dataMu.Lock()
			result.Frame = c.buffer.Snapshot()
			c.dataMu.Unlock()
		}
		c.cfg.Bus.Publish(result)
	}

	c.finishCycle(epoch, StateTracking)
}

func (c *Controller) invoke(cb Callback, region Region, expressions vision.Expressions) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[Pipeline] Callback panicked: %v", r)
		}
	}()
	cb(region, expressions)
}

func (c *Controller) captureFailed(epoch uint64, first bool, stream frame.Stream) {
	c.mu.Lock()
	c.stats.CaptureFailures++
	if !c.captureFailing {
		c.captureFailing = true
		monitoring.Logf("[Pipeline] %v: source has no frame, skipping cycle", frame.ErrCaptureFailed)
	}

	if epoch == c.epoch && stream != nil && stream.Ended() {
		c.releaseLocked()
		c.state = StateIdle
		c.mu.Unlock()
		stream.Stop()
		monitoring.Logf("[Pipeline] Stream ended, returning to idle")
		return
	}
	c.mu.Unlock()

	next := StateTracking
	if first {
		next = StateAwaitingFirstFrame
	}
	c.finishCycle(epoch, next)
}

func (c *Controller) visionFailed(epoch uint64, first bool, err error) {
	c.mu.Lock()
	c.stats.VisionFailures++
	c.mu.Unlock()
	monitoring.Logf("[Pipeline] Skipping cycle: %v", err)

	next := StateTracking
	if first {
		next = StateAwaitingFirstFrame
	}
	c.finishCycle(epoch, next)
}

// finishCycle moves to next and, for live sources, schedules the following
// cycle. Nothing happens if the epoch moved on while the cycle ran.
func (c *Controller) finishCycle(epoch uint64, next State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}
	if c.IsStill() {
		c.state = StateIdle
		return
	}
	if c.stream == nil {
		return
	}
	c.state = next
	c.pending = c.sched.AfterFunc(c.cfg.Interval, func() { c.runCycle(epoch) })
}

// Frame returns a copy of the most recently captured frame.
func (c *Controller) Frame() *image.RGBA {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.buffer.Snapshot()
}
