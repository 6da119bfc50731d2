package pipeline

import (
	"image"
	"time"

	"facepulse/internal/frame"
	"facepulse/internal/history"
	"facepulse/internal/schedule"
	"facepulse/internal/vision"
)

// Region is a face rectangle in frame pixel coordinates.
type Region = history.Region

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstFrame
	StateDetecting
	StateTracking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstFrame:
		return "awaiting_first_frame"
	case StateDetecting:
		return "detecting"
	case StateTracking:
		return "tracking"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Callback receives the region and expressions of every completed cycle.
type Callback func(region Region, expressions vision.Expressions)

// Result is the full record of one completed cycle, published on the
// EventBus after the callback ran.
type Result struct {
	SessionID   string             `json:"session_id"`
	Seq         uint64             `json:"seq"`
	Timestamp   time.Time          `json:"timestamp"`
	Source      string             `json:"source"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Region      Region             `json:"region"`
	Expressions vision.Expressions `json:"expressions"`
	// Recovered is set when no candidate survived selection and the region
	// came from history.
	Recovered bool `json:"recovered"`
	// First marks the cycle that ran on the first frame of a stream.
	First bool `json:"first"`
	// Frame is a copy of the captured frame, set only when the controller
	// publishes frames.
	Frame *image.RGBA `json:"-"`
}

// ResultHandler receives cycle results
type ResultHandler interface {
	OnResult(result *Result)
}

// ResultHandlerFunc adapts a plain function to ResultHandler.
type ResultHandlerFunc func(result *Result)

func (f ResultHandlerFunc) OnResult(result *Result) { f(result) }

// Stats contains controller counters
type Stats struct {
	SessionID       string    `json:"session_id"`
	State           string    `json:"state"`
	Source          string    `json:"source"`
	Engine          string    `json:"engine"`
	CyclesCompleted uint64    `json:"cycles_completed"`
	CaptureFailures uint64    `json:"capture_failures"`
	VisionFailures  uint64    `json:"vision_failures"`
	Recoveries      uint64    `json:"recoveries"`
	FramesReceived  uint64    `json:"frames_received"`
	HistoryLen      int       `json:"history_len"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
}

// Default controller settings.
const (
	DefaultWidth    = 640
	DefaultHeight   = 480
	DefaultInterval = 100 * time.Millisecond
)

// Config configures a Controller
type Config struct {
	Width  int
	Height int

	// Interval between the end of one live cycle and the start of the next.
	Interval time.Duration

	// Still, when set, replaces live capture: Start runs one cycle on it.
	Still frame.Source
	// Capability opens the live stream. Required unless Still is set.
	Capability frame.Capability
	// SourceName labels results; defaults to the capability name or "still".
	SourceName string

	Callback Callback

	// ReadyTimeout bounds the wait for the first frame of a new stream.
	// Zero waits forever.
	ReadyTimeout time.Duration
	// EngineTimeout bounds each vision engine call. Zero means no deadline.
	EngineTimeout time.Duration

	Scheduler schedule.Scheduler
	Now       func() time.Time

	Bus           *EventBus
	PublishFrames bool
}
