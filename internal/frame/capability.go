package frame

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrSourceUnavailable means the platform offers no way to capture video.
	ErrSourceUnavailable = errors.New("no video capture capability available")
	// ErrAcquisitionDenied means a stream could not be opened or never became ready.
	ErrAcquisitionDenied = errors.New("video stream acquisition denied")
	// ErrCaptureFailed means a frame could not be drawn from an active source.
	ErrCaptureFailed = errors.New("frame capture failed")
)

// Stream is an acquired live video stream.
type Stream interface {
	Source

	// Ready is closed once the first frame has arrived.
	Ready() <-chan struct{}

	// Pause stops handing out frames until the stream is released.
	Pause()
	Paused() bool

	// Ended reports whether the underlying capture has terminated.
	Ended() bool

	// FramesReceived returns the number of frames the capture delivered.
	FramesReceived() uint64

	// Stop halts the capture track and releases the stream.
	Stop()
}

// Capability opens live streams on this platform.
type Capability interface {
	Name() string
	Acquire(ctx context.Context, width, height int) (Stream, error)
}

// DetectCapability picks the capture backend able to serve device. HTTP
// snapshot endpoints are polled directly; everything else (V4L2 devices,
// RTSP and HTTP streams) goes through ffmpeg, which must be on PATH.
func DetectCapability(device string, fps int) (Capability, error) {
	if fps <= 0 {
		fps = 10
	}

	if isHTTPImageEndpoint(device) {
		return &httpCapability{url: device, interval: pollInterval(fps)}, nil
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrSourceUnavailable
	}
	return &ffmpegCapability{binary: path, device: device, fps: fps}, nil
}

func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image"))
}

func pollInterval(fps int) time.Duration {
	interval := time.Second / time.Duration(fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}
