package frame

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"

	"facepulse/internal/monitoring"
)

// ffmpegCapability captures V4L2 devices and network streams through an
// ffmpeg child process emitting MJPEG frames on stdout.
type ffmpegCapability struct {
	binary string
	device string
	fps    int
}

func (c *ffmpegCapability) Name() string { return "ffmpeg" }

func (c *ffmpegCapability) Acquire(ctx context.Context, width, height int) (Stream, error) {
	cmd := exec.Command(c.binary, ffmpegArgs(c.device, c.fps, width, height)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrAcquisitionDenied, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrAcquisitionDenied, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionDenied, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting ffmpeg: %v", ErrAcquisitionDenied, err)
	}

	s := &ffmpegStream{liveStream: newLiveStream(), cmd: cmd, device: c.device}

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()
	go s.readFrames(stdout)
	go s.wait()

	monitoring.Logf("[FrameSource] Started ffmpeg capture for %s (%dx%d @ %d fps)", c.device, width, height, c.fps)
	return s, nil
}

func ffmpegArgs(device string, fps, width, height int) []string {
	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", fps),
			"-s", fmt.Sprintf("%dx%d", width, height),
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(device, "http://"), strings.HasPrefix(device, "https://"):
		return []string{
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", fps),
			"-s", fmt.Sprintf("%dx%d", width, height),
			"-q:v", "5",
			"-",
		}
	default:
		// V4L2 device (USB camera)
		return []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", width, height),
			"-framerate", fmt.Sprintf("%d", fps),
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}
}

type ffmpegStream struct {
	*liveStream
	cmd    *exec.Cmd
	device string
}

func (s *ffmpegStream) readFrames(stdout io.Reader) {
	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := stdout.Read(chunk)
		if err != nil {
			if err != io.EOF {
				monitoring.Logf("[FrameSource] Error reading frame from %s: %v", s.device, err)
			}
			return
		}
		frameBuffer = append(frameBuffer, chunk[:n]...)

		for {
			data := extractJPEGFrame(&frameBuffer)
			if data == nil {
				break
			}
			img, err := imaging.Decode(bytes.NewReader(data))
			if err != nil {
				monitoring.Logf("[FrameSource] Dropping undecodable frame from %s: %v", s.device, err)
				continue
			}
			s.publish(img)
		}
	}
}

func (s *ffmpegStream) wait() {
	err := s.cmd.Wait()
	if s.release() && err != nil {
		monitoring.Logf("[FrameSource] ffmpeg for %s exited: %v", s.device, err)
	}
}

// Stop kills the ffmpeg process and releases the stream.
func (s *ffmpegStream) Stop() {
	if !s.release() {
		return
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	monitoring.Logf("[FrameSource] Stopped ffmpeg capture for %s", s.device)
}

// extractJPEGFrame pops the first complete JPEG (FFD8..FFD9) off buffer.
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	startIdx := bytes.Index(*buffer, []byte{0xFF, 0xD8})
	if startIdx == -1 {
		return nil
	}

	end := bytes.Index((*buffer)[startIdx+2:], []byte{0xFF, 0xD9})
	if end == -1 {
		return nil
	}
	endIdx := startIdx + 2 + end + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}
