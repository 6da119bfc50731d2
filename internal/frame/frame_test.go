package frame

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	return imaging.New(w, h, c)
}

type unavailableSource struct{}

func (unavailableSource) Frame() (image.Image, bool) { return nil, false }

func TestAcquireBufferSize(t *testing.T) {
	m, err := AcquireBuffer(640, 480)
	require.NoError(t, err)
	assert.Equal(t, 4*640*480, m.Len())
	assert.Equal(t, 640, m.Image().Bounds().Dx())
	assert.Equal(t, 480, m.Image().Bounds().Dy())

	_, err = AcquireBuffer(0, 480)
	assert.Error(t, err)
}

func TestCaptureScalesIntoOwnedBuffer(t *testing.T) {
	m, err := AcquireBuffer(32, 24)
	require.NoError(t, err)
	before := &m.Image().Pix[0]

	ok := m.Capture(NewStill(solid(320, 240, color.NRGBA{R: 200, G: 10, B: 30, A: 255})))
	require.True(t, ok)

	// Same backing array, same length: no per-frame allocation.
	assert.Same(t, before, &m.Image().Pix[0])
	assert.Equal(t, 4*32*24, m.Len())
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 30, A: 255}, m.Image().RGBAAt(16, 12))
}

func TestCaptureFailureKeepsPreviousFrame(t *testing.T) {
	m, err := AcquireBuffer(8, 8)
	require.NoError(t, err)
	require.True(t, m.Capture(NewStill(solid(8, 8, color.NRGBA{G: 255, A: 255}))))
	snapshot := append([]byte(nil), m.Image().Pix...)

	assert.False(t, m.Capture(unavailableSource{}))
	assert.False(t, m.Capture(nil))
	assert.False(t, m.Capture(NewStill(nil)))
	assert.Equal(t, snapshot, m.Image().Pix)
}

func TestSnapshotIsIndependent(t *testing.T) {
	m, err := AcquireBuffer(4, 4)
	require.NoError(t, err)
	require.True(t, m.Capture(NewStill(solid(4, 4, color.NRGBA{B: 255, A: 255}))))

	snap := m.Snapshot()
	snap.Pix[0] = 17
	assert.NotEqual(t, byte(17), m.Image().Pix[0])
}

func TestLoadStill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	require.NoError(t, imaging.Save(solid(50, 40, color.NRGBA{R: 1, A: 255}), path))

	s, err := LoadStill(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 40), s.Bounds())

	_, err = LoadStill(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestExtractJPEGFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, solid(4, 4, color.NRGBA{A: 255}), imaging.JPEG))
	jpeg := buf.Bytes()

	stream := append([]byte{0x00, 0x01}, jpeg...)
	stream = append(stream, jpeg[:10]...)

	got := extractJPEGFrame(&stream)
	require.NotNil(t, got)
	assert.Equal(t, jpeg, got)
	assert.Equal(t, jpeg[:10], stream)
	assert.Nil(t, extractJPEGFrame(&stream))
}

func TestDetectCapabilityHTTPSnapshot(t *testing.T) {
	c, err := DetectCapability("http://camera.local/snapshot.jpg", 5)
	require.NoError(t, err)
	assert.Equal(t, "http-snapshot", c.Name())
}

func TestDetectCapabilityWithoutFFmpeg(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := DetectCapability("/dev/video0", 10)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("/dev/video0", 10, 640, 480)
	assert.Contains(t, args, "v4l2")
	assert.Contains(t, args, "640x480")

	args = ffmpegArgs("rtsp://cam/stream", 10, 320, 240)
	assert.Contains(t, args, "tcp")
	assert.Contains(t, args, "320x240")
}

func snapshotServer(t *testing.T, status *atomic.Int32) *httptest.Server {
	t.Helper()
	var body bytes.Buffer
	require.NoError(t, imaging.Encode(&body, solid(64, 48, color.NRGBA{R: 90, A: 255}), imaging.JPEG))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStreamLifecycle(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := snapshotServer(t, &status)

	c, err := DetectCapability(srv.URL+"/snapshot.jpg", 10)
	require.NoError(t, err)

	stream, err := c.Acquire(context.Background(), 64, 48)
	require.NoError(t, err)

	select {
	case <-stream.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("stream never became ready")
	}

	img, ok := stream.Frame()
	require.True(t, ok)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.GreaterOrEqual(t, stream.FramesReceived(), uint64(1))

	stream.Pause()
	assert.True(t, stream.Paused())
	_, ok = stream.Frame()
	assert.False(t, ok)

	stream.Stop()
	assert.True(t, stream.Ended())
	_, ok = stream.Frame()
	assert.False(t, ok)
	assert.NotPanics(t, stream.Stop)
}

func TestHTTPAcquireDenied(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusForbidden)
	srv := snapshotServer(t, &status)

	c, err := DetectCapability(srv.URL+"/snapshot.jpg", 10)
	require.NoError(t, err)

	_, err = c.Acquire(context.Background(), 64, 48)
	assert.ErrorIs(t, err, ErrAcquisitionDenied)
}
