package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"facepulse/internal/monitoring"
)

// Wire names of the remote vision service. Messages are
// google.protobuf.Struct so the service needs no generated stubs.
const (
	GRPCServiceName = "facepulse.vision.v1.VisionEngine"
	detectMethod    = "/" + GRPCServiceName + "/Detect"
	recognizeMethod = "/" + GRPCServiceName + "/Recognize"
)

// GRPCEngineConfig holds configuration for the gRPC vision engine
type GRPCEngineConfig struct {
	Endpoint       string
	SessionID      string
	ProbeTimeout   time.Duration
	HealthInterval time.Duration
}

// GRPCEngine talks to a remote detection/recognition service over gRPC.
// The service keeps the last detected face per session so Recognize needs
// no payload besides the session ID.
type GRPCEngine struct {
	endpoint string
	session  string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient

	healthMu       sync.RWMutex
	healthy        bool
	lastHealth     time.Time
	healthInterval time.Duration
	probeTimeout   time.Duration
}

// NewGRPCEngine creates a client for the vision service. The connection is
// established lazily; Ready reports whether the service is reachable.
func NewGRPCEngine(config GRPCEngineConfig) (*GRPCEngine, error) {
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(config.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid target %s: %v", ErrVisionUnavailable, config.Endpoint, err)
	}

	monitoring.Logf("[GRPCEngine] Using vision service at %s", config.Endpoint)
	return NewGRPCEngineWithConn(conn, config), nil
}

// NewGRPCEngineWithConn builds an engine over an existing connection. The
// engine takes ownership of conn.
func NewGRPCEngineWithConn(conn *grpc.ClientConn, config GRPCEngineConfig) *GRPCEngine {
	interval := config.HealthInterval
	if interval < 0 {
		interval = 0
	}
	probe := config.ProbeTimeout
	if probe <= 0 {
		probe = 2 * time.Second
	}
	return &GRPCEngine{
		endpoint:       config.Endpoint,
		session:        config.SessionID,
		conn:           conn,
		health:         healthpb.NewHealthClient(conn),
		healthInterval: interval,
		probeTimeout:   probe,
	}
}

func (e *GRPCEngine) Name() string { return "grpc" }

// Ready reports whether the service answers its health check as SERVING.
// Results are cached for the configured health interval.
func (e *GRPCEngine) Ready() bool {
	if e.conn == nil {
		return false
	}

	e.healthMu.RLock()
	if !e.lastHealth.IsZero() && time.Since(e.lastHealth) < e.healthInterval {
		healthy := e.healthy
		e.healthMu.RUnlock()
		return healthy
	}
	e.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.probeTimeout)
	defer cancel()

	healthy := false
	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{Service: GRPCServiceName})
	switch {
	case err == nil:
		healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	case status.Code(err) == codes.Unimplemented:
		// Service without the health protocol; assume it is up.
		healthy = true
	default:
		monitoring.Logf("[GRPCEngine] Health check against %s failed: %v", e.endpoint, err)
	}

	e.setHealth(healthy)
	return healthy
}

func (e *GRPCEngine) setHealth(healthy bool) {
	e.healthMu.Lock()
	e.healthy = healthy
	e.lastHealth = time.Now()
	e.healthMu.Unlock()
}

// Detect sends the grayscale frame and returns the service's candidates.
func (e *GRPCEngine) Detect(ctx context.Context, gray image.Image, params DetectParams) ([]Candidate, error) {
	w, h, pixels := grayPixels(gray)
	req, err := structpb.NewStruct(map[string]interface{}{
		"session":       e.session,
		"width":         w,
		"height":        h,
		"pixels":        base64.StdEncoding.EncodeToString(pixels),
		"interval":      params.Interval,
		"min_neighbors": params.MinNeighbors,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, detectMethod, req, resp); err != nil {
		return nil, e.mapError(err)
	}

	regions, ok := resp.GetFields()["regions"]
	if !ok {
		return nil, nil
	}
	list := regions.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: regions is not a list", ErrMalformedOutput)
	}

	candidates := make([]Candidate, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("%w: region %d is not an object", ErrMalformedOutput, i)
		}
		f := s.GetFields()
		candidates = append(candidates, Candidate{
			X:          f["x"].GetNumberValue(),
			Y:          f["y"].GetNumberValue(),
			Width:      f["width"].GetNumberValue(),
			Height:     f["height"].GetNumberValue(),
			Confidence: f["confidence"].GetNumberValue(),
		})
	}
	return candidates, nil
}

// Recognize returns the expression intensities for the session's last face.
func (e *GRPCEngine) Recognize(ctx context.Context) ([]float32, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"session": e.session})
	if err != nil {
		return nil, fmt.Errorf("failed to build recognize request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, recognizeMethod, req, resp); err != nil {
		return nil, e.mapError(err)
	}

	list := resp.GetFields()["expressions"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: missing expressions", ErrMalformedOutput)
	}
	out := make([]float32, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		out = append(out, float32(v.GetNumberValue()))
	}
	return out, nil
}

// mapError folds transport failures into ErrVisionUnavailable and marks the
// engine unhealthy until the next health check.
func (e *GRPCEngine) mapError(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.FailedPrecondition, codes.Canceled, codes.Unimplemented:
		e.setHealth(false)
		return fmt.Errorf("%w: %v", ErrVisionUnavailable, err)
	case codes.InvalidArgument, codes.DataLoss:
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	default:
		return err
	}
}

// Close closes the underlying connection.
func (e *GRPCEngine) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

// grayPixels flattens img into one luminance byte per pixel, row-major.
func grayPixels(img image.Image) (int, int, []byte) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h)

	switch g := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out[y*w:(y+1)*w], g.Pix[off:off+w])
		}
	case *image.NRGBA:
		// Grayscale NRGBA carries the luminance in every color channel.
		for y := 0; y < h; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				out[y*w+x] = g.Pix[off+x*4]
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			}
		}
	}
	return w, h, out
}

var _ Engine = (*GRPCEngine)(nil)
