package vision

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeVisionServer struct {
	mu         sync.Mutex
	lastDetect *structpb.Struct
	detect     func(*structpb.Struct) (*structpb.Struct, error)
	recognize  func(*structpb.Struct) (*structpb.Struct, error)
}

func structHandler(call func(s *fakeVisionServer, in *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		return call(srv.(*fakeVisionServer), in)
	}
}

var fakeVisionDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Detect",
			Handler: structHandler(func(s *fakeVisionServer, in *structpb.Struct) (*structpb.Struct, error) {
				s.mu.Lock()
				s.lastDetect = in
				s.mu.Unlock()
				return s.detect(in)
			}),
		},
		{
			MethodName: "Recognize",
			Handler: structHandler(func(s *fakeVisionServer, in *structpb.Struct) (*structpb.Struct, error) {
				return s.recognize(in)
			}),
		},
	},
}

func startVisionServer(t *testing.T, fake *fakeVisionServer, serving healthpb.HealthCheckResponse_ServingStatus) *GRPCEngine {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&fakeVisionDesc, fake)
	hs := health.NewServer()
	hs.SetServingStatus(GRPCServiceName, serving)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	eng := NewGRPCEngineWithConn(conn, GRPCEngineConfig{Endpoint: "bufnet", SessionID: "s-1"})
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPCEngineDetect(t *testing.T) {
	fake := &fakeVisionServer{
		detect: func(*structpb.Struct) (*structpb.Struct, error) {
			return structpb.NewStruct(map[string]interface{}{
				"regions": []interface{}{
					map[string]interface{}{"x": 10, "y": 20, "width": 64, "height": 64, "confidence": 3.5},
					map[string]interface{}{"x": 200, "y": 40, "width": 32, "height": 32, "confidence": 1.0},
				},
			})
		},
	}
	eng := startVisionServer(t, fake, healthpb.HealthCheckResponse_SERVING)
	require.True(t, eng.Ready())

	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	gray.SetGray(1, 2, color.Gray{Y: 77})

	got, err := eng.Detect(context.Background(), gray, DefaultDetectParams)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Candidate{X: 10, Y: 20, Width: 64, Height: 64, Confidence: 3.5}, got[0])

	fake.mu.Lock()
	req := fake.lastDetect.GetFields()
	fake.mu.Unlock()
	assert.Equal(t, "s-1", req["session"].GetStringValue())
	assert.Equal(t, float64(4), req["width"].GetNumberValue())
	assert.Equal(t, float64(3), req["height"].GetNumberValue())
	assert.Equal(t, float64(5), req["interval"].GetNumberValue())
	assert.Equal(t, float64(1), req["min_neighbors"].GetNumberValue())

	pixels, err := base64.StdEncoding.DecodeString(req["pixels"].GetStringValue())
	require.NoError(t, err)
	require.Len(t, pixels, 12)
	assert.Equal(t, byte(77), pixels[2*4+1])
}

func TestGRPCEngineDetectNoRegions(t *testing.T) {
	fake := &fakeVisionServer{
		detect: func(*structpb.Struct) (*structpb.Struct, error) { return &structpb.Struct{}, nil },
	}
	eng := startVisionServer(t, fake, healthpb.HealthCheckResponse_SERVING)

	got, err := eng.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)), DefaultDetectParams)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGRPCEngineDetectMalformed(t *testing.T) {
	fake := &fakeVisionServer{
		detect: func(*structpb.Struct) (*structpb.Struct, error) {
			return structpb.NewStruct(map[string]interface{}{"regions": []interface{}{"nope"}})
		},
	}
	eng := startVisionServer(t, fake, healthpb.HealthCheckResponse_SERVING)

	_, err := eng.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)), DefaultDetectParams)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestGRPCEngineRecognize(t *testing.T) {
	fake := &fakeVisionServer{
		recognize: func(in *structpb.Struct) (*structpb.Struct, error) {
			if in.GetFields()["session"].GetStringValue() != "s-1" {
				return nil, status.Error(codes.InvalidArgument, "unknown session")
			}
			return structpb.NewStruct(map[string]interface{}{
				"expressions": []interface{}{0.1, 0.0, 0.0, 0.8, 0.05, 0.02, 0.03},
			})
		},
	}
	eng := startVisionServer(t, fake, healthpb.HealthCheckResponse_SERVING)

	raw, err := eng.Recognize(context.Background())
	require.NoError(t, err)
	require.Len(t, raw, NumExpressions)
	assert.InDelta(t, 0.8, raw[3], 1e-6)
}

func TestGRPCEngineUnavailableStatus(t *testing.T) {
	fake := &fakeVisionServer{
		recognize: func(*structpb.Struct) (*structpb.Struct, error) {
			return nil, status.Error(codes.Unavailable, "model not loaded")
		},
	}
	eng := startVisionServer(t, fake, healthpb.HealthCheckResponse_SERVING)

	_, err := eng.Recognize(context.Background())
	assert.ErrorIs(t, err, ErrVisionUnavailable)
}

func TestGRPCEngineNotServing(t *testing.T) {
	eng := startVisionServer(t, &fakeVisionServer{}, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.False(t, eng.Ready())

	a := NewAdapter(eng, DefaultDetectParams)
	_, err := a.DetectRegions(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	assert.ErrorIs(t, err, ErrVisionUnavailable)
}

func TestGrayPixelsFromNRGBA(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 1, color.NRGBA{R: 40, G: 40, B: 40, A: 255})

	w, h, pix := grayPixels(img)
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
	assert.Equal(t, []byte{0, 0, 0, 40}, pix)
}

func TestGRPCEngineConnectsLazily(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	eng, err := NewGRPCEngine(GRPCEngineConfig{Endpoint: addr, ProbeTimeout: 500 * time.Millisecond})
	require.NoError(t, err)
	defer eng.Close()

	assert.False(t, eng.Ready())
}
