package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ollama/ollama/api"

	"facepulse/internal/monitoring"
)

const ollamaPrompt = `Find every human face in this grayscale image.
Respond with JSON only, using this shape:
{"faces":[{"x":0,"y":0,"width":0,"height":0,"confidence":0}],
 "expressions":{"anger":0,"disgust":0,"fear":0,"happiness":0,"sadness":0,"surprise":0,"neutral":0}}
Coordinates are pixels of the image you were given, origin top-left.
Confidence and expression intensities are between 0 and 1.
Expressions describe the largest face. Use an empty faces list when there is none.`

// OllamaEngineConfig holds configuration for the Ollama vision engine
type OllamaEngineConfig struct {
	URL     string
	Model   string
	MaxSide int
	Timeout time.Duration
}

// OllamaEngine asks a local multimodal model to find faces and rate their
// expressions in a single chat round trip.
type OllamaEngine struct {
	client  *api.Client
	model   string
	maxSide int
	timeout time.Duration

	mu          sync.RWMutex
	expressions []float32
	healthy     bool
	lastHealth  time.Time
}

type ollamaFace struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

type ollamaAnswer struct {
	Faces       []ollamaFace       `json:"faces"`
	Expressions map[string]float64 `json:"expressions"`
}

// NewOllamaEngine creates a new Ollama engine
func NewOllamaEngine(config OllamaEngineConfig) (*OllamaEngine, error) {
	parsedURL, err := url.Parse(config.URL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid ollama URL %q", config.URL)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}

	// Drop any path such as /api/chat; the client adds its own.
	baseURL := &url.URL{Scheme: parsedURL.Scheme, Host: parsedURL.Host}

	maxSide := config.MaxSide
	if maxSide <= 0 {
		maxSide = 512
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OllamaEngine{
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   config.Model,
		maxSide: maxSide,
		timeout: timeout,
	}, nil
}

func (e *OllamaEngine) Name() string { return "ollama" }

// Ready pings the server, caching the answer for a few seconds.
func (e *OllamaEngine) Ready() bool {
	e.mu.RLock()
	if !e.lastHealth.IsZero() && time.Since(e.lastHealth) < 5*time.Second {
		healthy := e.healthy
		e.mu.RUnlock()
		return healthy
	}
	e.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := e.client.Heartbeat(ctx)
	if err != nil {
		monitoring.Logf("[OllamaEngine] Heartbeat failed: %v", err)
	}

	e.mu.Lock()
	e.healthy = err == nil
	e.lastHealth = time.Now()
	e.mu.Unlock()
	return err == nil
}

// Detect sends a downscaled JPEG of gray to the model and maps the answer
// back to frame coordinates. The expressions in the same answer are kept
// for the following Recognize call.
func (e *OllamaEngine) Detect(ctx context.Context, gray image.Image, _ DetectParams) ([]Candidate, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	orig := gray.Bounds()
	small := imaging.Fit(gray, e.maxSide, e.maxSide, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: e.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: ollamaPrompt,
				Images:  []api.ImageData{api.ImageData(buf.Bytes())},
			},
		},
		Stream: &streamFalse,
		Format: json.RawMessage(`"json"`),
	}

	var content string
	err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama chat: %v", ErrVisionUnavailable, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty response from ollama", ErrMalformedOutput)
	}

	answer, err := parseOllamaAnswer(content)
	if err != nil {
		return nil, err
	}

	sx := float64(orig.Dx()) / float64(small.Bounds().Dx())
	sy := float64(orig.Dy()) / float64(small.Bounds().Dy())
	candidates := make([]Candidate, 0, len(answer.Faces))
	for _, f := range answer.Faces {
		candidates = append(candidates, Candidate{
			X:          f.X * sx,
			Y:          f.Y * sy,
			Width:      f.Width * sx,
			Height:     f.Height * sy,
			Confidence: f.Confidence,
		})
	}

	var expr []float32
	if len(answer.Faces) > 0 && len(answer.Expressions) > 0 {
		expr = make([]float32, 0, NumExpressions)
		for _, label := range ExpressionLabels {
			v, ok := answer.Expressions[label]
			if !ok {
				expr = nil
				break
			}
			expr = append(expr, float32(v))
		}
	}
	e.mu.Lock()
	e.expressions = expr
	e.mu.Unlock()

	return candidates, nil
}

// Recognize returns the expressions from the last Detect answer.
func (e *OllamaEngine) Recognize(_ context.Context) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.expressions) == 0 {
		return nil, fmt.Errorf("%w: no expressions in last answer", ErrMalformedOutput)
	}
	out := make([]float32, len(e.expressions))
	copy(out, e.expressions)
	return out, nil
}

func (e *OllamaEngine) Close() error { return nil }

func parseOllamaAnswer(raw string) (*ollamaAnswer, error) {
	raw = sanitizeModelJSON(raw)

	var answer ollamaAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: no JSON object in model answer", ErrMalformedOutput)
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &answer); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
	}
	return &answer, nil
}

var (
	reFenceLang  = regexp.MustCompile("^```[a-zA-Z]*\n")
	reBlockCmt   = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineCmt    = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailComma = regexp.MustCompile(`,\s*([}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas that
// models like to add around JSON.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = reFenceLang.ReplaceAllString(raw, "")
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")
	raw = reBlockCmt.ReplaceAllString(raw, "")
	raw = reLineCmt.ReplaceAllString(raw, "")
	raw = reTrailComma.ReplaceAllString(raw, "$1")
	return strings.TrimSpace(raw)
}

var _ Engine = (*OllamaEngine)(nil)
