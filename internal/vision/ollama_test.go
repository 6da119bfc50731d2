package vision

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaServer(t *testing.T, content string, seen *api.ChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/chat":
			if seen != nil {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"model":   "test",
				"message": map[string]string{"role": "assistant", "content": content},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEngineDetectScalesBack(t *testing.T) {
	answer := "```json\n" + `{
  "faces": [{"x": 100, "y": 50, "width": 60, "height": 60, "confidence": 0.9},],
  "expressions": {"anger": 0.1, "disgust": 0, "fear": 0, "happiness": 0.7, "sadness": 0, "surprise": 0.1, "neutral": 0.1}
}` + "\n```"
	var seen api.ChatRequest
	srv := ollamaServer(t, answer, &seen)

	eng, err := NewOllamaEngine(OllamaEngineConfig{URL: srv.URL + "/api/chat", Model: "test", MaxSide: 512})
	require.NoError(t, err)
	require.True(t, eng.Ready())

	got, err := eng.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1024, 768)), DefaultDetectParams)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 200, got[0].X, 1e-9)
	assert.InDelta(t, 100, got[0].Y, 1e-9)
	assert.InDelta(t, 120, got[0].Width, 1e-9)
	assert.InDelta(t, 120, got[0].Height, 1e-9)

	assert.Equal(t, "test", seen.Model)
	require.Len(t, seen.Messages, 1)
	assert.Len(t, seen.Messages[0].Images, 1)
	require.NotNil(t, seen.Stream)
	assert.False(t, *seen.Stream)

	raw, err := eng.Recognize(context.Background())
	require.NoError(t, err)
	require.Len(t, raw, NumExpressions)
	assert.InDelta(t, 0.7, raw[3], 1e-6)
}

func TestOllamaEngineNoFaceClearsExpressions(t *testing.T) {
	srv := ollamaServer(t, `{"faces": [], "expressions": {}}`, nil)
	eng, err := NewOllamaEngine(OllamaEngineConfig{URL: srv.URL, Model: "test"})
	require.NoError(t, err)

	got, err := eng.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 64, 64)), DefaultDetectParams)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = eng.Recognize(context.Background())
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestOllamaEngineGarbageAnswer(t *testing.T) {
	srv := ollamaServer(t, "I cannot see any faces, sorry.", nil)
	eng, err := NewOllamaEngine(OllamaEngineConfig{URL: srv.URL, Model: "test"})
	require.NoError(t, err)

	_, err = eng.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 64, 64)), DefaultDetectParams)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestNewOllamaEngineValidates(t *testing.T) {
	_, err := NewOllamaEngine(OllamaEngineConfig{URL: "not a url", Model: "m"})
	assert.Error(t, err)
	_, err = NewOllamaEngine(OllamaEngineConfig{URL: "http://localhost:11434"})
	assert.Error(t, err)
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": [1, 2,]}\n```", `{"a": [1, 2]}`},
		{"{\n  // note\n  \"a\": 1,\n}", "{\n\n  \"a\": 1}"},
		{`{"a": /* x */ 1}`, `{"a":  1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeModelJSON(tt.in))
	}
}
