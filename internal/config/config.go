// Package config loads facepulse settings from a JSON file and the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Capture CaptureConfig `json:"capture"`
	Engine  EngineConfig  `json:"engine"`
	Journal JournalConfig `json:"journal"`
	Display DisplayConfig `json:"display"`
}

// CaptureConfig holds configuration for frame acquisition
type CaptureConfig struct {
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Interval     Duration `json:"interval"`
	Device       string   `json:"device"`
	FPS          int      `json:"fps"`
	ReadyTimeout Duration `json:"ready_timeout"`
}

// EngineConfig selects and configures the vision engine
type EngineConfig struct {
	Backend      string   `json:"backend"` // "grpc", "ollama" or "none"
	Endpoint     string   `json:"endpoint"`
	Model        string   `json:"model"`
	Timeout      Duration `json:"timeout"`
	MaxSide      int      `json:"max_side"`
	Interval     int      `json:"interval"`
	MinNeighbors int      `json:"min_neighbors"`
}

// JournalConfig holds configuration for the SQLite journal
type JournalConfig struct {
	Path      string   `json:"path"` // empty disables the journal
	Retention Duration `json:"retention"`
}

// DisplayConfig holds configuration for the WebSocket display stream
type DisplayConfig struct {
	Listen       string   `json:"listen"` // empty disables the server
	JWTSecret    string   `json:"jwt_secret"`
	RequireToken bool     `json:"require_token"`
	TokenExpiry  Duration `json:"token_expiry"`
	Frames       bool     `json:"frames"`
	Quality      float32  `json:"quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Width:        640,
			Height:       480,
			Interval:     Duration(100 * time.Millisecond),
			Device:       "/dev/video0",
			FPS:          10,
			ReadyTimeout: Duration(10 * time.Second),
		},
		Engine: EngineConfig{
			Backend:      "grpc",
			Endpoint:     "localhost:50061",
			Model:        "llava",
			Timeout:      Duration(5 * time.Second),
			MaxSide:      512,
			Interval:     5,
			MinNeighbors: 1,
		},
		Journal: JournalConfig{
			Retention: Duration(7 * 24 * time.Hour),
		},
		Display: DisplayConfig{
			TokenExpiry: Duration(24 * time.Hour),
			Quality:     75,
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from FACEPULSE_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"FACEPULSE_DEVICE":          &c.Capture.Device,
		"FACEPULSE_ENGINE":          &c.Engine.Backend,
		"FACEPULSE_ENGINE_ENDPOINT": &c.Engine.Endpoint,
		"FACEPULSE_ENGINE_MODEL":    &c.Engine.Model,
		"FACEPULSE_JOURNAL":         &c.Journal.Path,
		"FACEPULSE_LISTEN":          &c.Display.Listen,
		"FACEPULSE_JWT_SECRET":      &c.Display.JWTSecret,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FACEPULSE_WIDTH":  &c.Capture.Width,
		"FACEPULSE_HEIGHT": &c.Capture.Height,
		"FACEPULSE_FPS":    &c.Capture.FPS,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("FACEPULSE_READY_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FACEPULSE_READY_TIMEOUT: %w", err)
		}
		c.Capture.ReadyTimeout = Duration(d)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be positive")
	}
	if c.Capture.Interval.Std() <= 0 {
		return fmt.Errorf("capture.interval must be positive")
	}
	if c.Capture.ReadyTimeout.Std() < 0 {
		return fmt.Errorf("capture.ready_timeout must not be negative")
	}
	if c.Capture.FPS <= 0 {
		return fmt.Errorf("capture.fps must be positive")
	}

	switch c.Engine.Backend {
	case "grpc", "ollama":
		if c.Engine.Endpoint == "" {
			return fmt.Errorf("engine.endpoint is required for backend %q", c.Engine.Backend)
		}
	case "none":
	default:
		return fmt.Errorf("engine.backend must be grpc, ollama or none, got %q", c.Engine.Backend)
	}
	if c.Engine.Backend == "ollama" && c.Engine.Model == "" {
		return fmt.Errorf("engine.model is required for the ollama backend")
	}
	if c.Engine.Interval < 0 || c.Engine.MinNeighbors < 0 {
		return fmt.Errorf("engine.interval and engine.min_neighbors must not be negative")
	}

	if c.Display.Quality < 0 || c.Display.Quality > 100 {
		return fmt.Errorf("display.quality must be between 0 and 100")
	}
	if c.Display.RequireToken && c.Display.Listen == "" {
		return fmt.Errorf("display.require_token needs display.listen")
	}

	return nil
}

// Duration is a time.Duration that reads and writes JSON as "100ms" style
// strings. Plain numbers are taken as milliseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value * float64(time.Millisecond)))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}
