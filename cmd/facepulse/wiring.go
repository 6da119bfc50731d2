package main

import (
	"encoding/json"
	"fmt"
	"time"

	"facepulse/internal/config"
	"facepulse/internal/database"
	"facepulse/internal/monitoring"
	"facepulse/internal/vision"
)

// buildEngine opens the configured vision backend. The "none" backend
// yields a nil engine, which the adapter reports as unavailable.
func buildEngine(c *config.Config) (vision.Engine, error) {
	switch c.Engine.Backend {
	case "grpc":
		return vision.NewGRPCEngine(vision.GRPCEngineConfig{
			Endpoint:       c.Engine.Endpoint,
			ProbeTimeout:   c.Engine.Timeout.Std(),
			HealthInterval: 5 * time.Second,
		})
	case "ollama":
		return vision.NewOllamaEngine(vision.OllamaEngineConfig{
			URL:     c.Engine.Endpoint,
			Model:   c.Engine.Model,
			MaxSide: c.Engine.MaxSide,
			Timeout: c.Engine.Timeout.Std(),
		})
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", c.Engine.Backend)
	}
}

// buildAdapter wraps the configured engine.
func buildAdapter(c *config.Config) (*vision.Adapter, error) {
	engine, err := buildEngine(c)
	if err != nil {
		return nil, err
	}
	adapter := vision.NewAdapter(engine, vision.DetectParams{
		Interval:     c.Engine.Interval,
		MinNeighbors: c.Engine.MinNeighbors,
	})
	params := adapter.Params()
	monitoring.Logf("[Vision] Using %s engine (interval %d, min neighbors %d)",
		adapter.EngineName(), params.Interval, params.MinNeighbors)
	return adapter, nil
}

// openJournal opens and migrates the journal, prunes cycles older than the
// retention and records the configuration of this run. It returns nil when
// no journal path is configured.
func openJournal(c *config.Config) (*database.Database, error) {
	if c.Journal.Path == "" {
		return nil, nil
	}

	db, err := database.New(c.Journal.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	if retention := c.Journal.Retention.Std(); retention > 0 {
		removed, err := db.DeleteOldCycles(time.Now().Add(-retention))
		if err != nil {
			monitoring.Logf("[Journal] Failed to prune old cycles: %v", err)
		} else if removed > 0 {
			monitoring.Logf("[Journal] Pruned %d cycles older than %v", removed, retention)
		}
	}

	if err := recordRun(db, c); err != nil {
		monitoring.Logf("[Journal] Failed to record run configuration: %v", err)
	}
	return db, nil
}

// recordRun stores the configuration in effect, without secrets.
func recordRun(db *database.Database, c *config.Config) error {
	redacted := *c
	redacted.Display.JWTSecret = ""
	data, err := json.Marshal(&redacted)
	if err != nil {
		return err
	}
	return db.SaveConfig("last_run", string(data))
}
