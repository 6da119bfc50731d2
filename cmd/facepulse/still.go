package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"facepulse/internal/config"
	"facepulse/internal/database"
	"facepulse/internal/frame"
	"facepulse/internal/pipeline"
)

var stillCmd = &cobra.Command{
	Use:   "still <image>",
	Short: "Run a single cycle on an image file and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStill(cfg, args[0], cmd.OutOrStdout())
	},
}

// errNoResult is returned when the cycle was skipped, typically because the
// vision engine was unavailable.
var errNoResult = errors.New("cycle produced no result")

func runStill(c *config.Config, path string, out io.Writer) error {
	still, err := frame.LoadStill(path)
	if err != nil {
		return err
	}

	adapter, err := buildAdapter(c)
	if err != nil {
		return err
	}
	defer adapter.Close()

	bus := pipeline.NewEventBus()
	defer bus.Close()

	db, err := openJournal(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		bus.Subscribe(database.NewJournal(db, adapter.EngineName()))
	}

	var result *pipeline.Result
	bus.Subscribe(pipeline.ResultHandlerFunc(func(r *pipeline.Result) { result = r }))

	controller, err := pipeline.New(pipeline.Config{
		Width:         c.Capture.Width,
		Height:        c.Capture.Height,
		Still:         still,
		SourceName:    path,
		EngineTimeout: c.Engine.Timeout.Std(),
		Bus:           bus,
	}, adapter)
	if err != nil {
		return err
	}

	controller.Start()
	if result == nil {
		return fmt.Errorf("%s: %w", path, errNoResult)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func init() {
	rootCmd.AddCommand(stillCmd)
}
