package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"facepulse/internal/auth"
	"facepulse/internal/config"
	"facepulse/internal/database"
	"facepulse/internal/frame"
	"facepulse/internal/monitoring"
	"facepulse/internal/pipeline"
	"facepulse/internal/stream"
	"facepulse/internal/vision"
	"facepulse/internal/ws"
)

// displayQueue is how many results a display sink may fall behind before
// results are dropped for it.
const displayQueue = 4

var liveOpts struct {
	device string
	width  int
	height int
	listen string
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Track faces on a live camera until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyLiveFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runLive(cmd.Context(), cfg)
	},
}

func applyLiveFlags(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("device") {
		c.Capture.Device = liveOpts.device
	}
	if cmd.Flags().Changed("width") {
		c.Capture.Width = liveOpts.width
	}
	if cmd.Flags().Changed("height") {
		c.Capture.Height = liveOpts.height
	}
	if cmd.Flags().Changed("listen") {
		c.Display.Listen = liveOpts.listen
	}
}

func runLive(ctx context.Context, c *config.Config) error {
	capability, err := frame.DetectCapability(c.Capture.Device, c.Capture.FPS)
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

	var (
		wg   sync.WaitGroup
		errc = make(chan error, 1)
	)
	serverCtx, cancelServer := context.WithCancel(ctx)
	defer func() {
		cancelServer()
		wg.Wait()
	}()

	if c.Display.Listen != "" {
		hub := ws.NewHub()
		bus.SubscribeAsync(displayQueue, ws.NewBroadcaster(hub, c.Display.Quality))

		var preview *stream.Preview
		if c.Display.Frames {
			preview = stream.NewPreview(int(c.Display.Quality))
			bus.SubscribeAsync(displayQueue, preview)
		}

		var manager *auth.JWTManager
		if c.Display.RequireToken {
			manager = auth.NewJWTManager(c.Display.JWTSecret, c.Display.TokenExpiry.Std())
		}
		handleHTTPServer(serverCtx, c.Display.Listen, displayHandler(hub, preview, manager), &wg, errc)
	}

	controller, err := pipeline.New(pipeline.Config{
		Width:         c.Capture.Width,
		Height:        c.Capture.Height,
		Interval:      c.Capture.Interval.Std(),
		Capability:    capability,
		ReadyTimeout:  c.Capture.ReadyTimeout.Std(),
		EngineTimeout: c.Engine.Timeout.Std(),
		Bus:           bus,
		PublishFrames: c.Display.Listen != "" && c.Display.Frames,
	}, adapter)
	if err != nil {
		return err
	}

	if verbose {
		controller.SetCallback(func(region pipeline.Region, expressions vision.Expressions) {
			label, score := expressions.Dominant()
			monitoring.Logf("[Pipeline] Face at (%.0f,%.0f %.0fx%.0f): %s %.2f",
				region.X, region.Y, region.Width, region.Height, label, score)
		})
	}

	controller.Start()
	defer logStats(controller)
	defer controller.Close()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return fmt.Errorf("display server: %w", err)
	}
}

func logStats(controller *pipeline.Controller) {
	stats := controller.Stats()
	monitoring.Logf("[Pipeline] Session %s ended in state %s: %d cycles, %d capture failures, %d vision failures, %d recoveries",
		stats.SessionID, stats.State, stats.CyclesCompleted, stats.CaptureFailures, stats.VisionFailures, stats.Recoveries)
}

func init() {
	liveCmd.Flags().StringVarP(&liveOpts.device, "device", "d", "", "camera device, RTSP URL or HTTP snapshot URL")
	liveCmd.Flags().IntVar(&liveOpts.width, "width", 0, "frame buffer width")
	liveCmd.Flags().IntVar(&liveOpts.height, "height", 0, "frame buffer height")
	liveCmd.Flags().StringVarP(&liveOpts.listen, "listen", "l", "", "address for the display WebSocket server")
	rootCmd.AddCommand(liveCmd)
}
