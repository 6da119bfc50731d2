package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"facepulse/internal/config"
	"facepulse/internal/monitoring"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is the configuration shared by subcommands, loaded before any of them run
	cfg *config.Config

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:     "facepulse",
	Short:   "Real-time face and expression tracking pipeline",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			monitoring.SetLogger(log.New(os.Stderr, "[facepulse] ", log.Ltime|log.Lmicroseconds).Printf)
		} else {
			monitoring.SetLogger(log.New(os.Stderr, "[facepulse] ", log.Ltime).Printf)
		}

		var err error
		cfg, err = loadConfig(configPath)
		return err
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig builds the configuration from defaults, an optional file and
// the environment, in that order.
func loadConfig(path string) (*config.Config, error) {
	c := config.Default()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a JSON configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log with microsecond timestamps")
}

func main() {
	Execute()
}
