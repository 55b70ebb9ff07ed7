package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Olgitta/kirk-ws/internal/config"
	"github.com/Olgitta/kirk-ws/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Redis pattern pub/sub to websocket event relay",
	Long: `relay subscribes to Redis channel patterns and forwards every matching
message to all connected websocket clients as a named event.

Available commands:
  serve       Run the relay
  patterns    Inspect the pattern table
  publish     Publish a message on the bus
  version     Print the version

Configuration is read from the environment and from .env.<APP_ENV> and .env
in the working directory.

Use "relay [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and installs the logger it describes.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
