package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Olgitta/kirk-ws/internal/app"
	"github.com/Olgitta/kirk-ws/internal/server"
)

var (
	serveAddr     string
	serveBus      string
	servePatterns string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	Long: `Run the relay: subscribe every pattern in the table and serve websocket
clients on /ws until interrupted.

Flags override the matching environment variables. With --bus memory the
relay also accepts POST /publish {"channel": ..., "message": ...}, since
nothing outside the process can reach the in-memory bus.

Examples:
  relay serve
  relay serve --addr :8080
  relay serve --bus memory --patterns ./patterns.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = serveAddr
		}
		if cmd.Flags().Changed("bus") {
			cfg.Bus = serveBus
		}
		if cmd.Flags().Changed("patterns") {
			cfg.PatternsFile = servePatterns
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		a, err := app.New(app.Dependencies{Config: cfg, Logger: logger, Version: version})
		if err != nil {
			return err
		}

		ctx, stop := server.NotifyShutdown(cmd.Context())
		defer stop()

		logger.Info("Starting relay", "version", version, "env", cfg.Env, "bus", cfg.Bus, "addr", cfg.Addr)
		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":3000", "HTTP listen address (RELAY_ADDR)")
	serveCmd.Flags().StringVar(&serveBus, "bus", "redis", "Bus to relay from: redis or memory (RELAY_BUS)")
	serveCmd.Flags().StringVar(&servePatterns, "patterns", "", "Pattern table file (RELAY_PATTERNS_FILE)")
}
