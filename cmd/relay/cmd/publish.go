package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Olgitta/kirk-ws/internal/config"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

var publishTimeout time.Duration

var publishCmd = &cobra.Command{
	Use:   "publish <channel> <message>",
	Short: "Publish a message on the Redis bus",
	Long: `Publish a message on a Redis channel using the relay's connection settings.
Handy for checking that a running relay forwards a channel to its clients.

Example:
  relay publish seat:events:42_hold locked`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Bus != config.BusRedis {
			return errors.New("publish needs the redis bus; with the in-memory bus, POST to /publish on the running relay")
		}

		client := pubsub.NewRedisClient(cfg.Redis(), logger)
		publisher := pubsub.NewRedisPublisher(client)
		defer publisher.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), publishTimeout)
		defer cancel()

		channel, message := args[0], args[1]
		if err := publisher.Publish(ctx, channel, message); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published to %s\n", channel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 5*time.Second, "Give up after this long")
}
