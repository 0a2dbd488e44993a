package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gabapcia/coinconn/internal/pkg/logger"

	"github.com/urfave/cli/v3"
)

// startCommand returns a CLI command that starts every connection and keeps
// them running.
//
// Usage example:
//
//	coinconn start
//
// The process runs until it receives an interrupt (SIGINT or SIGTERM), then
// stops the connections within shutdownTimeout.
func startCommand(client Client, shutdownTimeout time.Duration) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts every currency connection and subscribes the wallet addresses once all are healthy.",
		Usage:       "Runs the connections. Terminates gracefully on Ctrl+C or termination signals.",
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.StartAll(ctx); err != nil {
				return err
			}

			select {
			case <-client.Healthy():
				logger.Info(ctx, "all connections healthy")
			case <-ctx.Done():
			}

			<-ctx.Done()
			logger.Info(ctx, "shutting down", "shutdown.timeout", shutdownTimeout.String())

			return stopClient(context.WithoutCancel(ctx), client, shutdownTimeout)
		},
	}
}
