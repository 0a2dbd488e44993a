package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"
	"github.com/gabapcia/coinconn/internal/rpccall"
	"github.com/gabapcia/coinconn/internal/serverclient"
	"github.com/gabapcia/coinconn/internal/supervisor"

	"github.com/urfave/cli/v3"
)

// Client is the part of the server client driven by the commands.
type Client interface {
	StartAll(ctx context.Context) error
	StopAll(timeout time.Duration) error
	Healthy() <-chan struct{}
	AwaitRunning(ctx context.Context, currency connregistry.CurrencyID) error

	GetUnspentOutputs(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]rpccall.UnspentOutput]
	GetBalance(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[rpccall.Balance]
	GetHistory(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]rpccall.HistoryEntry]
}

var _ Client = (*serverclient.Client)(nil)

// Run initializes and executes the coinconn CLI application.
//
// It registers all available commands:
//
//   - `start`: Starts every connection and keeps the address subscriptions alive.
//   - `listunspent`: Prints the unspent outputs of an address.
//   - `balance`: Prints the balance of an address.
//   - `history`: Prints the transaction history of an address.
//
// shutdownTimeout bounds how long stopping the connections may take; zero
// means serverclient.DefaultShutdownTimeout.
func Run(ctx context.Context, client Client, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = serverclient.DefaultShutdownTimeout
	}
	return newApp(client, shutdownTimeout).Run(ctx, os.Args)
}

func newApp(client Client, shutdownTimeout time.Duration) *cli.Command {
	return &cli.Command{
		EnableShellCompletion: true,
		Name:                  "coinconn",
		Description:           "Command-line interface for the multi-currency wallet server connections.",
		Usage:                 "coinconn [command] [flags]",
		Commands: []*cli.Command{
			startCommand(client, shutdownTimeout),
			listUnspentCommand(client, shutdownTimeout),
			balanceCommand(client, shutdownTimeout),
			historyCommand(client, shutdownTimeout),
		},
	}
}

// printJSON writes v as indented JSON to the command output.
func printJSON(c *cli.Command, v any) error {
	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// stopClient stops every connection within shutdownTimeout. A timed out stop
// is abandoned and logged; the process exits anyway.
func stopClient(ctx context.Context, client Client, shutdownTimeout time.Duration) error {
	err := client.StopAll(shutdownTimeout)
	if errors.Is(err, supervisor.ErrShutdownTimeout) {
		logger.Warn(ctx, "connections still stopping, exiting anyway",
			"shutdown.timeout", shutdownTimeout.String(),
			"error", err,
		)
		return nil
	}

	return err
}
