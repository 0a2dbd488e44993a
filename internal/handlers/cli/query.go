package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"

	"github.com/urfave/cli/v3"
)

// defaultWait bounds how long a query waits for the connection and the reply.
const defaultWait = 30 * time.Second

// ErrNotRunning is returned when the queried connection did not come up in time.
var ErrNotRunning = errors.New("connection not running")

func queryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "currency",
			Usage:    "Currency identifier (e.g., bitcoin, litecoin)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "address",
			Usage:    "Address to query",
			Required: true,
		},
		&cli.DurationFlag{
			Name:  "wait",
			Usage: "Maximum time to wait for the connection and the reply",
			Value: defaultWait,
		},
	}
}

// runQuery starts the client, waits until the connection of the queried
// currency is running, awaits the reply of query and prints it. The client is
// always stopped before returning.
func runQuery[T any](
	ctx context.Context,
	c *cli.Command,
	client Client,
	shutdownTimeout time.Duration,
	query func(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[T],
) (err error) {
	var (
		currency = connregistry.CurrencyID(c.String("currency"))
		address  = c.String("address")
	)

	ctx, cancel := context.WithTimeout(ctx, c.Duration("wait"))
	defer cancel()

	if err := client.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, stopClient(context.WithoutCancel(ctx), client, shutdownTimeout))
	}()

	if err := client.AwaitRunning(ctx, currency); err != nil {
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	}

	reply, err := query(ctx, currency, address).Await(ctx)
	if err != nil {
		return err
	}

	return printJSON(c, reply)
}

// listUnspentCommand returns a CLI command printing the unspent outputs of an
// address.
//
// Usage example:
//
//	coinconn listunspent --currency bitcoin --address bc1q...
func listUnspentCommand(client Client, shutdownTimeout time.Duration) *cli.Command {
	return &cli.Command{
		Name:        "listunspent",
		Description: "Print the unspent outputs of an address.",
		Usage:       "Lists unspent outputs. Must provide both currency and address.",
		Flags:       queryFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			return runQuery(ctx, c, client, shutdownTimeout, client.GetUnspentOutputs)
		},
	}
}

// balanceCommand returns a CLI command printing the balance of an address.
//
// Usage example:
//
//	coinconn balance --currency litecoin --address ltc1q...
func balanceCommand(client Client, shutdownTimeout time.Duration) *cli.Command {
	return &cli.Command{
		Name:        "balance",
		Description: "Print the confirmed and unconfirmed balance of an address.",
		Usage:       "Shows an address balance. Must provide both currency and address.",
		Flags:       queryFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			return runQuery(ctx, c, client, shutdownTimeout, client.GetBalance)
		},
	}
}

func historyCommand(client Client, shutdownTimeout time.Duration) *cli.Command {
	return &cli.Command{
		Name:        "history",
		Description: "Print the confirmed and mempool transactions of an address.",
		Usage:       "Shows an address history. Must provide both currency and address.",
		Flags:       queryFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			return runQuery(ctx, c, client, shutdownTimeout, client.GetHistory)
		},
	}
}
