package main

import (
	"context"
	"os"

	"github.com/gabapcia/coinconn/internal/config"
	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/handlers/cli"
	"github.com/gabapcia/coinconn/internal/infra/electrum"
	"github.com/gabapcia/coinconn/internal/infra/keychain"
	"github.com/gabapcia/coinconn/internal/infra/storage/redis"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/telemetry"
	"github.com/gabapcia/coinconn/internal/serverclient"
	"github.com/gabapcia/coinconn/internal/supervisor"
)

func main() {
	if err := run(context.Background()); err != nil {
		logger.Error(context.Background(), "coinconn failed", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, cfg.ServiceName)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
	}

	logOpts := []logger.Option{logger.WithLevel(cfg.LogLevel)}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logger.WithFile(cfg.LogFile, cfg.LogFileSizeKB, cfg.LogFileMaxRoll))
	}
	if err := logger.Init(logOpts...); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []serverclient.Option{
		serverclient.WithWindowSize(cfg.WindowSize),
		serverclient.WithFailureHandler(func(ctx context.Context, currency connregistry.CurrencyID, err error) {
			logger.Warn(ctx, "connection failed", "connection.currency", currency, "error", err)
		}),
		serverclient.WithTransitionHandler(func(from, to supervisor.Health) {
			logger.Info(ctx, "health changed", "health.from", from.String(), "health.to", to.String())
		}),
	}

	if cfg.Redis.Enabled() {
		sink, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer sink.Close()

		opts = append(opts, serverclient.WithActivitySink(sink))
	}

	factory := electrum.NewFactory(
		electrum.WithReconnectDelay(cfg.ReconnectDelay),
		electrum.WithPollInterval(cfg.PollInterval),
		electrum.WithClientName(cfg.ClientName),
		electrum.WithInsecureTLS(cfg.InsecureTLS),
	)

	client, err := serverclient.New(cfg.Servers, factory, opts...)
	if err != nil {
		return err
	}

	if accounts := cfg.Accounts(); len(accounts) > 0 {
		wallet, err := keychain.New(accounts...)
		if err != nil {
			return err
		}

		if err := client.AddWallet(ctx, wallet); err != nil {
			return err
		}
	}

	return cli.Run(ctx, client, cfg.ShutdownTimeout)
}
