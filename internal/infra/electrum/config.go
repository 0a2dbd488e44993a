// Package electrum implements connregistry.Connection for Electrum-protocol
// servers.
//
// Endpoints with a tcp:// or tls:// scheme use a persistent socket carrying
// newline-delimited JSON-RPC with server push notifications. Endpoints with
// an http:// or https:// scheme use one POST per call and emulate
// subscriptions by polling.
package electrum

import (
	"context"
	"errors"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/resilience/retry"
	transporthttp "github.com/gabapcia/coinconn/internal/pkg/transport/http"
)

const (
	MethodServerVersion = "server.version"
	MethodServerPing    = "server.ping"

	// Last protocol version serving the blockchain.address methods.
	protocolVersion = "1.2"
)

var (
	// ErrQueueFull is returned when the outgoing queue of a session is full.
	ErrQueueFull = errors.New("outgoing queue full")

	// ErrConnectionLost fails the calls pending on a session that dropped.
	ErrConnectionLost = errors.New("connection lost")

	// ErrStopped is returned by Start once Stop was called.
	ErrStopped = errors.New("connection stopped")

	// ErrUnsupportedScheme is returned for endpoints that are neither tcp, tls, http nor https.
	ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

	// ErrMixedTransports is returned when a currency mixes socket and HTTP endpoints.
	ErrMixedTransports = errors.New("socket and http endpoints cannot be mixed")
)

type config struct {
	clientName     string
	reconnectDelay time.Duration
	pollInterval   time.Duration
	keepAlive      time.Duration
	dialTimeout    time.Duration
	dialAttempts   uint
	dialDelay      time.Duration
	queueSize      int
	insecureTLS    bool
	httpOpts       []transporthttp.Option
}

// Option configures the connections built by this package.
type Option func(*config)

func defaultConfig() config {
	return config{
		clientName:     "coinconn",
		reconnectDelay: 5 * time.Second,
		pollInterval:   10 * time.Second,
		keepAlive:      60 * time.Second,
		dialTimeout:    10 * time.Second,
		dialAttempts:   3,
		dialDelay:      500 * time.Millisecond,
		queueSize:      256,
	}
}

// WithClientName sets the name sent in the server.version handshake.
func WithClientName(name string) Option {
	return func(c *config) {
		c.clientName = name
	}
}

// WithReconnectDelay sets the pause between a failure and the next connection attempt.
// Default: 5 seconds.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *config) {
		c.reconnectDelay = d
	}
}

// WithPollInterval sets how often HTTP subscriptions are polled. Default: 10 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithKeepAlive sets the server.ping interval of socket sessions. Zero disables it.
// Default: 60 seconds.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) {
		c.keepAlive = d
	}
}

// WithDialTimeout bounds a single dial. Default: 10 seconds.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		c.dialTimeout = d
	}
}

// WithDialRetry sets how many rounds over the endpoint list are attempted
// before reporting a failure, and the base backoff between rounds.
// Default: 3 rounds, 500ms.
func WithDialRetry(attempts uint, delay time.Duration) Option {
	return func(c *config) {
		c.dialAttempts = attempts
		c.dialDelay = delay
	}
}

// WithQueueSize sets the capacity of the outgoing queue of socket sessions. Default: 256.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithInsecureTLS skips certificate verification on tls:// endpoints.
// Many Electrum servers use self-signed certificates.
func WithInsecureTLS(insecure bool) Option {
	return func(c *config) {
		c.insecureTLS = insecure
	}
}

// WithHTTPOptions configures the HTTP client of http:// and https:// endpoints.
func WithHTTPOptions(opts ...transporthttp.Option) Option {
	return func(c *config) {
		c.httpOpts = append(c.httpOpts, opts...)
	}
}

// dialRetry builds the backoff used to reach the endpoints of currency.
func dialRetry(currency connregistry.CurrencyID, cfg config) retry.Retry {
	return retry.New(
		retry.WithAttempts(cfg.dialAttempts),
		retry.WithDelay(cfg.dialDelay),
		retry.WithMaxDelay(cfg.reconnectDelay),
		retry.WithOnRetry(func(attempt uint, err error) {
			logger.Debug(context.Background(), "electrum endpoints unreachable, retrying",
				"connection.currency", currency,
				"retry.attempt", attempt,
				"error", err,
			)
		}),
	)
}
