// Package serverclient is the entry point to the multi-currency connection
// layer. It owns the registry, the lifecycle supervisor, the call adapter and
// the address subscription manager, and wires them together: the initial
// subscription pass runs once, as soon as the connections first become
// healthy and a wallet is bound.
package serverclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gabapcia/coinconn/internal/addrsub"
	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"
	"github.com/gabapcia/coinconn/internal/rpccall"
	"github.com/gabapcia/coinconn/internal/supervisor"
)

// DefaultShutdownTimeout bounds the stop issued on process termination.
const DefaultShutdownTimeout = 5 * time.Second

// Client manages one connection per configured currency.
type Client struct {
	registry   *connregistry.Registry
	supervisor supervisor.Service
	calls      rpccall.Service
	subs       addrsub.Service
	binding    *addrsub.Binding

	mu             sync.Mutex
	passCtx        context.Context
	healthy        bool
	walletBound    bool
	initialPassRan bool
}

// AddWallet binds the wallet whose addresses are watched. It succeeds once.
func (c *Client) AddWallet(ctx context.Context, w addrsub.Wallet) error {
	if err := c.binding.Bind(w); err != nil {
		return err
	}

	c.mu.Lock()
	c.walletBound = true
	c.mu.Unlock()

	c.maybeRunInitialPass(ctx)
	return nil
}

// StartAll starts every connection. See supervisor.Service.
func (c *Client) StartAll(ctx context.Context) error {
	return c.supervisor.StartAll(ctx)
}

// StopAsync requests every connection to stop without waiting.
func (c *Client) StopAsync() {
	c.supervisor.StopAsync()
}

// StopAll stops every connection, waiting at most timeout.
func (c *Client) StopAll(timeout time.Duration) error {
	return c.supervisor.StopAll(timeout)
}

func (c *Client) Health() supervisor.Health {
	return c.supervisor.Health()
}

func (c *Client) Healthy() <-chan struct{} {
	return c.supervisor.Healthy()
}

func (c *Client) Stopped() <-chan struct{} {
	return c.supervisor.Stopped()
}

// AwaitRunning blocks until the connection of currency is running. The other
// currencies are not waited on, so one failing server never delays calls to
// the rest.
func (c *Client) AwaitRunning(ctx context.Context, currency connregistry.CurrencyID) error {
	if _, err := c.registry.Get(currency); err != nil {
		return err
	}

	return c.supervisor.AwaitRunning(ctx, currency)
}

func (c *Client) Currencies() []connregistry.CurrencyID {
	return c.registry.Currencies()
}

func (c *Client) Call(ctx context.Context, currency connregistry.CurrencyID, method string, params ...any) *future.Future[json.RawMessage] {
	return c.calls.Call(ctx, currency, method, params...)
}

func (c *Client) GetUnspentOutputs(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]rpccall.UnspentOutput] {
	return c.calls.GetUnspentOutputs(ctx, currency, address)
}

func (c *Client) GetBalance(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[rpccall.Balance] {
	return c.calls.GetBalance(ctx, currency, address)
}

func (c *Client) GetHistory(ctx context.Context, currency connregistry.CurrencyID, address string) *future.Future[[]rpccall.HistoryEntry] {
	return c.calls.GetHistory(ctx, currency, address)
}

// SubscribeWindow runs a subscription pass for currency on demand.
func (c *Client) SubscribeWindow(ctx context.Context, currency connregistry.CurrencyID) ([]addrsub.Entry, error) {
	return c.subs.SubscribeWindow(ctx, currency)
}

func (c *Client) Entries(currency connregistry.CurrencyID) []addrsub.Entry {
	return c.subs.Entries(currency)
}

func (c *Client) onHealthy(ctx context.Context) {
	c.mu.Lock()
	c.healthy = true
	c.passCtx = ctx
	c.mu.Unlock()

	c.maybeRunInitialPass(ctx)
}

// maybeRunInitialPass subscribes every currency the first time both the
// connections are healthy and the wallet is bound.
func (c *Client) maybeRunInitialPass(ctx context.Context) {
	c.mu.Lock()
	if !c.healthy || !c.walletBound || c.initialPassRan {
		c.mu.Unlock()
		return
	}

	c.initialPassRan = true
	if c.passCtx != nil {
		ctx = c.passCtx
	}
	c.mu.Unlock()

	logger.Info(ctx, "running initial subscription pass")
	if err := c.subs.SubscribeAll(ctx); err != nil {
		logger.Error(ctx, "initial subscription pass failed", "error", err)
	}
}

type config struct {
	subOpts      []addrsub.Option
	onFailure    supervisor.FailureHandler
	onTransition supervisor.TransitionHandler
}

type Option func(*config)

// New builds the connections for coins through factory and wires the client.
func New(coins []connregistry.CoinServers, factory connregistry.Factory, opts ...Option) (*Client, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	registry, err := connregistry.New(coins, factory)
	if err != nil {
		return nil, err
	}

	c := &Client{
		registry: registry,
		calls:    rpccall.New(registry),
		binding:  &addrsub.Binding{},
	}
	c.subs = addrsub.New(registry, c.binding, cfg.subOpts...)

	supOpts := []supervisor.Option{supervisor.WithHealthyHandler(c.onHealthy)}
	if cfg.onFailure != nil {
		supOpts = append(supOpts, supervisor.WithFailureHandler(cfg.onFailure))
	}
	if cfg.onTransition != nil {
		supOpts = append(supOpts, supervisor.WithTransitionHandler(cfg.onTransition))
	}
	c.supervisor = supervisor.New(registry, supOpts...)

	return c, nil
}

// WithWindowSize sets the number of indices subscribed per chain.
func WithWindowSize(n uint32) Option {
	return func(c *config) {
		c.subOpts = append(c.subOpts, addrsub.WithWindowSize(n))
	}
}

// WithActivityHandler sets the handler of address push notifications.
func WithActivityHandler(h addrsub.ActivityHandler) Option {
	return func(c *config) {
		c.subOpts = append(c.subOpts, addrsub.WithActivityHandler(h))
	}
}

// WithActivitySink forwards address push notifications to sink.
func WithActivitySink(sink addrsub.ActivitySink) Option {
	return func(c *config) {
		c.subOpts = append(c.subOpts, addrsub.WithActivitySink(sink))
	}
}

// WithFailureHandler observes every connection failure.
func WithFailureHandler(f supervisor.FailureHandler) Option {
	return func(c *config) {
		c.onFailure = f
	}
}

// WithTransitionHandler observes every collective health transition.
func WithTransitionHandler(f supervisor.TransitionHandler) Option {
	return func(c *config) {
		c.onTransition = f
	}
}
