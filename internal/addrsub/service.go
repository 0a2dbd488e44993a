// Package addrsub keeps every watched wallet address subscribed on the
// connection of its currency.
//
// A pass subscribes a fixed window of indices on both the external and the
// internal chain. Failures are isolated per address: a failed derivation or a
// rejected subscription is logged and the pass goes on with the others.
// Push notifications for a subscribed address are handed to the configured
// ActivityHandler, then to the optional ActivitySink.
package addrsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"
)

const (
	// DefaultWindowSize is the number of indices subscribed per chain.
	DefaultWindowSize = 20

	MethodSubscribe = "blockchain.address.subscribe"
)

// Activity is a push notification received for a subscribed address.
type Activity struct {
	Currency connregistry.CurrencyID
	Chain    Chain
	Index    uint32
	Address  string
	Payload  []json.RawMessage // notification params, opaque to this package
}

// ActivityHandler receives every push notification. It runs on the
// connection's delivery goroutine and should return quickly.
type ActivityHandler func(ctx context.Context, activity Activity)

// ActivitySink stores or forwards activity after the handler ran.
type ActivitySink interface {
	Publish(ctx context.Context, activity Activity) error
}

// Entry is one address subscription created by a pass.
type Entry struct {
	Currency connregistry.CurrencyID
	Chain    Chain
	Index    uint32
	Address  string // empty when derivation failed

	// Reply settles with the subscription reply, or with the derivation or
	// subscription error.
	Reply *future.Future[json.RawMessage]
}

// Resolver gives access to the registered connections.
type Resolver interface {
	Get(currency connregistry.CurrencyID) (connregistry.Connection, error)
	Currencies() []connregistry.CurrencyID
}

// Service subscribes wallet addresses on the registered connections.
type Service interface {
	// SubscribeWindow runs one pass for currency and returns the entries it
	// created. It only fails when the wallet is not bound or the currency is
	// unknown; per-address failures are carried by each entry.
	SubscribeWindow(ctx context.Context, currency connregistry.CurrencyID) ([]Entry, error)

	// SubscribeAll runs SubscribeWindow for every registered currency.
	SubscribeAll(ctx context.Context) error

	// Entries returns the entries of the latest pass for currency.
	Entries(currency connregistry.CurrencyID) []Entry
}

type service struct {
	resolver   Resolver
	binding    *Binding
	windowSize uint32
	onActivity ActivityHandler
	sink       ActivitySink

	mu      sync.Mutex
	entries map[connregistry.CurrencyID][]Entry
}

var _ Service = (*service)(nil)

func (s *service) SubscribeWindow(ctx context.Context, currency connregistry.CurrencyID) ([]Entry, error) {
	wallet, err := s.binding.Wallet()
	if err != nil {
		return nil, err
	}

	conn, err := s.resolver.Get(currency)
	if err != nil {
		return nil, err
	}

	deliveryCtx := context.WithoutCancel(ctx)
	entries := make([]Entry, 0, 2*s.windowSize)
	for _, chain := range []Chain{External, Internal} {
		for index := range s.windowSize {
			entries = append(entries, s.subscribe(ctx, deliveryCtx, conn, wallet, currency, chain, index))
		}
	}

	s.mu.Lock()
	s.entries[currency] = entries
	s.mu.Unlock()

	logger.Info(ctx, "address window subscribed",
		"connection.currency", currency,
		"window.size", s.windowSize,
		"window.requests", len(entries),
	)

	return entries, nil
}

func (s *service) subscribe(ctx, deliveryCtx context.Context, conn connregistry.Connection, wallet Wallet, currency connregistry.CurrencyID, chain Chain, index uint32) Entry {
	entry := Entry{Currency: currency, Chain: chain, Index: index}

	address, err := wallet.AddressAt(ctx, currency, chain, index)
	if err != nil {
		logger.Warn(ctx, "address derivation failed",
			"connection.currency", currency,
			"address.chain", chain.String(),
			"address.index", index,
			"error", err,
		)
		entry.Reply = future.Failed[json.RawMessage](fmt.Errorf("derive %s/%d: %w", chain, index, err))
		return entry
	}

	entry.Address = address
	entry.Reply = conn.Subscribe(ctx, MethodSubscribe, s.notificationHandler(deliveryCtx, entry), address)
	entry.Reply.OnComplete(func(_ json.RawMessage, err error) {
		if err != nil {
			logger.Warn(deliveryCtx, "address subscription failed",
				"connection.currency", currency,
				"address", address,
				"error", err,
			)
		}
	})

	return entry
}

func (s *service) notificationHandler(ctx context.Context, entry Entry) connregistry.NotificationHandler {
	return func(params []json.RawMessage) {
		activity := Activity{
			Currency: entry.Currency,
			Chain:    entry.Chain,
			Index:    entry.Index,
			Address:  entry.Address,
			Payload:  params,
		}

		s.onActivity(ctx, activity)

		if s.sink == nil {
			return
		}

		if err := s.sink.Publish(ctx, activity); err != nil {
			logger.Error(ctx, "activity publish failed",
				"connection.currency", activity.Currency,
				"address", activity.Address,
				"error", err,
			)
		}
	}
}

func (s *service) SubscribeAll(ctx context.Context) error {
	if _, err := s.binding.Wallet(); err != nil {
		return err
	}

	var errs []error
	for _, currency := range s.resolver.Currencies() {
		if _, err := s.SubscribeWindow(ctx, currency); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", currency, err))
		}
	}

	return errors.Join(errs...)
}

func (s *service) Entries(currency connregistry.CurrencyID) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Entry(nil), s.entries[currency]...)
}

// LogActivity is the default ActivityHandler.
func LogActivity(ctx context.Context, activity Activity) {
	payload := make([]string, 0, len(activity.Payload))
	for _, p := range activity.Payload {
		payload = append(payload, string(p))
	}

	logger.Info(ctx, "address activity",
		"connection.currency", activity.Currency,
		"address", activity.Address,
		"address.chain", activity.Chain.String(),
		"address.index", activity.Index,
		"activity.payload", payload,
	)
}

type config struct {
	windowSize uint32
	onActivity ActivityHandler
	sink       ActivitySink
}

type Option func(*config)

// New creates the subscription manager. Passes read the wallet from binding
// when they run, so the wallet may be bound after construction.
func New(resolver Resolver, binding *Binding, opts ...Option) *service {
	cfg := config{
		windowSize: DefaultWindowSize,
		onActivity: LogActivity,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		resolver:   resolver,
		binding:    binding,
		windowSize: cfg.windowSize,
		onActivity: cfg.onActivity,
		sink:       cfg.sink,
		entries:    make(map[connregistry.CurrencyID][]Entry),
	}
}

// WithWindowSize sets the number of indices subscribed per chain. Zero is ignored.
func WithWindowSize(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.windowSize = n
		}
	}
}

// WithActivityHandler replaces the default logging handler.
func WithActivityHandler(h ActivityHandler) Option {
	return func(c *config) {
		if h != nil {
			c.onActivity = h
		}
	}
}

// WithActivitySink forwards every activity to sink after the handler.
func WithActivitySink(sink ActivitySink) Option {
	return func(c *config) {
		c.sink = sink
	}
}
