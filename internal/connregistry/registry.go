// Package connregistry owns the per-currency connections of the wallet. It
// keeps a one-to-one mapping between a currency and its Connection, built
// once at construction and never mutated afterwards, so lookups are safe
// from any goroutine without locking.
package connregistry

import (
	"errors"
	"fmt"
	"iter"

	"github.com/gabapcia/coinconn/internal/pkg/validator"
)

var (
	// ErrConfiguration is the root of every registry misuse error.
	ErrConfiguration = errors.New("configuration error")

	// ErrDuplicateCurrency is returned when the same currency is configured twice.
	ErrDuplicateCurrency = fmt.Errorf("%w: duplicate currency", ErrConfiguration)

	// ErrUnknownCurrency is returned by Get for a currency that was never registered.
	ErrUnknownCurrency = fmt.Errorf("%w: unknown currency", ErrConfiguration)

	// ErrForeignConnection is returned by OwnerOf for a connection this registry does not own.
	ErrForeignConnection = fmt.Errorf("%w: connection not owned by registry", ErrConfiguration)
)

// CurrencyID identifies one supported ledger (e.g. "bitcoin").
type CurrencyID string

// CoinServers is one configuration entry: a currency and its candidate
// endpoints, first preference first.
type CoinServers struct {
	Currency  CurrencyID `validate:"required"`
	Endpoints []string   `validate:"required,min=1,dive,electrum_endpoint"`
}

// Registry is the immutable bidirectional mapping CurrencyID <-> Connection.
type Registry struct {
	order       []CurrencyID
	connections map[CurrencyID]Connection
	owners      map[Connection]CurrencyID
}

// New creates one Connection per entry using factory. Entries are validated
// and duplicates are rejected before any connection is built.
func New(coins []CoinServers, factory Factory) (*Registry, error) {
	seen := make(map[CurrencyID]struct{}, len(coins))
	for _, coin := range coins {
		if err := validator.Validate(coin); err != nil {
			return nil, errors.Join(ErrConfiguration, err)
		}

		if _, ok := seen[coin.Currency]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCurrency, coin.Currency)
		}
		seen[coin.Currency] = struct{}{}
	}

	r := &Registry{
		order:       make([]CurrencyID, 0, len(coins)),
		connections: make(map[CurrencyID]Connection, len(coins)),
		owners:      make(map[Connection]CurrencyID, len(coins)),
	}

	for _, coin := range coins {
		conn, err := factory(coin.Currency, coin.Endpoints)
		if err != nil {
			r.discard()
			return nil, fmt.Errorf("%w: build connection for %s: %w", ErrConfiguration, coin.Currency, err)
		}

		if _, ok := r.owners[conn]; ok {
			r.discard()
			return nil, fmt.Errorf("%w: factory reused a connection for %s", ErrConfiguration, coin.Currency)
		}

		r.order = append(r.order, coin.Currency)
		r.connections[coin.Currency] = conn
		r.owners[conn] = coin.Currency
	}

	return r, nil
}

// discard stops the connections built before New gave up.
func (r *Registry) discard() {
	for _, currency := range r.order {
		r.connections[currency].Stop()
	}
}

// Get returns the connection of currency.
func (r *Registry) Get(currency CurrencyID) (Connection, error) {
	conn, ok := r.connections[currency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}

	return conn, nil
}

// OwnerOf returns the currency that owns conn.
func (r *Registry) OwnerOf(conn Connection) (CurrencyID, error) {
	currency, ok := r.owners[conn]
	if !ok {
		return "", ErrForeignConnection
	}

	return currency, nil
}

// Currencies returns the registered currencies in configuration order.
func (r *Registry) Currencies() []CurrencyID {
	out := make([]CurrencyID, len(r.order))
	copy(out, r.order)
	return out
}

// All iterates currencies and their connections in configuration order.
func (r *Registry) All() iter.Seq2[CurrencyID, Connection] {
	return func(yield func(CurrencyID, Connection) bool) {
		for _, currency := range r.order {
			if !yield(currency, r.connections[currency]) {
				return
			}
		}
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.order)
}
