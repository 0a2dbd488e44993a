package addrsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gabapcia/coinconn/internal/connregistry"
)

var (
	// ErrWalletNotBound is returned while no wallet has been bound yet.
	ErrWalletNotBound = errors.New("wallet not bound")

	// ErrWalletAlreadyBound is returned by Bind after the first successful bind.
	ErrWalletAlreadyBound = errors.New("wallet already bound")

	// ErrNilWallet is returned by Bind when given a nil wallet.
	ErrNilWallet = errors.New("nil wallet")
)

// Chain is a derivation branch of a wallet.
type Chain uint32

const (
	External Chain = 0 // receiving addresses
	Internal Chain = 1 // change addresses
)

func (c Chain) String() string {
	switch c {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("chain(%d)", uint32(c))
	}
}

// Wallet derives the addresses watched for a currency.
type Wallet interface {
	AddressAt(ctx context.Context, currency connregistry.CurrencyID, chain Chain, index uint32) (string, error)
}

// Binding holds the wallet once it becomes available. It is set at most once.
type Binding struct {
	mu     sync.RWMutex
	wallet Wallet
}

// Bind sets the wallet. Only the first call succeeds.
func (b *Binding) Bind(w Wallet) error {
	if w == nil {
		return ErrNilWallet
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wallet != nil {
		return ErrWalletAlreadyBound
	}

	b.wallet = w
	return nil
}

// Wallet returns the bound wallet or ErrWalletNotBound.
func (b *Binding) Wallet() (Wallet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.wallet == nil {
		return nil, ErrWalletNotBound
	}
	return b.wallet, nil
}
