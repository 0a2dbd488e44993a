// Package keychain implements a watch-only wallet deriving addresses from
// BIP32 extended keys. Each currency is backed by one account-level key; the
// external and internal chains are its first two non-hardened children.
package keychain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/gabapcia/coinconn/internal/addrsub"
	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/validator"
)

var (
	// ErrUnsupportedCurrency is returned for a currency without known chain parameters.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrUnknownNetwork is returned for a network name not defined for the currency.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrUnsupportedAddressType is returned for an address type other than p2pkh or p2wpkh.
	ErrUnsupportedAddressType = errors.New("unsupported address type")

	// ErrNoAccount is returned by AddressAt for a currency with no extended key.
	ErrNoAccount = errors.New("no extended key for currency")

	// ErrDuplicateAccount is returned by New when a currency has two keys.
	ErrDuplicateAccount = errors.New("duplicate account")
)

type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"
	AddressP2WPKH AddressType = "p2wpkh"
)

// Account is the extended key watched for one currency. Private keys are
// accepted but neutered right away.
type Account struct {
	Currency    connregistry.CurrencyID `validate:"required"`
	ExtendedKey string                  `validate:"required"`
	Network     string                  `validate:"required"`
	AddressType AddressType
}

type account struct {
	params      *chaincfg.Params
	addressType AddressType
	root        *hdkeychain.ExtendedKey

	mu       sync.Mutex
	branches map[addrsub.Chain]*hdkeychain.ExtendedKey
}

// Wallet is an addrsub.Wallet backed by extended public keys.
type Wallet struct {
	accounts map[connregistry.CurrencyID]*account
}

var _ addrsub.Wallet = (*Wallet)(nil)

func New(accounts ...Account) (*Wallet, error) {
	w := &Wallet{accounts: make(map[connregistry.CurrencyID]*account, len(accounts))}

	for _, acc := range accounts {
		if err := validator.Validate(acc); err != nil {
			return nil, err
		}

		if _, ok := w.accounts[acc.Currency]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAccount, acc.Currency)
		}

		a, err := newAccount(acc)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acc.Currency, err)
		}
		w.accounts[acc.Currency] = a
	}

	return w, nil
}

func newAccount(acc Account) (*account, error) {
	params, err := Params(acc.Currency, acc.Network)
	if err != nil {
		return nil, err
	}

	addressType := acc.AddressType
	switch addressType {
	case "":
		addressType = AddressP2PKH
	case AddressP2PKH, AddressP2WPKH:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAddressType, addressType)
	}

	root, err := hdkeychain.NewKeyFromString(acc.ExtendedKey)
	if err != nil {
		return nil, err
	}

	if root.IsPrivate() {
		if root, err = root.Neuter(); err != nil {
			return nil, err
		}
	}

	return &account{
		params:      params,
		addressType: addressType,
		root:        root,
		branches:    make(map[addrsub.Chain]*hdkeychain.ExtendedKey, 2),
	}, nil
}

// AddressAt derives the address at chain/index of the currency's account.
func (w *Wallet) AddressAt(_ context.Context, currency connregistry.CurrencyID, chain addrsub.Chain, index uint32) (string, error) {
	a, ok := w.accounts[currency]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoAccount, currency)
	}

	branch, err := a.branch(chain)
	if err != nil {
		return "", err
	}

	key, err := branch.Child(index)
	if err != nil {
		return "", fmt.Errorf("derive %s/%d: %w", chain, index, err)
	}

	return a.encode(key)
}

func (a *account) branch(chain addrsub.Chain) (*hdkeychain.ExtendedKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if key, ok := a.branches[chain]; ok {
		return key, nil
	}

	key, err := a.root.Child(uint32(chain))
	if err != nil {
		return nil, fmt.Errorf("derive %s chain: %w", chain, err)
	}

	a.branches[chain] = key
	return key, nil
}

func (a *account) encode(key *hdkeychain.ExtendedKey) (string, error) {
	if a.addressType == AddressP2PKH {
		addr, err := key.Address(a.params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return "", err
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), a.params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
