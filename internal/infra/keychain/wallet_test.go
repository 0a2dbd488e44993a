package keychain

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/gabapcia/coinconn/internal/addrsub"
	"github.com/gabapcia/coinconn/internal/pkg/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaster(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()

	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x2a}, 32), &chaincfg.MainNetParams)
	require.NoError(t, err)

	// m/44'/0'/0'
	account := master
	for _, i := range []uint32{44, 0, 0} {
		account, err = account.Child(hdkeychain.HardenedKeyStart + i)
		require.NoError(t, err)
	}
	return account
}

func testXpub(t *testing.T) string {
	t.Helper()

	pub, err := testMaster(t).Neuter()
	require.NoError(t, err)
	return pub.String()
}

func expectedAddress(t *testing.T, chain addrsub.Chain, index uint32, params *chaincfg.Params) string {
	t.Helper()

	branch, err := testMaster(t).Child(uint32(chain))
	require.NoError(t, err)
	key, err := branch.Child(index)
	require.NoError(t, err)
	addr, err := key.Address(params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func TestWallet_AddressAt(t *testing.T) {
	xpub := testXpub(t)

	t.Run("should derive legacy bitcoin addresses per chain and index", func(t *testing.T) {
		w, err := New(Account{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkMainnet})
		require.NoError(t, err)

		external, err := w.AddressAt(t.Context(), "bitcoin", addrsub.External, 3)
		require.NoError(t, err)
		internal, err := w.AddressAt(t.Context(), "bitcoin", addrsub.Internal, 3)
		require.NoError(t, err)

		assert.Equal(t, expectedAddress(t, addrsub.External, 3, &chaincfg.MainNetParams), external)
		assert.Equal(t, expectedAddress(t, addrsub.Internal, 3, &chaincfg.MainNetParams), internal)
		assert.NotEqual(t, external, internal)
		assert.True(t, strings.HasPrefix(external, "1"))
	})

	t.Run("should derive the same address twice", func(t *testing.T) {
		w, err := New(Account{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkMainnet})
		require.NoError(t, err)

		first, err := w.AddressAt(t.Context(), "bitcoin", addrsub.External, 0)
		require.NoError(t, err)
		second, err := w.AddressAt(t.Context(), "bitcoin", addrsub.External, 0)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("should encode litecoin addresses with litecoin magics", func(t *testing.T) {
		w, err := New(Account{Currency: "litecoin", ExtendedKey: xpub, Network: NetworkMainnet})
		require.NoError(t, err)

		addr, err := w.AddressAt(t.Context(), "litecoin", addrsub.External, 1)
		require.NoError(t, err)

		assert.Equal(t, expectedAddress(t, addrsub.External, 1, &litecoinMainNetParams), addr)
		assert.True(t, strings.HasPrefix(addr, "L"))
	})

	t.Run("should encode segwit addresses", func(t *testing.T) {
		w, err := New(Account{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkTestnet, AddressType: AddressP2WPKH})
		require.NoError(t, err)

		addr, err := w.AddressAt(t.Context(), "bitcoin", addrsub.Internal, 7)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(addr, "tb1q"))
		decoded, err := btcutil.DecodeAddress(addr, &chaincfg.TestNet3Params)
		require.NoError(t, err)
		assert.IsType(t, &btcutil.AddressWitnessPubKeyHash{}, decoded)
	})

	t.Run("should neuter private keys", func(t *testing.T) {
		w, err := New(Account{Currency: "bitcoin", ExtendedKey: testMaster(t).String(), Network: NetworkMainnet})
		require.NoError(t, err)

		addr, err := w.AddressAt(t.Context(), "bitcoin", addrsub.External, 0)
		require.NoError(t, err)
		assert.Equal(t, expectedAddress(t, addrsub.External, 0, &chaincfg.MainNetParams), addr)
		assert.False(t, w.accounts["bitcoin"].root.IsPrivate())
	})

	t.Run("should refuse hardened indexes", func(t *testing.T) {
		w, err := New(Account{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkMainnet})
		require.NoError(t, err)

		_, err = w.AddressAt(t.Context(), "bitcoin", addrsub.External, hdkeychain.HardenedKeyStart)
		assert.ErrorIs(t, err, hdkeychain.ErrDeriveHardFromPublic)
	})

	t.Run("should fail for a currency without account", func(t *testing.T) {
		w, err := New(Account{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkMainnet})
		require.NoError(t, err)

		_, err = w.AddressAt(t.Context(), "litecoin", addrsub.External, 0)
		assert.ErrorIs(t, err, ErrNoAccount)
	})
}

func TestNew(t *testing.T) {
	xpub := testXpub(t)

	tests := []struct {
		name     string
		accounts []Account
		wantErr  error
	}{
		{
			name:     "should refuse an unsupported currency",
			accounts: []Account{{Currency: "dogecoin", ExtendedKey: xpub, Network: NetworkMainnet}},
			wantErr:  ErrUnsupportedCurrency,
		},
		{
			name:     "should refuse an unknown network",
			accounts: []Account{{Currency: "litecoin", ExtendedKey: xpub, Network: NetworkRegtest}},
			wantErr:  ErrUnknownNetwork,
		},
		{
			name:     "should refuse an unknown address type",
			accounts: []Account{{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkMainnet, AddressType: "p2tr"}},
			wantErr:  ErrUnsupportedAddressType,
		},
		{
			name: "should refuse two keys for one currency",
			accounts: []Account{
				{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkMainnet},
				{Currency: "bitcoin", ExtendedKey: xpub, Network: NetworkTestnet},
			},
			wantErr: ErrDuplicateAccount,
		},
		{
			name:     "should refuse a missing key",
			accounts: []Account{{Currency: "bitcoin", Network: NetworkMainnet}},
			wantErr:  validator.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.accounts...)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, w)
		})
	}

	t.Run("should refuse a malformed key", func(t *testing.T) {
		w, err := New(Account{Currency: "bitcoin", ExtendedKey: "xpub-not-a-key", Network: NetworkMainnet})

		assert.Error(t, err)
		assert.Nil(t, w)
	})
}

func TestParams(t *testing.T) {
	params, err := Params("litecoin", NetworkTestnet)
	require.NoError(t, err)

	assert.Equal(t, "tltc", params.Bech32HRPSegwit)
	assert.Equal(t, byte(0x6f), params.PubKeyHashAddrID)
	assert.Equal(t, "testnet3", chaincfg.TestNet3Params.Name)
}
